package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/l0p7/blockpanel/internal/actions"
	"github.com/l0p7/blockpanel/internal/activity"
	"github.com/l0p7/blockpanel/internal/config"
	"github.com/l0p7/blockpanel/internal/dispatch"
	"github.com/l0p7/blockpanel/internal/expr"
	"github.com/l0p7/blockpanel/internal/logging"
	"github.com/l0p7/blockpanel/internal/metrics"
	"github.com/l0p7/blockpanel/internal/panel"
	"github.com/l0p7/blockpanel/internal/server"
	"github.com/l0p7/blockpanel/internal/templates"
	"github.com/prometheus/client_golang/prometheus"
)

type configLoader interface {
	Load(context.Context) (config.Config, error)
}

type runnableServer interface {
	Run(context.Context) error
}

var newConfigLoader = func(envPrefix, configFile string) configLoader {
	return config.NewLoader(envPrefix, configFile)
}

var newHTTPServer = func(cfg config.Config, logger *slog.Logger, handler http.Handler) (runnableServer, error) {
	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		return nil, err
	}
	return srv, nil
}

func main() {
	var (
		configFile = flag.String("config", "", "path to panel configuration file (yaml, json or toml)")
		envPrefix  = flag.String("env-prefix", "BLOCKPANEL", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("blockpanel: %v", err)
	}
}

// run resolves configuration once, builds every component and serves until
// ctx is cancelled.
func run(ctx context.Context, envPrefix, configFile string) error {
	cfg, err := newConfigLoader(envPrefix, configFile).Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	logger.Info("configuration loaded",
		slog.String("api_base", cfg.API.BaseURL),
		slog.Any("sources", cfg.Sources),
	)

	metricsRecorder := metrics.NewRecorder(prometheus.NewRegistry())

	client := dispatch.New(cfg.API.BaseURL, dispatch.Options{
		Logger:            logger,
		Metrics:           metricsRecorder,
		DefaultTimeout:    seconds(cfg.API.TimeoutSeconds),
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
	})

	activityLog := buildActivityLog(logger.With(slog.String("agent", "activity_factory")), cfg.Server.Activity)
	if activityLog != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := activityLog.Close(shutdownCtx); err != nil {
				logger.Error("activity log shutdown failed", slog.Any("error", err))
			}
		}()
	}

	pages, stopWatch, err := buildPages(ctx, logger.With(slog.String("agent", "templates")), cfg.Server.Templates)
	if err != nil {
		return fmt.Errorf("compile pages: %w", err)
	}
	defer stopWatch()

	env, err := expr.NewEnvironment()
	if err != nil {
		return fmt.Errorf("build expression environment: %w", err)
	}
	catalog, err := actions.NewCatalog(actions.Options{
		Dispatcher:     client,
		Activity:       activityLog,
		Metrics:        metricsRecorder,
		Logger:         logger,
		Renderer:       templates.NewRenderer(),
		Environment:    env,
		Timeout:        seconds(cfg.API.TimeoutSeconds),
		WebhookURL:     cfg.Webhook.URL,
		WebhookTimeout: seconds(cfg.Webhook.TimeoutSeconds),
		Overrides:      cfg.Actions,
	})
	if err != nil {
		return fmt.Errorf("build action catalog: %w", err)
	}

	p, err := panel.New(panel.Options{
		Title:         cfg.Server.Title,
		Catalog:       catalog,
		Diagnoser:     client,
		Activity:      activityLog,
		ActivityLimit: cfg.Server.Activity.Limit,
		Pages:         pages,
		Logger:        logger,
		HealthTimeout: seconds(cfg.API.HealthTimeoutSeconds),
		ProbeTimeout:  seconds(cfg.API.ProbeTimeoutSeconds),
	})
	if err != nil {
		return fmt.Errorf("build panel: %w", err)
	}

	srv, err := newHTTPServer(cfg, logger, server.NewPanelHandler(p, metricsRecorder.Handler()))
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := srv.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("server shutdown complete")
		}
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func buildActivityLog(logger *slog.Logger, cfg config.ActivityConfig) activity.Log {
	limit := cfg.Limit
	if limit <= 0 {
		limit = activity.DefaultLimit
	}
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory activity log", slog.Int("limit", limit))
		}
		return activity.NewMemory(limit)
	case "none":
		if logger != nil {
			logger.Info("activity log disabled")
		}
		return nil
	case "redis":
		redisLog, err := activity.NewRedis(activity.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			Limit:    limit,
			TLS: activity.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("redis activity log initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory activity log")
			}
			return activity.NewMemory(limit)
		}
		if logger != nil {
			logger.Info("using redis activity log", slog.String("address", cfg.Redis.Address))
		}
		return redisLog
	default:
		if logger != nil {
			logger.Warn("unsupported activity backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return activity.NewMemory(limit)
	}
}

// buildPages compiles the HTML pages, preferring overrides from the
// configured folder. Any override problem degrades to the embedded pages.
func buildPages(ctx context.Context, logger *slog.Logger, cfg config.TemplatesConfig) (*templates.Pages, func(), error) {
	noop := func() {}
	var sandbox *templates.Sandbox
	if folder := strings.TrimSpace(cfg.TemplatesFolder); folder != "" {
		sb, err := templates.NewSandbox(folder)
		if err != nil {
			logger.Warn("template sandbox setup failed", slog.String("templates_folder", folder), slog.Any("error", err))
		} else {
			sandbox = sb
		}
	}

	pages, err := templates.NewPages(sandbox)
	if err != nil && sandbox != nil {
		logger.Warn("template overrides rejected, using embedded pages", slog.Any("error", err))
		sandbox = nil
		pages, err = templates.NewPages(nil)
	}
	if err != nil {
		return nil, noop, err
	}

	if sandbox == nil || !cfg.Watch {
		return pages, noop, nil
	}
	watcher, err := pages.Watch(ctx, func(err error) {
		if err != nil {
			logger.Error("template reload failed", slog.Any("error", err))
			return
		}
		logger.Info("templates reloaded", slog.String("templates_folder", sandbox.Root()))
	})
	if err != nil {
		logger.Error("template watcher setup failed", slog.Any("error", err))
		return pages, noop, nil
	}
	return pages, watcher.Stop, nil
}
