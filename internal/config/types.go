package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Config holds every option the panel resolves once at startup.
type Config struct {
	Server  ServerConfig            `koanf:"server"`
	API     APIConfig               `koanf:"api"`
	Webhook WebhookConfig           `koanf:"webhook"`
	Actions map[string]ActionConfig `koanf:"actions"`

	// Sources records which files and secrets contributed values, for the
	// startup log line. It is excluded from koanf.
	Sources []string `koanf:"-"`
}

// ServerConfig collects the listener and presentation knobs.
type ServerConfig struct {
	Listen     ListenConfig    `koanf:"listen"`
	Logging    LoggingConfig   `koanf:"logging"`
	Templates  TemplatesConfig `koanf:"templates"`
	Activity   ActivityConfig  `koanf:"activity"`
	SecretsDir string          `koanf:"secretsDir"`
	Title      string          `koanf:"title"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// TemplatesConfig points at an optional folder of page overrides.
type TemplatesConfig struct {
	TemplatesFolder string `koanf:"templatesFolder"`
	Watch           bool   `koanf:"watch"`
}

// ActivityConfig selects the recent-activity backend.
type ActivityConfig struct {
	Backend string              `koanf:"backend"`
	Limit   int                 `koanf:"limit"`
	Redis   ActivityRedisConfig `koanf:"redis"`
}

type ActivityRedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	Key      string         `koanf:"key"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// APIConfig locates the control plane.
type APIConfig struct {
	BaseURL              string `koanf:"baseURL"`
	TimeoutSeconds       int    `koanf:"timeoutSeconds"`
	HealthTimeoutSeconds int    `koanf:"healthTimeoutSeconds"`
	ProbeTimeoutSeconds  int    `koanf:"probeTimeoutSeconds"`
}

// WebhookConfig locates the cancellation-recovery workflow.
type WebhookConfig struct {
	URL            string `koanf:"url"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// ActionConfig overrides a built-in action. Nil Available keeps the default.
type ActionConfig struct {
	Available      *bool  `koanf:"available"`
	Path           string `koanf:"path"`
	URL            string `koanf:"url"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
	SuccessWhen    string `koanf:"successWhen"`
	SuccessMessage string `koanf:"successMessage"`
	FailureMessage string `koanf:"failureMessage"`
}

// DefaultBaseURL is used when neither file, env nor secrets name a control plane.
const DefaultBaseURL = "https://api-bloqueio-production.up.railway.app"

// DefaultWebhookURL receives cancellation-recovery requests.
const DefaultWebhookURL = "https://webhook.letalk.com.br/40dcf853-2283-40e5-b71d-d682a6864892"

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if err := validateHTTPURL("api.baseURL", c.API.BaseURL); err != nil {
		return err
	}
	if c.Webhook.URL != "" {
		if err := validateHTTPURL("webhook.url", c.Webhook.URL); err != nil {
			return err
		}
	}
	for name, value := range map[string]int{
		"api.timeoutSeconds":       c.API.TimeoutSeconds,
		"api.healthTimeoutSeconds": c.API.HealthTimeoutSeconds,
		"api.probeTimeoutSeconds":  c.API.ProbeTimeoutSeconds,
		"webhook.timeoutSeconds":   c.Webhook.TimeoutSeconds,
		"server.activity.limit":    c.Server.Activity.Limit,
	} {
		if value < 0 {
			return fmt.Errorf("config: %s invalid: %d", name, value)
		}
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Activity.Backend))
	switch backend {
	case "", "memory", "none":
	case "redis":
		if strings.TrimSpace(c.Server.Activity.Redis.Address) == "" {
			return errors.New("config: server.activity.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.activity.backend unsupported: %s", c.Server.Activity.Backend)
	}
	for name, action := range c.Actions {
		if action.TimeoutSeconds < 0 {
			return fmt.Errorf("config: actions.%s.timeoutSeconds invalid: %d", name, action.TimeoutSeconds)
		}
		if action.Path != "" && !strings.HasPrefix(action.Path, "/") {
			return fmt.Errorf("config: actions.%s.path must start with /: %s", name, action.Path)
		}
		if action.URL != "" {
			if err := validateHTTPURL("actions."+name+".url", action.URL); err != nil {
				return err
			}
		}
	}
	return nil
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8501,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			Activity: ActivityConfig{
				Backend: "memory",
				Limit:   50,
			},
			SecretsDir: "/run/secrets",
			Title:      "Painel Letalk – Bloqueios e Avisos",
		},
		API: APIConfig{
			BaseURL:              DefaultBaseURL,
			TimeoutSeconds:       90,
			HealthTimeoutSeconds: 10,
			ProbeTimeoutSeconds:  15,
		},
		Webhook: WebhookConfig{
			URL:            DefaultWebhookURL,
			TimeoutSeconds: 60,
		},
	}
}

func validateHTTPURL(field, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("config: %s required", field)
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return fmt.Errorf("config: %s invalid: %w", field, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("config: %s must use http or https: %s", field, raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("config: %s missing host: %s", field, raw)
	}
	return nil
}
