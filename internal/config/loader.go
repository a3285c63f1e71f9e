package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LegacyBaseURLEnv is the unprefixed variable older deployments use for the
// control-plane URL.
const LegacyBaseURLEnv = "API_BASE"

// secretKeys maps secret file names to the config key they populate.
var secretKeys = []struct {
	names []string
	key   string
}{
	{names: []string{"API_BASE", "api_base"}, key: "api.baseURL"},
	{names: []string{"WEBHOOK_URL", "webhook_url"}, key: "webhook.url"},
}

// Loader hydrates the configuration with defaults < file < env < secrets precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator for the given env prefix and files.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot. The result is meant to be resolved
// once at startup and injected into every component.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")
	var sources []string

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}
	canonical := make(map[string]string)
	for _, key := range k.Keys() {
		canonical[strings.ToLower(key)] = key
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
		sources = append(sources, path)
	}

	if legacy := strings.TrimSpace(os.Getenv(LegacyBaseURLEnv)); legacy != "" {
		if err := k.Set("api.baseURL", legacy); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", LegacyBaseURLEnv, err)
		}
		sources = append(sources, "env:"+LegacyBaseURLEnv)
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			return envKey(strings.TrimPrefix(s, l.envPrefix+"_"), canonical)
		}
		if err := k.Load(env.Provider(l.envPrefix+"_", ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	secretSources, err := loadSecrets(k, k.String("server.secretsDir"))
	if err != nil {
		return Config{}, err
	}
	sources = append(sources, secretSources...)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	cfg.Sources = sources
	return cfg, nil
}

// envKey converts an unprefixed variable name into a koanf path. Double
// underscores signal nesting (SERVER__LISTEN__PORT -> server.listen.port);
// single underscores are removed so API__BASE_URL still reaches api.baseURL.
// Action names keep their underscores (ACTIONS__NOTIFY_OVERDUE__AVAILABLE).
func envKey(name string, canonical map[string]string) string {
	parts := strings.Split(strings.ToLower(name), "__")
	for i, part := range parts {
		if i == 1 && parts[0] == "actions" {
			continue
		}
		parts[i] = strings.ReplaceAll(part, "_", "")
	}
	key := strings.Join(parts, ".")
	if mapped, ok := canonical[key]; ok {
		return mapped
	}
	return key
}

// loadSecrets applies mounted secret files, which take precedence over every
// other source. A missing directory is not an error.
func loadSecrets(k *koanf.Koanf, dir string) ([]string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, nil
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, nil
	}
	var sources []string
	for _, secret := range secretKeys {
		for _, name := range secret.names {
			path := filepath.Join(dir, name)
			contents, err := os.ReadFile(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, fmt.Errorf("config: read secret %s: %w", path, err)
			}
			value := strings.TrimSpace(string(contents))
			if value == "" {
				continue
			}
			if err := k.Set(secret.key, value); err != nil {
				return nil, fmt.Errorf("config: apply secret %s: %w", path, err)
			}
			sources = append(sources, path)
			break
		}
	}
	return sources, nil
}

func parserFor(path string) (koanf.Parser, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension %s", ext)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"templates": map[string]any{
				"templatesFolder": cfg.Server.Templates.TemplatesFolder,
				"watch":           cfg.Server.Templates.Watch,
			},
			"activity": map[string]any{
				"backend": cfg.Server.Activity.Backend,
				"limit":   cfg.Server.Activity.Limit,
				"redis": map[string]any{
					"address":  cfg.Server.Activity.Redis.Address,
					"username": cfg.Server.Activity.Redis.Username,
					"password": cfg.Server.Activity.Redis.Password,
					"db":       cfg.Server.Activity.Redis.DB,
					"key":      cfg.Server.Activity.Redis.Key,
					"tls": map[string]any{
						"enabled": cfg.Server.Activity.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Activity.Redis.TLS.CAFile,
					},
				},
			},
			"secretsDir": cfg.Server.SecretsDir,
			"title":      cfg.Server.Title,
		},
		"api": map[string]any{
			"baseURL":              cfg.API.BaseURL,
			"timeoutSeconds":       cfg.API.TimeoutSeconds,
			"healthTimeoutSeconds": cfg.API.HealthTimeoutSeconds,
			"probeTimeoutSeconds":  cfg.API.ProbeTimeoutSeconds,
		},
		"webhook": map[string]any{
			"url":            cfg.Webhook.URL,
			"timeoutSeconds": cfg.Webhook.TimeoutSeconds,
		},
	}
}
