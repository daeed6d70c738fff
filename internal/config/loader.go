package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// standardizes it to JSON, unmarshals it into Config, applies STEWARD_*
// environment overrides and defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		// Expand environment variable templates (before standardizing, since templates are in strings)
		expanded := expandEnvTemplates(string(data))

		std, err := hujson.Standardize([]byte(expanded))
		if err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if err := json.Unmarshal(std, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// Env holds the STEWARD_* overrides. Unset variables leave the file value.
type Env struct {
	GatewayHost  string        `envconfig:"GATEWAY_HOST"`
	GatewayPort  int           `envconfig:"GATEWAY_PORT"`
	Model        string        `envconfig:"MODEL"`
	LogLevel     string        `envconfig:"LOG_LEVEL"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL"`
	StaleAfter   time.Duration `envconfig:"STALE_AFTER"`
	Database     string        `envconfig:"DATABASE"`
	Permissions  string        `envconfig:"PERMISSIONS"`
}

const namespace = "STEWARD"

func applyEnv(cfg *Config) error {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return fmt.Errorf("load env: %w", err)
	}
	if env.GatewayHost != "" {
		cfg.Gateway.Host = env.GatewayHost
	}
	if env.GatewayPort != 0 {
		cfg.Gateway.Port = env.GatewayPort
	}
	if env.Model != "" {
		cfg.Models.Default = env.Model
	}
	if env.LogLevel != "" {
		cfg.Events.LogLevel = env.LogLevel
	}
	if env.PollInterval > 0 {
		cfg.Worker.PollInterval = Duration(env.PollInterval)
	}
	if env.StaleAfter > 0 {
		cfg.Worker.StaleAfter = Duration(env.StaleAfter)
	}
	if env.Database != "" {
		cfg.Storage.Path = env.Database
	}
	if env.Permissions != "" {
		cfg.Permissions.Path = env.Permissions
	}
	return nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18420
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Events.LogLevel == "" {
		cfg.Events.LogLevel = "info"
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = 20
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = Duration(5 * time.Second)
	}
	if cfg.Worker.StaleAfter == 0 {
		cfg.Worker.StaleAfter = Duration(30 * time.Minute)
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DatabasePath()
	}
	if cfg.Permissions.Path == "" {
		cfg.Permissions.Path = PermissionsPath()
	}
	// Auth resolution is deferred to models.ResolveAuth() at model init time.
}
