package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/dohr-michael/steward/internal/config"
)

// ResolvedAuth holds the resolved API key.
type ResolvedAuth struct {
	Value string
}

// driverEnv lists the environment variables consulted per driver, in order.
var driverEnv = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"claude":    {"ANTHROPIC_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// ResolveAuth resolves the credentials for a provider.
// Resolution order: direct api_key (or ${VAR}) → driver default env.
func ResolveAuth(cfg config.ProviderConfig) (ResolvedAuth, error) {
	if key := resolve(cfg.Auth.APIKey); key != "" {
		return ResolvedAuth{Value: key}, nil
	}

	vars, ok := driverEnv[strings.ToLower(cfg.Driver)]
	if !ok {
		return ResolvedAuth{}, fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
	for _, v := range vars {
		if key := os.Getenv(v); key != "" {
			return ResolvedAuth{Value: key}, nil
		}
	}
	return ResolvedAuth{}, fmt.Errorf("%s not set", vars[0])
}

func resolve(token string) string {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
		return os.Getenv(trimmed[2 : len(trimmed)-1])
	}
	return trimmed
}
