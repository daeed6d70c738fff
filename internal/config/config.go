package config

import "time"

// Config is the root configuration for Steward.
type Config struct {
	Gateway     GatewayConfig     `json:"gateway"`
	Models      ModelsConfig      `json:"models"`
	Events      EventsConfig      `json:"events"`
	Agent       AgentConfig       `json:"agent"`
	Worker      WorkerConfig      `json:"worker"`
	Storage     StorageConfig     `json:"storage"`
	Permissions PermissionsConfig `json:"permissions"`
	Schedules   []ScheduleConfig  `json:"schedules,omitempty"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	// AllowedOrigins enables CORS for browser clients, e.g. "http://localhost:5173".
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string         `json:"driver"` // "openai", "claude", "ollama", "gemini"
	Model     string         `json:"model"`
	BaseURL   string         `json:"base_url,omitempty"`
	Auth      AuthConfig     `json:"auth"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Timeout   Duration       `json:"timeout,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogLevel   string `json:"log_level"`
}

// AgentConfig configures the action graph.
type AgentConfig struct {
	Instruction   string `json:"instruction,omitempty"`
	MaxIterations int    `json:"max_iterations,omitempty"`
}

// WorkerConfig tunes the autonomous task loop.
type WorkerConfig struct {
	PollInterval Duration `json:"poll_interval"`
	StaleAfter   Duration `json:"stale_after"`
	Owner        string   `json:"owner,omitempty"`
}

// StorageConfig locates the relational store.
type StorageConfig struct {
	Path string `json:"path"`
}

// PermissionsConfig locates the permission rule document.
type PermissionsConfig struct {
	Path string `json:"path"`
}

// ScheduleConfig declares a recurring task producer.
type ScheduleConfig struct {
	Cron        string   `json:"cron"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
