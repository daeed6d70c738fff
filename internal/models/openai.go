package models

import (
	"context"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/steward/internal/config"
)

const defaultOpenAITimeout = 60 * time.Second

// NewOpenAI creates an OpenAI chat model. BaseURL lets it target any
// OpenAI-compatible endpoint.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, auth ResolvedAuth) (model.ToolCallingChatModel, error) {
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultOpenAITimeout
	}

	modelConfig := &einoopenai.ChatModelConfig{
		APIKey:     auth.Value,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		HTTPClient: guardedClient("openai", timeout),
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelConfig.MaxCompletionTokens = &maxTokens
	}
	if v, ok := numberOption(cfg.Options, "temperature"); ok {
		t := float32(v)
		modelConfig.Temperature = &t
	}

	return einoopenai.NewChatModel(ctx, modelConfig)
}
