package models

import (
	"context"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/steward/internal/config"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaTimeout = 300 * time.Second
)

// NewOllama creates an Ollama chat model. Local models are slow to load, hence
// the long default timeout.
func NewOllama(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}

	return einoollama.NewChatModel(ctx, &einoollama.ChatModelConfig{
		BaseURL:    baseURL,
		Model:      cfg.Model,
		Timeout:    timeout,
		HTTPClient: guardedClient("ollama", timeout),
		Options:    ollamaOptions(cfg),
	})
}

// ollamaOptions maps max_tokens and the options block onto Ollama's
// runtime options. options.num_predict wins over max_tokens.
func ollamaOptions(cfg config.ProviderConfig) *einoollama.Options {
	opts := &einoollama.Options{NumPredict: cfg.MaxTokens}
	if v, ok := numberOption(cfg.Options, "temperature"); ok {
		opts.Temperature = float32(v)
	}
	if v, ok := numberOption(cfg.Options, "top_p"); ok {
		opts.TopP = float32(v)
	}
	if v, ok := numberOption(cfg.Options, "top_k"); ok {
		opts.TopK = int(v)
	}
	if v, ok := numberOption(cfg.Options, "num_ctx"); ok {
		opts.NumCtx = int(v)
	}
	if v, ok := numberOption(cfg.Options, "num_predict"); ok {
		opts.NumPredict = int(v)
	}
	return opts
}

// numberOption reads a JSON number from a provider options block.
func numberOption(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
