package models

import (
	"context"
	"time"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/foreman/internal/config"
)

const defaultOpenAITimeout = 60 * time.Second

// NewOpenAI creates an OpenAI-compatible chat model.
func NewOpenAI(ctx context.Context, cfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	return einoopenai.NewChatModel(ctx, openAIConfig(cfg, apiKey))
}

func openAIConfig(cfg config.ProviderConfig, apiKey string) *einoopenai.ChatModelConfig {
	mc := &einoopenai.ChatModelConfig{
		APIKey:  apiKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout.Duration(),
	}
	if mc.Timeout <= 0 {
		mc.Timeout = defaultOpenAITimeout
	}
	if cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		mc.MaxCompletionTokens = &n
	}
	if temp, ok := cfg.Options["temperature"].(float64); ok {
		t := float32(temp)
		mc.Temperature = &t
	}
	return mc
}
