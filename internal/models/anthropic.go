package models

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/foreman/internal/config"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultAnthropicMaxTokens = 4096
)

// NewAnthropic creates a Claude chat model.
func NewAnthropic(ctx context.Context, cfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	return claude.NewChatModel(ctx, anthropicConfig(cfg, apiKey))
}

func anthropicConfig(cfg config.ProviderConfig, apiKey string) *claude.Config {
	cc := &claude.Config{
		APIKey:    apiKey,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
	}
	if cc.Model == "" {
		cc.Model = defaultAnthropicModel
	}
	// the messages API requires max_tokens
	if cc.MaxTokens <= 0 {
		cc.MaxTokens = defaultAnthropicMaxTokens
	}
	if cfg.BaseURL != "" {
		u := cfg.BaseURL
		cc.BaseURL = &u
	}
	if temp, ok := cfg.Options["temperature"].(float64); ok {
		t := float32(temp)
		cc.Temperature = &t
	}
	return cc
}
