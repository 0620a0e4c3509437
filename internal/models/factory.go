// Package models builds eino chat models from provider configuration.
package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/foreman/internal/config"
)

// Supported drivers.
const (
	DriverOpenAI    = "openai"
	DriverOllama    = "ollama"
	DriverAnthropic = "anthropic"
	DriverGemini    = "gemini"
)

// CreateModel creates a chat model from a provider config.
func CreateModel(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	switch strings.ToLower(cfg.Driver) {
	case DriverOpenAI:
		key, err := ResolveAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		return NewOpenAI(ctx, cfg, key)
	case DriverOllama:
		return NewOllama(ctx, cfg)
	case DriverAnthropic:
		key, err := ResolveAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		return NewAnthropic(ctx, cfg, key)
	case DriverGemini:
		key, err := ResolveAPIKey(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve auth: %w", err)
		}
		return NewGemini(ctx, cfg, key)
	default:
		return nil, fmt.Errorf("unknown driver: %s", cfg.Driver)
	}
}
