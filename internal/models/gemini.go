package models

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/dohr-michael/foreman/internal/config"
)

const defaultGeminiModel = "gemini-2.5-flash"

// NewGemini creates a Gemini chat model backed by the Gemini API.
func NewGemini(ctx context.Context, cfg config.ProviderConfig, apiKey string) (model.ToolCallingChatModel, error) {
	client, err := genai.NewClient(ctx, geminiClientConfig(cfg, apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return gemini.NewChatModel(ctx, geminiConfig(cfg, client))
}

func geminiClientConfig(cfg config.ProviderConfig, apiKey string) *genai.ClientConfig {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	return cc
}

func geminiConfig(cfg config.ProviderConfig, client *genai.Client) *gemini.Config {
	gc := &gemini.Config{Client: client, Model: cfg.Model}
	if gc.Model == "" {
		gc.Model = defaultGeminiModel
	}
	if cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		gc.MaxTokens = &n
	}
	if temp, ok := cfg.Options["temperature"].(float64); ok {
		t := float32(temp)
		gc.Temperature = &t
	}
	return gc
}
