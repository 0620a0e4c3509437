package memory

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/embedding"

	einoollama "github.com/cloudwego/eino-ext/components/embedding/ollama"
	einoopenai "github.com/cloudwego/eino-ext/components/embedding/openai"

	"github.com/dohr-michael/foreman/internal/config"
)

const defaultOllamaEmbeddingURL = "http://localhost:11434"

// NewEmbedder creates an Eino Embedder from the embedding config.
// Supported drivers: "openai", "ollama".
func NewEmbedder(ctx context.Context, cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch strings.ToLower(cfg.Driver) {
	case "openai":
		apiKey := embeddingAPIKey(cfg)
		if apiKey == "" {
			return nil, fmt.Errorf("openai embedding: API key not configured (set auth.api_key or OPENAI_API_KEY)")
		}
		return einoopenai.NewEmbedder(ctx, openAIEmbeddingConfig(cfg, apiKey))
	case "ollama":
		return einoollama.NewEmbedder(ctx, ollamaEmbeddingConfig(cfg))
	default:
		return nil, fmt.Errorf("unsupported embedding driver %q (supported: openai, ollama)", cfg.Driver)
	}
}

func openAIEmbeddingConfig(cfg config.EmbeddingConfig, apiKey string) *einoopenai.EmbeddingConfig {
	ecfg := &einoopenai.EmbeddingConfig{
		APIKey:  apiKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	}
	if cfg.Dims > 0 {
		dims := cfg.Dims
		ecfg.Dimensions = &dims
	}
	return ecfg
}

func ollamaEmbeddingConfig(cfg config.EmbeddingConfig) *einoollama.EmbeddingConfig {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaEmbeddingURL
	}
	return &einoollama.EmbeddingConfig{BaseURL: baseURL, Model: cfg.Model}
}

// embeddingAPIKey resolves a literal key, a ${VAR} reference, or
// OPENAI_API_KEY for the openai driver.
func embeddingAPIKey(cfg config.EmbeddingConfig) string {
	key := strings.TrimSpace(cfg.Auth.APIKey)
	if key != "" {
		if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
			return os.Getenv(key[2 : len(key)-1])
		}
		return key
	}
	if strings.EqualFold(cfg.Driver, "openai") {
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}
