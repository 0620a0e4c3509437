package models

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	einoollama "github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/foreman/internal/config"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaTimeout = 300 * time.Second
)

// NewOllama creates an Ollama chat model.
func NewOllama(ctx context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	return einoollama.NewChatModel(ctx, ollamaConfig(cfg))
}

func ollamaConfig(cfg config.ProviderConfig) *einoollama.ChatModelConfig {
	mc := &einoollama.ChatModelConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout.Duration(),
	}
	if mc.BaseURL == "" {
		mc.BaseURL = defaultOllamaBaseURL
	}
	if mc.Timeout <= 0 {
		mc.Timeout = defaultOllamaTimeout
	}

	opts := &einoollama.Options{NumPredict: cfg.MaxTokens}
	if v, ok := cfg.Options["temperature"].(float64); ok {
		opts.Temperature = float32(v)
	}
	if v, ok := cfg.Options["num_ctx"].(float64); ok {
		opts.NumCtx = int(v)
	}
	if v, ok := cfg.Options["top_p"].(float64); ok {
		opts.TopP = float32(v)
	}
	mc.Options = opts

	mc.HTTPClient = &http.Client{
		Timeout:   mc.Timeout,
		Transport: &ollamaTransport{inner: http.DefaultTransport, provider: DriverOllama},
	}
	return mc
}

// ollamaTransport turns proxy errors and non-JSON bodies into
// ErrModelUnavailable so callers see why the model is unreachable.
type ollamaTransport struct {
	inner    http.RoundTripper
	provider string
}

func (t *ollamaTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.inner.RoundTrip(req)
	if err != nil {
		return nil, &ErrModelUnavailable{Provider: t.provider, Cause: err}
	}

	ct := resp.Header.Get("Content-Type")
	if resp.StatusCode >= 400 || (ct != "" && !strings.Contains(ct, "json")) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &ErrModelUnavailable{
			Provider: t.provider,
			Status:   resp.StatusCode,
			Body:     strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}
