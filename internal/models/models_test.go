package models

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"

	"github.com/dohr-michael/foreman/internal/config"
)

func TestResolveAPIKeyLiteral(t *testing.T) {
	key, err := ResolveAPIKey(config.ProviderConfig{
		Driver: DriverOpenAI,
		Auth:   config.AuthConfig{APIKey: "sk-test-123"},
	})
	if err != nil || key != "sk-test-123" {
		t.Fatalf("got %q, %v", key, err)
	}
}

func TestResolveAPIKeyEnvReference(t *testing.T) {
	t.Setenv("FOREMAN_LLM_KEY", "from-env")
	key, err := ResolveAPIKey(config.ProviderConfig{
		Driver: DriverOpenAI,
		Auth:   config.AuthConfig{APIKey: "${FOREMAN_LLM_KEY}"},
	})
	if err != nil || key != "from-env" {
		t.Fatalf("got %q, %v", key, err)
	}
}

func TestResolveAPIKeyDriverFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "openai-env")
	key, err := ResolveAPIKey(config.ProviderConfig{Driver: "OpenAI"})
	if err != nil || key != "openai-env" {
		t.Fatalf("got %q, %v", key, err)
	}
}

func TestResolveAPIKeyMissing(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := ResolveAPIKey(config.ProviderConfig{Driver: DriverOpenAI}); err == nil {
		t.Fatal("expected error when no key is available")
	}
	if _, err := ResolveAPIKey(config.ProviderConfig{Driver: "mystery"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestResolveAPIKeyOllamaNeedsNone(t *testing.T) {
	key, err := ResolveAPIKey(config.ProviderConfig{Driver: DriverOllama})
	if err != nil || key != "" {
		t.Fatalf("got %q, %v", key, err)
	}
}

func TestCreateModelUnknownDriver(t *testing.T) {
	_, err := CreateModel(context.Background(), config.ProviderConfig{Driver: "mystery"})
	if err == nil || !strings.Contains(err.Error(), "unknown driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
}

func TestOpenAIConfig(t *testing.T) {
	mc := openAIConfig(config.ProviderConfig{
		Model:     "gpt-4o-mini",
		BaseURL:   "https://llm.internal/v1",
		MaxTokens: 1024,
		Options:   map[string]any{"temperature": 0.1},
	}, "sk-x")

	if mc.APIKey != "sk-x" || mc.Model != "gpt-4o-mini" || mc.BaseURL != "https://llm.internal/v1" {
		t.Fatalf("unexpected config: %+v", mc)
	}
	if mc.Timeout != defaultOpenAITimeout {
		t.Fatalf("timeout = %v", mc.Timeout)
	}
	if mc.MaxCompletionTokens == nil || *mc.MaxCompletionTokens != 1024 {
		t.Fatalf("max tokens = %v", mc.MaxCompletionTokens)
	}
	if mc.Temperature == nil || *mc.Temperature != float32(0.1) {
		t.Fatalf("temperature = %v", mc.Temperature)
	}
}

func TestResolveAPIKeyHostedDrivers(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	if _, err := ResolveAPIKey(config.ProviderConfig{Driver: DriverAnthropic}); err == nil {
		t.Fatal("expected error without ANTHROPIC_API_KEY")
	}
	t.Setenv("ANTHROPIC_API_KEY", "ak")
	if key, err := ResolveAPIKey(config.ProviderConfig{Driver: DriverAnthropic}); err != nil || key != "ak" {
		t.Fatalf("got %q, %v", key, err)
	}

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "gk")
	if key, err := ResolveAPIKey(config.ProviderConfig{Driver: DriverGemini}); err != nil || key != "gk" {
		t.Fatalf("got %q, %v", key, err)
	}
}

func TestAnthropicConfig(t *testing.T) {
	cc := anthropicConfig(config.ProviderConfig{Options: map[string]any{"temperature": 0.2}}, "ak")
	if cc.Model != defaultAnthropicModel || cc.MaxTokens != defaultAnthropicMaxTokens || cc.APIKey != "ak" {
		t.Fatalf("unexpected defaults: %+v", cc)
	}
	if cc.BaseURL != nil {
		t.Fatalf("expected no base URL, got %q", *cc.BaseURL)
	}
	if cc.Temperature == nil || *cc.Temperature != float32(0.2) {
		t.Fatalf("temperature = %v", cc.Temperature)
	}

	cc = anthropicConfig(config.ProviderConfig{Model: "claude-haiku", MaxTokens: 512, BaseURL: "https://proxy"}, "ak")
	if cc.Model != "claude-haiku" || cc.MaxTokens != 512 || cc.BaseURL == nil || *cc.BaseURL != "https://proxy" {
		t.Fatalf("unexpected config: %+v", cc)
	}
}

func TestGeminiConfig(t *testing.T) {
	gc := geminiConfig(config.ProviderConfig{MaxTokens: 2048}, nil)
	if gc.Model != defaultGeminiModel {
		t.Fatalf("model = %q", gc.Model)
	}
	if gc.MaxTokens == nil || *gc.MaxTokens != 2048 {
		t.Fatalf("max tokens = %v", gc.MaxTokens)
	}
	if gc.Temperature != nil {
		t.Fatalf("expected no temperature, got %v", *gc.Temperature)
	}

	cc := geminiClientConfig(config.ProviderConfig{BaseURL: "https://gemini.proxy"}, "gk")
	if cc.APIKey != "gk" || cc.HTTPOptions.BaseURL != "https://gemini.proxy" {
		t.Fatalf("unexpected client config: %+v", cc)
	}
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"status 401: invalid api key", "authentication failed"},
		{"429 Too Many Requests", "rate limited"},
		{"maximum context length exceeded", "context too long"},
		{"model not found", "model not found"},
		{"dial tcp: connection refused", "connection error"},
	}
	for _, tt := range tests {
		got := HandleError(errors.New(tt.in))
		if !strings.HasPrefix(got.Error(), tt.want) {
			t.Errorf("HandleError(%q) = %q, want prefix %q", tt.in, got, tt.want)
		}
	}

	plain := errors.New("something odd")
	if HandleError(plain) != plain {
		t.Fatal("unrecognized errors should pass through")
	}
	if HandleError(nil) != nil {
		t.Fatal("nil should stay nil")
	}
}

func TestRegistryLazyCreation(t *testing.T) {
	r := NewRegistry(config.ModelsConfig{
		Default: "local",
		Providers: map[string]config.ProviderConfig{
			"local":  {Driver: DriverOllama, Model: "llama3.1"},
			"remote": {Driver: DriverOpenAI, Model: "gpt-4o"},
		},
	})

	calls := 0
	r.create = func(_ context.Context, cfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
		calls++
		return nil, errors.New("offline: " + cfg.Model)
	}

	for i := 0; i < 2; i++ {
		if _, err := r.Default(context.Background()); err == nil || !strings.Contains(err.Error(), "llama3.1") {
			t.Fatalf("Default: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected one creation, got %d", calls)
	}

	if _, err := r.Resolve(context.Background(), "remote"); err == nil || !strings.Contains(err.Error(), "gpt-4o") {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := r.Get(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if got := strings.Join(r.Names(), ","); got != "local,remote" {
		t.Fatalf("Names = %q", got)
	}
}

func TestRegistryNoDefault(t *testing.T) {
	r := NewRegistry(config.ModelsConfig{})
	if _, err := r.Default(context.Background()); err == nil {
		t.Fatal("expected error without default")
	}
}
