package models

import (
	"fmt"
	"os"
	"strings"

	"github.com/dohr-michael/foreman/internal/config"
)

// ResolveAPIKey returns the key for a provider: the configured api_key
// (a literal or ${VAR}), then the driver's default environment variable.
// Drivers without authentication return an empty key.
func ResolveAPIKey(cfg config.ProviderConfig) (string, error) {
	key := strings.TrimSpace(cfg.Auth.APIKey)
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		key = os.Getenv(key[2 : len(key)-1])
	}
	if key != "" {
		return key, nil
	}

	switch strings.ToLower(cfg.Driver) {
	case DriverOpenAI:
		if env := os.Getenv("OPENAI_API_KEY"); env != "" {
			return env, nil
		}
		return "", fmt.Errorf("OPENAI_API_KEY not set")
	case DriverAnthropic:
		if env := os.Getenv("ANTHROPIC_API_KEY"); env != "" {
			return env, nil
		}
		return "", fmt.Errorf("ANTHROPIC_API_KEY not set")
	case DriverGemini:
		for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if env := os.Getenv(name); env != "" {
				return env, nil
			}
		}
		return "", fmt.Errorf("GEMINI_API_KEY not set")
	case DriverOllama:
		return "", nil
	default:
		return "", fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
}
