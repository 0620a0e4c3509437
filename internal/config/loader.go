package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes JSONC config bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	// Expand before standardizing, templates live inside strings.
	expanded := expandEnvTemplates(string(data))

	std, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(std, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18430
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}

	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "memory"
	}
	if cfg.Memory.Path == "" {
		switch cfg.Memory.Backend {
		case "sqlite":
			cfg.Memory.Path = filepath.Join(ForemanPath(), "memory.db")
		case "file":
			cfg.Memory.Path = filepath.Join(ForemanPath(), "memory")
		}
	}
	if cfg.Memory.SweepInterval == 0 {
		cfg.Memory.SweepInterval = Duration(time.Hour)
	}
	if cfg.Memory.EventCapacity == 0 {
		cfg.Memory.EventCapacity = 1000
	}
	if cfg.Memory.EventRetention == 0 {
		cfg.Memory.EventRetention = Duration(30 * 24 * time.Hour)
	}
	if cfg.Memory.PatternCapacity == 0 {
		cfg.Memory.PatternCapacity = 100
	}

	if cfg.Agents.MaxRetries == 0 {
		cfg.Agents.MaxRetries = 3
	}
	if cfg.Agents.Backoff.Kind == "" {
		cfg.Agents.Backoff.Kind = "exponential"
	}
	if cfg.Agents.Backoff.Initial == 0 {
		cfg.Agents.Backoff.Initial = Duration(2 * time.Second)
	}

	if cfg.Orchestrator.Classifier == "" {
		cfg.Orchestrator.Classifier = "rules"
	}
	if cfg.Orchestrator.StepTimeout == 0 {
		cfg.Orchestrator.StepTimeout = Duration(30 * time.Second)
	}
	if cfg.Orchestrator.BatchSize == 0 {
		cfg.Orchestrator.BatchSize = 10
	}

	if len(cfg.Workflows.Dirs) == 0 {
		cfg.Workflows.Dirs = []string{filepath.Join(ForemanPath(), "workflows")}
	}
}
