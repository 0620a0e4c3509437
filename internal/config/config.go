// Package config loads the foreman configuration file.
package config

import "time"

// Config is the root configuration for foreman.
type Config struct {
	Gateway      GatewayConfig      `json:"gateway"`
	Models       ModelsConfig       `json:"models"`
	Events       EventsConfig       `json:"events"`
	Memory       MemoryConfig       `json:"memory"`
	Agents       AgentsConfig       `json:"agents"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Workflows    WorkflowsConfig    `json:"workflows"`
	Tools        ToolsConfig        `json:"tools"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver    string         `json:"driver"` // "openai", "ollama", "anthropic", "gemini"
	Model     string         `json:"model"`
	BaseURL   string         `json:"base_url,omitempty"`
	Auth      AuthConfig     `json:"auth"`
	MaxTokens int            `json:"max_tokens,omitempty"`
	Timeout   Duration       `json:"timeout,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogDir     string `json:"log_dir,omitempty"` // JSONL event log directory, empty disables
}

// MemoryConfig configures the agent memory store.
type MemoryConfig struct {
	Backend         string           `json:"backend"` // "memory" | "file" | "sqlite"
	Path            string           `json:"path,omitempty"`
	SweepInterval   Duration         `json:"sweep_interval,omitempty"`
	EventCapacity   int              `json:"event_capacity,omitempty"`
	EventRetention  Duration         `json:"event_retention,omitempty"`
	PatternCapacity int              `json:"pattern_capacity,omitempty"`
	Embedding       *EmbeddingConfig `json:"embedding,omitempty"` // enables semantic search
}

// EmbeddingConfig configures the embedding model used for semantic memory search.
type EmbeddingConfig struct {
	Driver  string     `json:"driver"` // "openai" | "ollama"
	Model   string     `json:"model"`
	BaseURL string     `json:"base_url,omitempty"`
	Auth    AuthConfig `json:"auth"`
	Dims    int        `json:"dims,omitempty"`
}

// BackoffConfig describes the delay between task retries.
type BackoffConfig struct {
	Kind    string   `json:"kind"` // "exponential" | "linear" | "fixed"
	Initial Duration `json:"initial"`
}

// AgentDefinition declares a tool-routing agent.
type AgentDefinition struct {
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Routes       map[string]string `json:"routes"`             // task type substring → tool name
	Required     []string          `json:"required,omitempty"` // payload keys every task must carry
}

// AgentsConfig holds agent runtime settings.
type AgentsConfig struct {
	MaxRetries  int               `json:"max_retries"`
	Backoff     BackoffConfig     `json:"backoff"`
	Learning    *bool             `json:"learning,omitempty"`
	Definitions []AgentDefinition `json:"definitions,omitempty"`
}

// LearningEnabled reports whether agents derive patterns from successful runs.
func (c AgentsConfig) LearningEnabled() bool {
	return c.Learning == nil || *c.Learning
}

// OrchestratorConfig holds orchestrator settings.
type OrchestratorConfig struct {
	Classifier  string   `json:"classifier"` // "rules" | "model"
	Model       string   `json:"model,omitempty"`
	StepTimeout Duration `json:"step_timeout,omitempty"`
	BatchSize   int      `json:"batch_size,omitempty"`
}

// WorkflowsConfig configures workflow definition discovery.
type WorkflowsConfig struct {
	Dirs       []string `json:"dirs"`
	ArchiveDir string   `json:"archive_dir,omitempty"` // finished executions, empty disables
}

// ToolsConfig configures built-in tools.
type ToolsConfig struct {
	WebSearch *WebSearchConfig `json:"web_search,omitempty"`
}

// WebSearchConfig configures the web_search tool.
type WebSearchConfig struct {
	Provider     string `json:"provider"` // "duckduckgo" (default), "google", "bing"
	MaxResults   int    `json:"max_results,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	GoogleAPIKey string `json:"google_api_key,omitempty"`
	GoogleCX     string `json:"google_cx,omitempty"`
	BingAPIKey   string `json:"bing_api_key,omitempty"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
