// Package tools provides the built-in tools agents can call.
package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/bingsearch"
	duckduckgo "github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/config"
)

// Search providers.
const (
	ProviderDuckDuckGo = "duckduckgo"
	ProviderGoogle     = "google"
	ProviderBing       = "bing"
)

const (
	webSearchName       = "web_search"
	defaultSearchResult = 10
	defaultSearchWait   = 15 * time.Second
)

// NewWebSearch creates the web_search tool for the configured provider.
// DuckDuckGo needs no credentials and is the default.
func NewWebSearch(ctx context.Context, cfg config.WebSearchConfig) (agent.Tool, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderDuckDuckGo
	}

	var (
		inner tool.InvokableTool
		err   error
	)
	switch provider {
	case ProviderDuckDuckGo:
		inner, err = duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   webSearchName,
			ToolDesc:   "Search the web using DuckDuckGo. Returns titles, URLs, and summaries.",
			MaxResults: maxResults(cfg),
			Timeout:    searchTimeout(cfg),
		})
	case ProviderGoogle:
		if cfg.GoogleAPIKey == "" || cfg.GoogleCX == "" {
			return nil, fmt.Errorf("web_search: google requires google_api_key and google_cx")
		}
		inner, err = googlesearch.NewTool(ctx, &googlesearch.Config{
			APIKey:         cfg.GoogleAPIKey,
			SearchEngineID: cfg.GoogleCX,
			Num:            maxResults(cfg),
			ToolName:       webSearchName,
			ToolDesc:       "Search the web using Google. Returns titles, URLs, and snippets.",
		})
	case ProviderBing:
		if cfg.BingAPIKey == "" {
			return nil, fmt.Errorf("web_search: bing requires bing_api_key")
		}
		inner, err = bingsearch.NewTool(ctx, &bingsearch.Config{
			APIKey:     cfg.BingAPIKey,
			MaxResults: maxResults(cfg),
			Timeout:    searchTimeout(cfg),
			ToolName:   webSearchName,
			ToolDesc:   "Search the web using Bing. Returns titles, URLs, and descriptions.",
		})
	default:
		return nil, fmt.Errorf("web_search: unknown provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("web_search: init %s: %w", provider, err)
	}

	t, err := agent.FromEinoTool(ctx, inner)
	if err != nil {
		return nil, fmt.Errorf("web_search: %w", err)
	}
	return &webSearch{Tool: t}, nil
}

// webSearch rejects calls without a query before they reach the provider.
type webSearch struct {
	agent.Tool
}

func (w *webSearch) Validate(params map[string]any) bool {
	q, _ := params["query"].(string)
	return strings.TrimSpace(q) != ""
}

func maxResults(cfg config.WebSearchConfig) int {
	if cfg.MaxResults > 0 {
		return cfg.MaxResults
	}
	return defaultSearchResult
}

func searchTimeout(cfg config.WebSearchConfig) time.Duration {
	if cfg.Timeout != "" {
		if d, err := time.ParseDuration(cfg.Timeout); err == nil && d > 0 {
			return d
		}
	}
	return defaultSearchWait
}
