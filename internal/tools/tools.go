package tools

import (
	"context"
	"fmt"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/config"
	"github.com/dohr-michael/foreman/internal/memory"
	"github.com/dohr-michael/foreman/internal/workflow"
)

// Builtin returns a registry holding notify, ledger and, when configured,
// web_search.
func Builtin(ctx context.Context, cfg config.ToolsConfig, sink workflow.AlertSink, store *memory.Store) (*agent.ToolRegistry, error) {
	reg := agent.NewToolRegistry()
	reg.Register(NewNotify(sink))
	reg.Register(NewLedger(store))

	if cfg.WebSearch != nil {
		ws, err := NewWebSearch(ctx, *cfg.WebSearch)
		if err != nil {
			return nil, fmt.Errorf("builtin tools: %w", err)
		}
		reg.Register(ws)
	}
	return reg, nil
}
