package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/workflow"
)

const notifyName = "notify"

// NewNotify creates the notify tool. Params: message, channel (default
// "ops"), severity (default "info"), workflow_id, execution_id. Without a
// message the calling task type is announced instead.
func NewNotify(sink workflow.AlertSink) agent.Tool {
	return agent.NewFuncTool(notifyName,
		"Send a notification to an alert channel.",
		func(ctx context.Context, params map[string]any) (any, error) {
			a := workflow.Alert{
				WorkflowID:  stringParam(params, "workflow_id", ""),
				ExecutionID: stringParam(params, "execution_id", ""),
				Channel:     stringParam(params, "channel", "ops"),
				Severity:    stringParam(params, "severity", "info"),
				Message:     message(params),
			}
			if err := sink.Alert(ctx, a); err != nil {
				return nil, fmt.Errorf("notify %s: %w", a.Channel, err)
			}
			return map[string]any{"delivered": true, "channel": a.Channel}, nil
		}).
		WithValidate(func(params map[string]any) bool {
			return message(params) != ""
		})
}

func message(params map[string]any) string {
	if m := stringParam(params, "message", ""); m != "" {
		return m
	}
	if tt := stringParam(params, "task_type", ""); tt != "" {
		return "task " + tt + " requested"
	}
	return ""
}

func stringParam(params map[string]any, key, def string) string {
	if s, ok := params[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return def
}
