package events

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

type traceIDKey struct{}

// NewTraceID returns a fresh trace ID for one request or workflow run.
func NewTraceID() string {
	return "trace_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// ContextWithTraceID returns a new context carrying the trace ID.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, id)
}

// TraceIDFromContext extracts the trace ID from the context, or "" if absent.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}
