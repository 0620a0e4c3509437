package agent

import (
	"context"

	"github.com/dohr-michael/foreman/internal/memory"
)

type suggestionKey struct{}

// ContextWithSuggestion attaches a memory suggestion for the executor.
func ContextWithSuggestion(ctx context.Context, s memory.Suggestion) context.Context {
	return context.WithValue(ctx, suggestionKey{}, s)
}

// SuggestionFromContext returns the suggestion memory offered for the task in
// flight, if any. Executors may reuse its tools instead of planning.
func SuggestionFromContext(ctx context.Context) (memory.Suggestion, bool) {
	s, ok := ctx.Value(suggestionKey{}).(memory.Suggestion)
	return s, ok
}
