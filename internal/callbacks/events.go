// Package callbacks bridges Eino component callbacks to the event bus.
package callbacks

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/dohr-michael/foreman/internal/events"
)

// NewModelEventHandler returns a handler that publishes a model.call event for
// every chat model request, response and error. Events carry the trace ID of
// the calling context.
func NewModelEventHandler(bus *events.Bus, source events.EventSource) callbacks.Handler {
	if source == "" {
		source = events.SourceOrchestrator
	}

	publish := func(ctx context.Context, payload events.ModelCallPayload) {
		bus.Publish(events.NewTypedEventWithTrace(source, payload, events.TraceIDFromContext(ctx)))
	}

	h := &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			p := events.ModelCallPayload{Phase: "request", Model: info.Name}
			if input != nil {
				p.MessageCount = len(input.Messages)
			}
			publish(ctx, p)
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			p := events.ModelCallPayload{Phase: "response", Model: info.Name}
			if output != nil && output.Message != nil && output.Message.ResponseMeta != nil && output.Message.ResponseMeta.Usage != nil {
				p.TokensInput = output.Message.ResponseMeta.Usage.PromptTokens
				p.TokensOutput = output.Message.ResponseMeta.Usage.CompletionTokens
			}
			publish(ctx, p)
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publish(ctx, events.ModelCallPayload{Phase: "error", Model: info.Name, Error: truncate(err.Error(), 500)})
			return ctx
		},
	}

	return ub.NewHandlerHelper().ChatModel(h).Handler()
}

// WithModelCallbacks attaches handler to ctx for a chat model call named name.
// A nil handler returns ctx unchanged.
func WithModelCallbacks(ctx context.Context, name string, handler callbacks.Handler) context.Context {
	if handler == nil {
		return ctx
	}
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      name,
		Component: components.ComponentOfChatModel,
	}, handler)
}

func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
