package scheduler

import (
	"fmt"

	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/workflow"
)

// MatchEvent reports whether e fires an event trigger. Events emitted by the
// scheduler itself never match, to prevent loops.
func MatchEvent(e events.Event, t workflow.Trigger) bool {
	if t.Type != workflow.TriggerEvent || e.Source == events.SourceScheduler {
		return false
	}
	if string(e.Type) != t.Event {
		return false
	}
	for key, expected := range t.Filter {
		val, ok := e.Payload[key]
		if !ok || fmt.Sprint(val) != expected {
			return false
		}
	}
	return true
}

// MatchConditions reports whether e satisfies a condition trigger. Conditions
// see the event as {"event": {"type", "source", "payload"}}.
func MatchConditions(e events.Event, t workflow.Trigger) bool {
	if t.Type != workflow.TriggerCondition || e.Source == events.SourceScheduler {
		return false
	}
	ok, err := workflow.EvaluateAll(t.Conditions, eventState(e))
	return err == nil && ok
}

func eventState(e events.Event) map[string]any {
	payload := make(map[string]any, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = v
	}
	return map[string]any{
		"event": map[string]any{
			"type":    string(e.Type),
			"source":  string(e.Source),
			"payload": payload,
		},
	}
}
