package scheduler

import (
	"testing"
	"time"

	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/workflow"
)

func makeEvent(eventType events.EventType, source events.EventSource, payload map[string]any) events.Event {
	return events.Event{
		ID:        "evt-1",
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Payload:   payload,
	}
}

func TestMatchEvent(t *testing.T) {
	trigger := workflow.Trigger{
		Type:   workflow.TriggerEvent,
		Event:  "task.completed",
		Filter: map[string]string{"agent": "invoice_agent"},
	}

	tests := []struct {
		name string
		e    events.Event
		want bool
	}{
		{"match", makeEvent("task.completed", events.SourceAgent, map[string]any{"agent": "invoice_agent"}), true},
		{"type mismatch", makeEvent("task.failed", events.SourceAgent, map[string]any{"agent": "invoice_agent"}), false},
		{"filter mismatch", makeEvent("task.completed", events.SourceAgent, map[string]any{"agent": "email_agent"}), false},
		{"missing key", makeEvent("task.completed", events.SourceAgent, map[string]any{}), false},
		{"scheduler source", makeEvent("task.completed", events.SourceScheduler, map[string]any{"agent": "invoice_agent"}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchEvent(tt.e, trigger); got != tt.want {
				t.Fatalf("MatchEvent = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchEvent_NonStringFilterValue(t *testing.T) {
	trigger := workflow.Trigger{Type: workflow.TriggerEvent, Event: "task.failed", Filter: map[string]string{"attempts": "4"}}
	if !MatchEvent(makeEvent("task.failed", events.SourceAgent, map[string]any{"attempts": 4}), trigger) {
		t.Fatal("expected numeric payload value to match its string form")
	}
}

func TestMatchEvent_WrongTriggerType(t *testing.T) {
	trigger := workflow.Trigger{Type: workflow.TriggerSchedule, Event: "task.completed"}
	if MatchEvent(makeEvent("task.completed", events.SourceAgent, nil), trigger) {
		t.Fatal("schedule triggers never match events")
	}
}

func TestMatchConditions(t *testing.T) {
	trigger := workflow.Trigger{Type: workflow.TriggerCondition, Conditions: []workflow.Condition{
		{Field: "event.source", Operator: workflow.OpEq, Value: "agent"},
		{Field: "event.payload.amount", Operator: workflow.OpGt, Value: 1000},
	}}
	if !MatchConditions(makeEvent("payment.received", events.SourceAgent, map[string]any{"amount": 2500.0}), trigger) {
		t.Fatal("expected conditions to hold")
	}
	if MatchConditions(makeEvent("payment.received", events.SourceAgent, map[string]any{"amount": 10.0}), trigger) {
		t.Fatal("expected amount condition to fail")
	}
	if MatchConditions(makeEvent("payment.received", events.SourceScheduler, map[string]any{"amount": 2500.0}), trigger) {
		t.Fatal("scheduler events never match")
	}
}
