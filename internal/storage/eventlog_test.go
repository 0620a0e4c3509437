package storage

import (
	"testing"
	"time"

	"github.com/dohr-michael/foreman/internal/events"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventLoggerRoutesByTrace(t *testing.T) {
	dir := t.TempDir()
	bus := events.NewBus(64)
	defer bus.Close()

	el := NewEventLogger(dir, bus, nil)
	defer el.Close()

	base := time.Date(2026, 3, 31, 18, 0, 0, 0, time.UTC)
	for i, typ := range []events.EventType{events.EventWorkflowStarted, events.EventWorkflowStepStarted, events.EventWorkflowCompleted} {
		bus.Publish(events.Event{
			ID:        string(typ),
			TraceID:   "trace-close",
			Type:      typ,
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Source:    events.SourceWorkflow,
		})
	}
	bus.Publish(events.Event{ID: "untraced", Type: events.EventAgentStatus, Timestamp: base, Source: events.SourceAgent})

	waitFor(t, func() bool {
		evts, _ := ReadTrace(dir, "trace-close")
		return len(evts) == 3
	})

	evts, err := ReadTrace(dir, "trace-close")
	if err != nil {
		t.Fatalf("ReadTrace: %v", err)
	}
	if evts[0].Type != events.EventWorkflowStarted || evts[2].Type != events.EventWorkflowCompleted {
		t.Fatalf("events not in time order: %v, %v", evts[0].Type, evts[2].Type)
	}

	waitFor(t, func() bool {
		global, _ := ReadTrace(dir, "")
		return len(global) == 1
	})

	traces, err := Traces(dir)
	if err != nil {
		t.Fatalf("Traces: %v", err)
	}
	if len(traces) != 1 || traces[0] != "trace-close" {
		t.Fatalf("traces = %v", traces)
	}
}

func TestReadTraceMissing(t *testing.T) {
	evts, err := ReadTrace(t.TempDir(), "nothing")
	if err != nil || len(evts) != 0 {
		t.Fatalf("got %v, %v", evts, err)
	}
}

func TestCostTracker(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()

	ct := NewCostTracker(bus)
	defer ct.Close()

	bus.Publish(events.NewTypedEvent(events.SourceAgent, events.ToolCostPayload{Agent: "invoice_agent", Tool: "pdf", Cost: 0.25}))
	bus.Publish(events.NewTypedEvent(events.SourceAgent, events.ToolCostPayload{Agent: "invoice_agent", Tool: "email", Cost: 0.5}))
	bus.Publish(events.NewTypedEvent(events.SourceAgent, events.ToolCostPayload{Agent: "data_agent", Tool: "pdf", Cost: 0.25}))
	bus.Publish(events.NewTypedEvent(events.SourceAgent, events.ToolCostPayload{Agent: "data_agent", Tool: "free", Cost: 0}))

	waitFor(t, func() bool { return ct.Report().Calls == 3 })

	r := ct.Report()
	if r.Total != 1.0 {
		t.Fatalf("total = %v", r.Total)
	}
	if r.ByAgent["invoice_agent"] != 0.75 || r.ByTool["pdf"] != 0.5 {
		t.Fatalf("unexpected report: %+v", r)
	}
	if _, ok := r.ByTool["free"]; ok {
		t.Fatal("zero-cost calls are not tracked")
	}

	r.ByAgent["invoice_agent"] = 99
	if ct.Report().ByAgent["invoice_agent"] != 0.75 {
		t.Fatal("Report must return a copy")
	}
}
