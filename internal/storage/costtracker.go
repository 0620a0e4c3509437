package storage

import (
	"sync"

	"github.com/dohr-michael/foreman/internal/events"
)

// CostReport is the accumulated tool spend.
type CostReport struct {
	Total   float64            `json:"total"`
	Calls   int                `json:"calls"`
	ByAgent map[string]float64 `json:"by_agent"`
	ByTool  map[string]float64 `json:"by_tool"`
}

// CostTracker accumulates tool.cost events per agent and per tool.
type CostTracker struct {
	mu          sync.Mutex
	report      CostReport
	unsubscribe func()
}

// NewCostTracker subscribes a tracker to tool cost events.
func NewCostTracker(bus *events.Bus) *CostTracker {
	ct := &CostTracker{report: CostReport{
		ByAgent: make(map[string]float64),
		ByTool:  make(map[string]float64),
	}}
	ct.unsubscribe = bus.Subscribe(ct.handleEvent, events.EventToolCost)
	return ct
}

// Close unsubscribes the tracker from the event bus.
func (ct *CostTracker) Close() {
	if ct.unsubscribe != nil {
		ct.unsubscribe()
	}
}

func (ct *CostTracker) handleEvent(e events.Event) {
	p, ok := events.ExtractPayload[events.ToolCostPayload](e)
	if !ok || p.Cost <= 0 {
		return
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.report.Total += p.Cost
	ct.report.Calls++
	ct.report.ByAgent[p.Agent] += p.Cost
	ct.report.ByTool[p.Tool] += p.Cost
}

// Report returns a copy of the totals.
func (ct *CostTracker) Report() CostReport {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	out := CostReport{
		Total:   ct.report.Total,
		Calls:   ct.report.Calls,
		ByAgent: make(map[string]float64, len(ct.report.ByAgent)),
		ByTool:  make(map[string]float64, len(ct.report.ByTool)),
	}
	for k, v := range ct.report.ByAgent {
		out.ByAgent[k] = v
	}
	for k, v := range ct.report.ByTool {
		out.ByTool[k] = v
	}
	return out
}
