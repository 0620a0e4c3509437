// Package workflow defines multi-step, multi-agent workflows and the engine
// that runs them.
package workflow

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/config"
)

// TriggerType describes how a workflow is started.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerSchedule  TriggerType = "schedule"
	TriggerEvent     TriggerType = "event"
	TriggerCondition TriggerType = "condition"
)

// Trigger is a workflow start condition.
type Trigger struct {
	Type       TriggerType       `json:"type"`
	Cron       string            `json:"cron,omitempty"`       // schedule
	Event      string            `json:"event,omitempty"`      // event: bus event type
	Filter     map[string]string `json:"filter,omitempty"`     // event: payload equality filter
	Conditions []Condition       `json:"conditions,omitempty"` // condition
}

// InputRef feeds a step with the output of an earlier step.
type InputRef struct {
	Step string `json:"step"`
	Path string `json:"path,omitempty"` // dot path into the step's result data
}

// Step is one agent invocation.
type Step struct {
	ID         string          `json:"id"`
	Agent      string          `json:"agent"`
	Action     string          `json:"action"`
	Input      *InputRef       `json:"input,omitempty"`
	Params     map[string]any  `json:"params,omitempty"`
	Conditions []Condition     `json:"conditions,omitempty"`
	OnSuccess  string          `json:"on_success,omitempty"`
	OnFailure  string          `json:"on_failure,omitempty"`
	Parallel   bool            `json:"parallel,omitempty"`
	Timeout    config.Duration `json:"timeout,omitempty"`
}

// RetryPolicy applies to every step task of a workflow.
type RetryPolicy struct {
	MaxAttempts  int               `json:"max_attempts"`
	Backoff      agent.BackoffKind `json:"backoff,omitempty"`
	InitialDelay config.Duration   `json:"initial_delay,omitempty"`
}

// Fallback is invoked once when a workflow fails.
type Fallback struct {
	Agent  string `json:"agent"`
	Action string `json:"action"`
}

// AlertPolicy lists where failures are reported.
type AlertPolicy struct {
	Channels []string `json:"channels"`
	Severity string   `json:"severity,omitempty"`
}

// ErrorStrategy controls retries, fallback and alerts.
type ErrorStrategy struct {
	Retry    *RetryPolicy `json:"retry,omitempty"`
	Fallback *Fallback    `json:"fallback,omitempty"`
	Alerts   *AlertPolicy `json:"alerts,omitempty"`
}

// Workflow is a named sequence of steps. Workflows are loaded once and not
// modified afterwards.
type Workflow struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Triggers    []Trigger     `json:"triggers,omitempty"`
	Steps       []Step        `json:"steps"`
	OnError     ErrorStrategy `json:"error_handling"`
}

// StepIndex returns the position of the step with id, or -1.
func (w *Workflow) StepIndex(id string) int {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// ExecutionStatus is the lifecycle state of an Execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution is one run of a workflow. Results only hold steps that ran.
type Execution struct {
	mu sync.RWMutex

	ID          string
	WorkflowID  string
	Status      ExecutionStatus
	CurrentStep string
	Context     *agent.ExecutionContext
	Trigger     map[string]any
	Results     map[string]*agent.TaskResult
	Skipped     []string
	StartTime   time.Time
	EndTime     time.Time
	Error       string
}

// NewExecution creates a pending execution of wf.
func NewExecution(wf *Workflow, ectx *agent.ExecutionContext, trigger map[string]any) *Execution {
	if ectx == nil {
		ectx = &agent.ExecutionContext{}
	}
	return &Execution{
		ID:         "exec_" + uuid.New().String()[:8],
		WorkflowID: wf.ID,
		Status:     ExecutionPending,
		Context:    ectx,
		Trigger:    trigger,
		Results:    make(map[string]*agent.TaskResult),
	}
}

// ExecutionSnapshot is a point-in-time copy of an Execution.
type ExecutionSnapshot struct {
	ID          string                       `json:"id"`
	WorkflowID  string                       `json:"workflow_id"`
	Status      ExecutionStatus              `json:"status"`
	CurrentStep string                       `json:"current_step,omitempty"`
	Context     *agent.ExecutionContext      `json:"context,omitempty"`
	Trigger     map[string]any               `json:"trigger,omitempty"`
	Results     map[string]*agent.TaskResult `json:"results"`
	Skipped     []string                     `json:"skipped,omitempty"`
	StartTime   time.Time                    `json:"start_time"`
	EndTime     time.Time                    `json:"end_time,omitempty"`
	Error       string                       `json:"error,omitempty"`
}

// Snapshot copies the execution under its lock.
func (e *Execution) Snapshot() ExecutionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	results := make(map[string]*agent.TaskResult, len(e.Results))
	for k, v := range e.Results {
		results[k] = v
	}
	return ExecutionSnapshot{
		ID:          e.ID,
		WorkflowID:  e.WorkflowID,
		Status:      e.Status,
		CurrentStep: e.CurrentStep,
		Context:     e.Context,
		Trigger:     e.Trigger,
		Results:     results,
		Skipped:     append([]string(nil), e.Skipped...),
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		Error:       e.Error,
	}
}

// MarshalJSON encodes a snapshot.
func (e *Execution) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Snapshot())
}

// Result returns the recorded result of a step.
func (e *Execution) Result(stepID string) (*agent.TaskResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.Results[stepID]
	return r, ok
}

// State builds the document conditions are evaluated against:
//
//	{"trigger": ..., "context": {...}, "steps": {"<id>": {"status", "data", "error"}}}
func (e *Execution) State() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()

	steps := make(map[string]any, len(e.Results))
	for id, r := range e.Results {
		steps[id] = map[string]any{
			"status": string(r.Status),
			"data":   normalize(r.Data),
			"error":  r.Error,
		}
	}

	ctx := map[string]any{}
	if c := e.Context; c != nil {
		ctx["user_id"] = c.UserID
		ctx["organization_id"] = c.OrganizationID
		ctx["session_id"] = c.SessionID
		ctx["trace_id"] = c.TraceID
		for k, v := range c.Metadata {
			ctx[k] = v
		}
	}

	return map[string]any{
		"trigger": normalize(e.Trigger),
		"context": ctx,
		"steps":   steps,
	}
}

func (e *Execution) setCurrent(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.CurrentStep = stepID
}

func (e *Execution) record(stepID string, r *agent.TaskResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Results[stepID] = r
}

func (e *Execution) skip(stepID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Skipped = append(e.Skipped, stepID)
}

// normalize turns structs into generic JSON values so paths can walk them.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
