// Package agent implements the per-agent task runtime: validation, retrying
// execution, metrics, learning hooks, tool calls and inter-agent messaging.
package agent

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks and assignments.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank returns a comparable weight for p. Unknown priorities rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityCritical:
		return 3
	default:
		return 1
	}
}

// ResultStatus is the outcome of a task.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"
	ResultPartial ResultStatus = "partial"
)

// Task is a unit of work for one agent. Tasks are not mutated once created.
type Task struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Description  string         `json:"description,omitempty"`
	Priority     Priority       `json:"priority"`
	Payload      map[string]any `json:"payload,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	// MaxRetries of zero uses the runtime default; negative disables retries.
	MaxRetries int      `json:"max_retries,omitempty"`
	Backoff    *Backoff `json:"backoff,omitempty"`
}

// NewTask creates a task with a fresh id and normal priority.
func NewTask(taskType, description string, payload map[string]any) *Task {
	return &Task{
		ID:          GenerateTaskID(),
		Type:        taskType,
		Description: description,
		Priority:    PriorityNormal,
		Payload:     payload,
	}
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	return "task_" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// TaskResult is the final outcome of a task, after retries.
type TaskResult struct {
	TaskID        string         `json:"task_id"`
	Status        ResultStatus   `json:"status"`
	Data          any            `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time"`
	ToolsUsed     []string       `json:"tools_used,omitempty"`
	Cost          float64        `json:"cost,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Suggestions   []string       `json:"suggestions,omitempty"`
	Attempts      int            `json:"attempts,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Succeeded reports whether the result is a full success.
func (r *TaskResult) Succeeded() bool {
	return r != nil && r.Status == ResultSuccess
}

// ExecutionContext carries caller identity through a task or workflow run.
// The runtime only reads it.
type ExecutionContext struct {
	UserID         string              `json:"user_id,omitempty"`
	OrganizationID string              `json:"organization_id,omitempty"`
	SessionID      string              `json:"session_id,omitempty"`
	Permissions    map[string][]string `json:"permissions,omitempty"` // resource → actions
	Metadata       map[string]any      `json:"metadata,omitempty"`
	TraceID        string              `json:"trace_id,omitempty"`
}

// Allowed reports whether the context grants action on resource.
// A context without permissions allows everything.
func (c *ExecutionContext) Allowed(resource, action string) bool {
	if c == nil || c.Permissions == nil {
		return true
	}
	for _, a := range c.Permissions[resource] {
		if a == action || a == "*" {
			return true
		}
	}
	return false
}

// OutputRef points at the output of another task. Payload values of this
// type are resolved from the referenced task's result data before dispatch.
type OutputRef struct {
	TaskID string `json:"task_id"`
	Path   string `json:"path,omitempty"` // dot path into the result data
}

// Resolve looks up the referenced value in data.
func (r OutputRef) Resolve(data any) (any, bool) {
	return Lookup(data, r.Path)
}

// Lookup walks a dot-separated path through nested maps. An empty path
// returns data itself.
func Lookup(data any, path string) (any, bool) {
	if path == "" {
		return data, true
	}
	cur := data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
