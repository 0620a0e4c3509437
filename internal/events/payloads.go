package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// AGENT EVENTS
// =============================================================================

type AgentStatusPayload struct {
	Agent  string `json:"agent"`
	From   string `json:"from"`
	To     string `json:"to"`
	TaskID string `json:"task_id,omitempty"`
}

func (AgentStatusPayload) EventType() EventType { return EventAgentStatus }

type TaskProgressPayload struct {
	Agent      string `json:"agent"`
	TaskID     string `json:"task_id"`
	Attempt    int    `json:"attempt"`
	MaxRetries int    `json:"max_retries"`
	Message    string `json:"message"`
}

func (TaskProgressPayload) EventType() EventType { return EventTaskProgress }

type TaskCompletedPayload struct {
	Agent     string        `json:"agent"`
	TaskID    string        `json:"task_id"`
	TaskType  string        `json:"task_type"`
	Status    string        `json:"status"`
	Duration  time.Duration `json:"duration"`
	ToolsUsed []string      `json:"tools_used,omitempty"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskComplete }

type TaskFailedPayload struct {
	Agent    string `json:"agent"`
	TaskID   string `json:"task_id"`
	TaskType string `json:"task_type"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type ToolCostPayload struct {
	Agent string  `json:"agent"`
	Tool  string  `json:"tool"`
	Cost  float64 `json:"cost"`
}

func (ToolCostPayload) EventType() EventType { return EventToolCost }

type FeedbackPayload struct {
	Agent  string `json:"agent"`
	TaskID string `json:"task_id"`
	Rating int    `json:"rating"`
}

func (FeedbackPayload) EventType() EventType { return EventFeedback }

// =============================================================================
// MESSAGING EVENTS
// =============================================================================

type MessageRoutedPayload struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Type      string `json:"type"`
}

func (MessageRoutedPayload) EventType() EventType { return EventMessageRouted }

type MessageDroppedPayload struct {
	MessageID string `json:"message_id"`
	To        string `json:"to"`
	Reason    string `json:"reason"`
}

func (MessageDroppedPayload) EventType() EventType { return EventMessageDropped }

// =============================================================================
// ORCHESTRATOR EVENTS
// =============================================================================

type RequestReceivedPayload struct {
	Request string `json:"request"`
	UserID  string `json:"user_id,omitempty"`
}

func (RequestReceivedPayload) EventType() EventType { return EventRequestReceived }

type RequestHandledPayload struct {
	Action  string `json:"action,omitempty"`
	Success bool   `json:"success"`
	Tasks   int    `json:"tasks"`
	Error   string `json:"error,omitempty"`
}

func (RequestHandledPayload) EventType() EventType { return EventRequestHandled }

// =============================================================================
// WORKFLOW EVENTS
// =============================================================================

type WorkflowStartedPayload struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	Trigger     string `json:"trigger,omitempty"`
}

func (WorkflowStartedPayload) EventType() EventType { return EventWorkflowStarted }

type WorkflowStepStartedPayload struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Agent       string `json:"agent"`
	Action      string `json:"action"`
}

func (WorkflowStepStartedPayload) EventType() EventType { return EventWorkflowStepStarted }

type WorkflowStepCompletedPayload struct {
	WorkflowID  string        `json:"workflow_id"`
	ExecutionID string        `json:"execution_id"`
	StepID      string        `json:"step_id"`
	Status      string        `json:"status"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

func (WorkflowStepCompletedPayload) EventType() EventType { return EventWorkflowStepCompleted }

type WorkflowStepSkippedPayload struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id"`
	Reason      string `json:"reason"`
}

func (WorkflowStepSkippedPayload) EventType() EventType { return EventWorkflowStepSkipped }

type WorkflowCompletedPayload struct {
	WorkflowID  string        `json:"workflow_id"`
	ExecutionID string        `json:"execution_id"`
	Steps       int           `json:"steps"`
	Duration    time.Duration `json:"duration"`
}

func (WorkflowCompletedPayload) EventType() EventType { return EventWorkflowCompleted }

type WorkflowFailedPayload struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	StepID      string `json:"step_id,omitempty"`
	Error       string `json:"error"`
}

func (WorkflowFailedPayload) EventType() EventType { return EventWorkflowFailed }

type WorkflowAlertPayload struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	Channel     string `json:"channel"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
}

func (WorkflowAlertPayload) EventType() EventType { return EventWorkflowAlert }

type ScheduleTriggerPayload struct {
	WorkflowID string `json:"workflow_id"`
	Trigger    string `json:"trigger"`
	Cron       string `json:"cron,omitempty"`
	OnEvent    string `json:"event_type,omitempty"`
}

func (ScheduleTriggerPayload) EventType() EventType { return EventScheduleTrigger }

// ModelCallPayload reports one phase of a chat model call.
type ModelCallPayload struct {
	Phase        string `json:"phase"` // "request" | "response" | "error"
	Model        string `json:"model"`
	MessageCount int    `json:"message_count,omitempty"`
	TokensInput  int    `json:"tokens_input,omitempty"`
	TokensOutput int    `json:"tokens_output,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (ModelCallPayload) EventType() EventType { return EventModelCall }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return NewEvent(payload.EventType(), source, toMap(payload))
}

func NewTypedEventWithTrace(source EventSource, payload EventPayload, traceID string) Event {
	e := NewTypedEvent(source, payload)
	e.TraceID = traceID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
