package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies an AgentMessage.
type MessageType string

const (
	MessageRequest      MessageType = "request"
	MessageResponse     MessageType = "response"
	MessageEvent        MessageType = "event"
	MessageError        MessageType = "error"
	MessageNotification MessageType = "notification"
)

// OrchestratorID is the reserved recipient handled by the orchestrator itself.
const OrchestratorID = "orchestrator"

// MessagePayload is the body of an AgentMessage.
type MessagePayload struct {
	Action      string         `json:"action,omitempty"`
	Data        any            `json:"data,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// AgentMessage is routed between agents. Messages are never persisted.
type AgentMessage struct {
	ID        string         `json:"id"`
	From      string         `json:"from"`
	To        []string       `json:"to"`
	Type      MessageType    `json:"type"`
	Priority  Priority       `json:"priority,omitempty"`
	Payload   MessagePayload `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	TTL       time.Duration  `json:"ttl,omitempty"`
	ReplyTo   string         `json:"reply_to,omitempty"`
}

// NewMessage creates a message with a fresh id and the current timestamp.
func NewMessage(from string, to []string, typ MessageType, payload MessagePayload) AgentMessage {
	return AgentMessage{
		ID:        "msg_" + uuid.New().String()[:8],
		From:      from,
		To:        to,
		Type:      typ,
		Priority:  PriorityNormal,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Expired reports whether the message outlived its TTL at now.
func (m AgentMessage) Expired(now time.Time) bool {
	return m.TTL > 0 && !m.Timestamp.IsZero() && now.After(m.Timestamp.Add(m.TTL))
}

// Reply builds a response to m from the given sender.
func (m AgentMessage) Reply(from string, typ MessageType, payload MessagePayload) AgentMessage {
	r := NewMessage(from, []string{m.From}, typ, payload)
	r.ReplyTo = m.ID
	return r
}

// MessageRouter delivers messages to their recipients.
type MessageRouter interface {
	RouteMessage(ctx context.Context, msg AgentMessage)
}
