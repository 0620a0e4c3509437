// Package memory provides the multi-tier memory agents use to remember
// executions, recall facts and recognize successful patterns.
//
// Tiers:
//
//   - short-term: per-agent scratch space (ShortTerm), cleared between tasks
//   - long-term: key/value entries with optional TTL, persisted through a Backend
//   - episodic: append-only AgentEvent log, capacity and time bounded
//   - semantic: confidence-weighted (subject, predicate, object) triples
//
// Patterns are derived from successful learning events and cached per task type.
package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result attached to an AgentEvent.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Well-known event types.
const (
	EventTaskExecution = "task_execution"
	EventLearning      = "learning"
	EventFeedback      = "feedback"
)

// Well-known predicates.
const (
	PredicateSolvedBy         = "solved_by"
	PredicateNeedsImprovement = "needs_improvement"
)

// Entry is a long-term key/value record.
type Entry struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // zero means no expiry
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// AgentEvent is one record of the episodic log.
type AgentEvent struct {
	ID        string         `json:"id"`
	AgentID   string         `json:"agent_id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Outcome   Outcome        `json:"outcome,omitempty"`
	Learnings []string       `json:"learnings,omitempty"`
}

// EventFilter selects events from the episodic log. Zero fields match all.
type EventFilter struct {
	AgentID string
	Type    string
	Since   time.Time
	Until   time.Time
	Outcome Outcome
	Limit   int
}

// KnowledgeTriple is a semantic fact.
type KnowledgeTriple struct {
	Subject    string    `json:"subject"`
	Predicate  string    `json:"predicate"`
	Object     string    `json:"object"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// TriplePattern queries triples; empty fields are wildcards.
type TriplePattern struct {
	Subject   string
	Predicate string
	Object    string
}

func (p TriplePattern) matches(t *KnowledgeTriple) bool {
	return (p.Subject == "" || p.Subject == t.Subject) &&
		(p.Predicate == "" || p.Predicate == t.Predicate) &&
		(p.Object == "" || p.Object == t.Object)
}

// Pattern summarizes a previously successful execution.
type Pattern struct {
	TaskType      string        `json:"task_type"`
	ToolsUsed     []string      `json:"tools_used"`
	ExecutionTime time.Duration `json:"execution_time"`
	Confidence    float64       `json:"confidence"`
	RecordedAt    time.Time     `json:"recorded_at"`
}

// Approach describes how a task was attempted.
type Approach struct {
	ToolsUsed     []string      `json:"tools_used"`
	ExecutionTime time.Duration `json:"execution_time,omitempty"`
	Notes         string        `json:"notes,omitempty"`
}

// Suggestion is what memory knows about solving a task type.
type Suggestion struct {
	Patterns  []Pattern         `json:"patterns"`
	Relations []KnowledgeTriple `json:"relations"`
}

// Empty reports whether the suggestion carries nothing usable.
func (s Suggestion) Empty() bool {
	return len(s.Patterns) == 0 && len(s.Relations) == 0
}

// SearchResult is a scored long-term entry.
type SearchResult struct {
	Key   string  `json:"key"`
	Value any     `json:"value"`
	Score float64 `json:"score"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func generateEventID() string {
	u := uuid.New().String()
	return "evt_" + strings.ReplaceAll(u[:8], "-", "")
}
