package agent

import (
	"errors"
	"strings"
)

var (
	ErrNilTask          = errors.New("task is nil")
	ErrAgentBusy        = errors.New("agent is busy")
	ErrAgentStopped     = errors.New("agent is stopped")
	ErrValidationFailed = errors.New("validation failed")
	ErrUnknownTool      = errors.New("unknown tool")
	ErrToolValidation   = errors.New("tool validation failed")
)

// permanentError marks an execution error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the runtime fails the task without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable reports whether an execution error may be retried.
func Retryable(err error) bool {
	var p *permanentError
	if errors.As(err, &p) {
		return false
	}
	return !errors.Is(err, ErrUnknownTool) && !errors.Is(err, ErrToolValidation) && !errors.Is(err, ErrValidationFailed)
}

// failureHints maps error text fragments to remediation hints.
var failureHints = []struct {
	fragments []string
	hint      string
}{
	{[]string{"email", "recipient", "smtp"}, "check recipient address"},
	{[]string{"timeout", "deadline exceeded"}, "retry later or raise the timeout"},
	{[]string{"validation"}, "check the task payload"},
	{[]string{"not found"}, "verify the referenced record exists"},
	{[]string{"permission", "forbidden", "unauthorized"}, "check the caller permissions"},
}

// SuggestionsFor derives human-readable hints from an execution error.
func SuggestionsFor(err error) []string {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	var hints []string
	for _, h := range failureHints {
		for _, f := range h.fragments {
			if strings.Contains(msg, f) {
				hints = append(hints, h.hint)
				break
			}
		}
	}
	return hints
}
