package models

import (
	"fmt"
	"strings"
)

// ErrModelUnavailable reports a provider that could not serve a request.
type ErrModelUnavailable struct {
	Provider string
	Status   int
	Body     string
	Cause    error
}

func (e *ErrModelUnavailable) Error() string {
	switch {
	case e.Cause != nil:
		return fmt.Sprintf("%s unavailable: %v", e.Provider, e.Cause)
	case e.Body != "":
		return fmt.Sprintf("%s unavailable (status %d): %s", e.Provider, e.Status, e.Body)
	}
	return fmt.Sprintf("%s unavailable (status %d)", e.Provider, e.Status)
}

func (e *ErrModelUnavailable) Unwrap() error { return e.Cause }

// HandleError converts common SDK errors to user-friendly errors.
func HandleError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "401", "403", "unauthorized", "invalid api key", "forbidden"):
		return fmt.Errorf("authentication failed: %w", err)
	case containsAny(msg, "429", "rate limit", "quota", "too many requests"):
		return fmt.Errorf("rate limited: %w", err)
	case containsAny(msg, "context length", "too many tokens", "token limit"):
		return fmt.Errorf("context too long: %w", err)
	case containsAny(msg, "model not found", "404"):
		return fmt.Errorf("model not found: %w", err)
	case containsAny(msg, "connection", "eof", "timeout", "dial", "refused", "unavailable"):
		return fmt.Errorf("connection error: %w", err)
	}
	return err
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
