package agent

import (
	"context"
	"time"
)

// BackoffKind selects how retry delays grow.
type BackoffKind string

const (
	BackoffExponential BackoffKind = "exponential"
	BackoffLinear      BackoffKind = "linear"
	BackoffFixed       BackoffKind = "fixed"
)

// DefaultBackoff yields 2s, 4s, 8s for the first three retries.
var DefaultBackoff = Backoff{Kind: BackoffExponential, Initial: 2 * time.Second}

// Backoff computes the delay before a retry.
type Backoff struct {
	Kind    BackoffKind   `json:"kind"`
	Initial time.Duration `json:"initial"`
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultBackoff.Initial
	}
	switch b.Kind {
	case BackoffFixed:
		return initial
	case BackoffLinear:
		return initial * time.Duration(attempt)
	default:
		return initial * time.Duration(1<<(attempt-1))
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
