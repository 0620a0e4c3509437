package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownWorkflow = errors.New("unknown workflow")
	ErrUnknownAgent    = errors.New("unknown agent")
	ErrStepTimeout     = errors.New("step timed out")
	ErrStepFailed      = errors.New("step failed")
	ErrUnresolvedInput = errors.New("unresolved step input")
	ErrInvalidWorkflow = errors.New("invalid workflow")
)

// StepError ties a failure to the step that caused it.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %q: %v", e.StepID, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }
