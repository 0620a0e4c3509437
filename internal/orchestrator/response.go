package orchestrator

import (
	"errors"

	"github.com/dohr-michael/foreman/internal/agent"
)

var (
	ErrNoIntent       = errors.New("could not understand the request")
	ErrUnknownAgent   = errors.New("unknown agent")
	ErrDependency     = errors.New("dependency failed")
	ErrUnresolvedRef  = errors.New("unresolved task reference")
	ErrInvalidRequest = errors.New("invalid request")
)

// Error codes carried by Response.
const (
	CodeNoIntent        = "no_intent"
	CodeUnknownAgent    = "unknown_agent"
	CodeUnknownWorkflow = "unknown_workflow"
	CodeExecutionFailed = "execution_failed"
	CodeInvalidRequest  = "invalid_request"
)

// ResponseError is the typed error part of a Response.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Response is the envelope returned by ProcessUserRequest.
type Response struct {
	Success bool                `json:"success"`
	Status  agent.ResultStatus  `json:"status,omitempty"`
	Intent  *Intent             `json:"intent,omitempty"`
	Results []*agent.TaskResult `json:"results,omitempty"`
	Error   *ResponseError      `json:"error,omitempty"`
}

func errorResponse(code string, err error) *Response {
	return &Response{Error: &ResponseError{Code: code, Message: err.Error()}}
}

// summarize sets Success and Status from the results: success when all
// tasks succeeded, partial when some did.
func (r *Response) summarize() {
	succeeded := 0
	for _, res := range r.Results {
		if res.Succeeded() {
			succeeded++
		}
	}
	switch {
	case len(r.Results) > 0 && succeeded == len(r.Results):
		r.Success, r.Status = true, agent.ResultSuccess
	case succeeded > 0:
		r.Status = agent.ResultPartial
	default:
		r.Status = agent.ResultFailure
	}
	if !r.Success && r.Error == nil {
		r.Error = &ResponseError{Code: CodeExecutionFailed, Message: firstError(r.Results)}
	}
}

func firstError(results []*agent.TaskResult) string {
	for _, r := range results {
		if !r.Succeeded() && r.Error != "" {
			return r.Error
		}
	}
	return "execution failed"
}
