package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/events"
)

// DefaultStepTimeout bounds a step when neither the step nor the engine sets one.
const DefaultStepTimeout = 30 * time.Second

// AgentResolver looks up agent runtimes by name.
type AgentResolver interface {
	Agent(name string) (*agent.Runtime, bool)
}

// EngineConfig holds the dependencies of an Engine.
type EngineConfig struct {
	Agents      AgentResolver
	Bus         *events.Bus
	Alerts      AlertSink // defaults to a BusAlertSink
	Logger      *slog.Logger
	StepTimeout time.Duration
	Now         func() time.Time
}

// Engine runs workflow executions.
type Engine struct {
	agents      AgentResolver
	bus         *events.Bus
	alerts      AlertSink
	logger      *slog.Logger
	stepTimeout time.Duration
	now         func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		agents:      cfg.Agents,
		bus:         cfg.Bus,
		alerts:      cfg.Alerts,
		logger:      cfg.Logger,
		stepTimeout: cfg.StepTimeout,
		now:         cfg.Now,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.alerts == nil {
		e.alerts = NewBusAlertSink(cfg.Bus, e.logger)
	}
	if e.stepTimeout <= 0 {
		e.stepTimeout = DefaultStepTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Run executes wf into exec. Steps run in order; consecutive parallel steps
// run concurrently and are joined before the next step. A step with
// on_success/on_failure jumps forward after it finishes. On failure the
// error strategy runs (alerts, then fallback) and the step error is returned.
func (e *Engine) Run(ctx context.Context, wf *Workflow, exec *Execution) error {
	exec.mu.Lock()
	exec.Status = ExecutionRunning
	exec.StartTime = e.now()
	exec.mu.Unlock()

	e.publish(exec, events.WorkflowStartedPayload{
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		Trigger:     triggerName(exec.Trigger),
	})
	e.logger.Info("workflow started", "workflow", wf.ID, "execution", exec.ID)

	i := 0
	for i < len(wf.Steps) {
		step := &wf.Steps[i]

		if step.Parallel {
			end := i
			for end < len(wf.Steps) && wf.Steps[end].Parallel {
				end++
			}
			if err := e.runGroup(ctx, wf, exec, wf.Steps[i:end]); err != nil {
				return e.fail(ctx, wf, exec, err)
			}
			i = end
			continue
		}

		ran, err := e.runStep(ctx, wf, exec, step, false)
		switch {
		case err != nil && step.OnFailure != "" && !errors.Is(err, ErrStepTimeout):
			e.logger.Warn("step failed, branching",
				"workflow", wf.ID, "step", step.ID, "next", step.OnFailure, "error", err)
			i = wf.StepIndex(step.OnFailure)
		case err != nil:
			return e.fail(ctx, wf, exec, err)
		case ran && step.OnSuccess != "":
			i = wf.StepIndex(step.OnSuccess)
		default:
			i++
		}
	}

	exec.mu.Lock()
	exec.Status = ExecutionCompleted
	exec.EndTime = e.now()
	exec.CurrentStep = ""
	duration := exec.EndTime.Sub(exec.StartTime)
	steps := len(exec.Results)
	exec.mu.Unlock()

	e.publish(exec, events.WorkflowCompletedPayload{
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		Steps:       steps,
		Duration:    duration,
	})
	e.logger.Info("workflow completed", "workflow", wf.ID, "execution", exec.ID, "steps", steps, "duration", duration)
	return nil
}

// runGroup runs a parallel group. The first step of each agent uses the
// registered runtime; later steps of the same agent run on workers.
func (e *Engine) runGroup(ctx context.Context, wf *Workflow, exec *Execution, group []Step) error {
	g, gctx := errgroup.WithContext(ctx)
	claimed := make(map[string]bool, len(group))
	for i := range group {
		step := &group[i]
		worker := claimed[step.Agent]
		claimed[step.Agent] = true
		g.Go(func() error {
			_, err := e.runStep(gctx, wf, exec, step, worker)
			return err
		})
	}
	return g.Wait()
}

// runStep evaluates the step's conditions and runs it. ran is false when the
// step was skipped.
func (e *Engine) runStep(ctx context.Context, wf *Workflow, exec *Execution, step *Step, worker bool) (ran bool, err error) {
	ok, err := EvaluateAll(step.Conditions, exec.State())
	if err != nil {
		return false, &StepError{StepID: step.ID, Err: err}
	}
	if !ok {
		exec.skip(step.ID)
		e.publish(exec, events.WorkflowStepSkippedPayload{
			WorkflowID:  wf.ID,
			ExecutionID: exec.ID,
			StepID:      step.ID,
			Reason:      "conditions not met",
		})
		e.logger.Debug("step skipped", "workflow", wf.ID, "step", step.ID)
		return false, nil
	}

	exec.setCurrent(step.ID)

	rt, found := e.agents.Agent(step.Agent)
	if !found {
		return true, &StepError{StepID: step.ID, Err: fmt.Errorf("%w: %s", ErrUnknownAgent, step.Agent)}
	}
	if worker {
		rt = rt.Worker()
	}

	payload, err := e.resolveInput(exec, step)
	if err != nil {
		return true, &StepError{StepID: step.ID, Err: err}
	}

	task := &agent.Task{
		ID:          agent.GenerateTaskID(),
		Type:        step.Action,
		Description: fmt.Sprintf("%s/%s", wf.ID, step.ID),
		Priority:    agent.PriorityNormal,
		Payload:     payload,
	}
	applyRetryPolicy(task, wf.OnError.Retry)

	e.publish(exec, events.WorkflowStepStartedPayload{
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		StepID:      step.ID,
		Agent:       step.Agent,
		Action:      step.Action,
	})

	start := e.now()
	result, err := e.dispatch(ctx, rt, task, exec.Context, e.timeoutFor(step))
	if err != nil && result == nil {
		result = &agent.TaskResult{
			TaskID:        task.ID,
			Status:        agent.ResultFailure,
			Error:         err.Error(),
			ExecutionTime: e.now().Sub(start),
		}
	}
	exec.record(step.ID, result)

	if err == nil && result.Status == agent.ResultFailure {
		err = fmt.Errorf("%w: %s", ErrStepFailed, result.Error)
	}

	completed := events.WorkflowStepCompletedPayload{
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		StepID:      step.ID,
		Status:      string(result.Status),
		Duration:    e.now().Sub(start),
	}
	if err != nil {
		completed.Error = err.Error()
	}
	e.publish(exec, completed)

	if err != nil {
		return true, &StepError{StepID: step.ID, Err: err}
	}
	return true, nil
}

// dispatch races the agent against the step timeout. On timeout the agent
// call is left to finish in the background.
func (e *Engine) dispatch(ctx context.Context, rt *agent.Runtime, task *agent.Task, ectx *agent.ExecutionContext, timeout time.Duration) (*agent.TaskResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *agent.TaskResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := rt.ProcessTask(stepCtx, task, ectx)
		done <- outcome{r, err}
	}()

	var o outcome
	select {
	case o = <-done:
		if o.err == nil && o.result.Succeeded() {
			return o.result, nil
		}
	case <-stepCtx.Done():
		o.err = stepCtx.Err()
	}
	// An agent that gave up because the deadline passed still timed out.
	if ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrStepTimeout, timeout)
	}
	return o.result, o.err
}

func (e *Engine) resolveInput(exec *Execution, step *Step) (map[string]any, error) {
	payload := make(map[string]any, len(step.Params)+1)
	for k, v := range step.Params {
		payload[k] = v
	}
	if step.Input == nil {
		return payload, nil
	}

	src, ok := exec.Result(step.Input.Step)
	if !ok {
		return nil, fmt.Errorf("%w: step %q has not run", ErrUnresolvedInput, step.Input.Step)
	}
	value, ok := agent.Lookup(normalize(src.Data), step.Input.Path)
	if !ok {
		return nil, fmt.Errorf("%w: %q has no %q", ErrUnresolvedInput, step.Input.Step, step.Input.Path)
	}

	if m, isMap := value.(map[string]any); isMap {
		for k, v := range m {
			if _, set := payload[k]; !set {
				payload[k] = v
			}
		}
	} else {
		payload["input"] = value
	}
	return payload, nil
}

// fail applies the error strategy and returns err.
func (e *Engine) fail(ctx context.Context, wf *Workflow, exec *Execution, err error) error {
	exec.mu.Lock()
	exec.Status = ExecutionFailed
	exec.EndTime = e.now()
	exec.Error = err.Error()
	failedStep := exec.CurrentStep
	exec.mu.Unlock()

	var se *StepError
	if errors.As(err, &se) {
		failedStep = se.StepID
	}

	e.publish(exec, events.WorkflowFailedPayload{
		WorkflowID:  wf.ID,
		ExecutionID: exec.ID,
		StepID:      failedStep,
		Error:       err.Error(),
	})
	e.logger.Error("workflow failed", "workflow", wf.ID, "execution", exec.ID, "step", failedStep, "error", err)

	// The caller's context may be what failed; recovery must still run.
	recoverCtx := context.WithoutCancel(ctx)

	if a := wf.OnError.Alerts; a != nil {
		severity := a.Severity
		if severity == "" {
			severity = "error"
		}
		for _, ch := range a.Channels {
			alert := Alert{
				WorkflowID:  wf.ID,
				ExecutionID: exec.ID,
				Channel:     ch,
				Severity:    severity,
				Message:     fmt.Sprintf("workflow %s failed: %v", wf.Name, err),
			}
			if aerr := e.alerts.Alert(recoverCtx, alert); aerr != nil {
				e.logger.Warn("alert delivery failed", "channel", ch, "error", aerr)
			}
		}
	}

	if fb := wf.OnError.Fallback; fb != nil {
		e.runFallback(recoverCtx, wf, exec, fb, err)
	}
	return err
}

func (e *Engine) runFallback(ctx context.Context, wf *Workflow, exec *Execution, fb *Fallback, cause error) {
	rt, ok := e.agents.Agent(fb.Agent)
	if !ok {
		e.logger.Warn("fallback agent not found", "workflow", wf.ID, "agent", fb.Agent)
		return
	}
	// A timed-out step may still hold the agent.
	if rt.CurrentTask() != nil {
		rt = rt.Worker()
	}
	task := &agent.Task{
		ID:          agent.GenerateTaskID(),
		Type:        fb.Action,
		Description: fmt.Sprintf("%s/fallback", wf.ID),
		Priority:    agent.PriorityHigh,
		Payload: map[string]any{
			"error":     cause.Error(),
			"execution": exec.Snapshot(),
		},
		MaxRetries: -1,
	}
	result, err := e.dispatch(ctx, rt, task, exec.Context, e.stepTimeout)
	switch {
	case err != nil:
		e.logger.Warn("fallback failed", "workflow", wf.ID, "agent", fb.Agent, "error", err)
	case !result.Succeeded():
		e.logger.Warn("fallback failed", "workflow", wf.ID, "agent", fb.Agent, "error", result.Error)
	default:
		e.logger.Info("fallback completed", "workflow", wf.ID, "agent", fb.Agent, "action", fb.Action)
	}
}

func (e *Engine) timeoutFor(step *Step) time.Duration {
	if d := step.Timeout.Duration(); d > 0 {
		return d
	}
	return e.stepTimeout
}

func (e *Engine) publish(exec *Execution, payload events.EventPayload) {
	var traceID string
	if exec.Context != nil {
		traceID = exec.Context.TraceID
	}
	e.bus.Publish(events.NewTypedEventWithTrace(events.SourceWorkflow, payload, traceID))
}

func applyRetryPolicy(task *agent.Task, p *RetryPolicy) {
	if p == nil {
		return
	}
	switch {
	case p.MaxAttempts == 1:
		task.MaxRetries = -1
	case p.MaxAttempts > 1:
		task.MaxRetries = p.MaxAttempts - 1
	}
	if p.Backoff != "" || p.InitialDelay > 0 {
		task.Backoff = &agent.Backoff{Kind: p.Backoff, Initial: p.InitialDelay.Duration()}
	}
}

func triggerName(trigger map[string]any) string {
	if t, ok := trigger["type"].(string); ok {
		return t
	}
	return string(TriggerManual)
}
