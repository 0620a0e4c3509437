package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/memory"
)

// DefaultMaxRetries is used when neither the task nor the runtime sets one.
const DefaultMaxRetries = 3

// executionTTL bounds how long execution records stay in long-term memory.
const executionTTL = 30 * 24 * time.Hour

// Status is the agent state machine position.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusThinking  Status = "thinking"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Capability declares something an agent can do.
type Capability struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Inputs      map[string]string `json:"inputs,omitempty"` // param → type
}

// Executor is the agent-specific part of a runtime.
type Executor interface {
	Name() string
	Capabilities() []Capability
	Validate(payload map[string]any) bool
	Execute(ctx context.Context, rt *Runtime, task *Task, ectx *ExecutionContext) (*TaskResult, error)
}

// Lifecycle is implemented by executors that hold resources.
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Optional message handlers, dispatched by message type.
type (
	RequestHandler interface {
		HandleRequest(ctx context.Context, rt *Runtime, msg AgentMessage) error
	}
	ResponseHandler interface {
		HandleResponse(ctx context.Context, rt *Runtime, msg AgentMessage) error
	}
	EventHandler interface {
		HandleEvent(ctx context.Context, rt *Runtime, msg AgentMessage) error
	}
	ErrorHandler interface {
		HandleError(ctx context.Context, rt *Runtime, msg AgentMessage) error
	}
)

// Corrector applies feedback corrections.
type Corrector interface {
	ApplyCorrections(ctx context.Context, rt *Runtime, fb Feedback) error
}

// Feedback is a rating of a finished task.
type Feedback struct {
	TaskID      string         `json:"task_id"`
	TaskType    string         `json:"task_type,omitempty"`
	Rating      int            `json:"rating"` // 1..5
	Comment     string         `json:"comment,omitempty"`
	Corrections map[string]any `json:"corrections,omitempty"`
}

// RuntimeConfig holds the collaborators of a Runtime.
type RuntimeConfig struct {
	Memory     *memory.Store // defaults to a private in-memory store
	Bus        *events.Bus   // optional
	Tools      *ToolRegistry // optional
	Router     MessageRouter // optional, used by Send
	Logger     *slog.Logger
	MaxRetries int     // zero means DefaultMaxRetries
	Backoff    Backoff // zero means DefaultBackoff
	Learning   *bool   // nil means enabled
	Sleep      SleepFunc
	Now        func() time.Time
}

// Runtime drives one agent through idle → thinking → executing →
// completed|error → idle. One task runs at a time; overlapping calls get
// ErrAgentBusy.
type Runtime struct {
	exec       Executor
	name       string
	memory     *memory.Store
	shortTerm  *memory.ShortTerm
	bus        *events.Bus
	tools      *ToolRegistry
	router     MessageRouter
	logger     *slog.Logger
	maxRetries int
	backoff    Backoff
	learning   bool
	sleep      SleepFunc
	now        func() time.Time

	mu        sync.Mutex
	status    Status
	current   *Task
	toolsUsed []string
	cost      float64
	stopped   bool

	metrics *metricsTracker
}

// NewRuntime wraps exec with the shared runtime behavior.
func NewRuntime(exec Executor, cfg RuntimeConfig) *Runtime {
	rt := &Runtime{
		exec:       exec,
		name:       exec.Name(),
		memory:     cfg.Memory,
		shortTerm:  memory.NewShortTerm(),
		bus:        cfg.Bus,
		tools:      cfg.Tools,
		router:     cfg.Router,
		logger:     cfg.Logger,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.Backoff,
		learning:   cfg.Learning == nil || *cfg.Learning,
		sleep:      cfg.Sleep,
		now:        cfg.Now,
		status:     StatusIdle,
		metrics:    &metricsTracker{},
	}
	if rt.memory == nil {
		rt.memory = memory.NewStore(memory.Options{})
	}
	if rt.tools == nil {
		rt.tools = NewToolRegistry()
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	rt.logger = rt.logger.With("agent", rt.name)
	if rt.maxRetries <= 0 {
		rt.maxRetries = DefaultMaxRetries
	}
	if rt.backoff.Kind == "" {
		rt.backoff.Kind = DefaultBackoff.Kind
	}
	if rt.backoff.Initial <= 0 {
		rt.backoff.Initial = DefaultBackoff.Initial
	}
	if rt.sleep == nil {
		rt.sleep = sleepContext
	}
	if rt.now == nil {
		rt.now = time.Now
	}
	return rt
}

func (r *Runtime) Name() string                 { return r.name }
func (r *Runtime) Executor() Executor           { return r.exec }
func (r *Runtime) Capabilities() []Capability   { return r.exec.Capabilities() }
func (r *Runtime) Memory() *memory.Store        { return r.memory }
func (r *Runtime) ShortTerm() *memory.ShortTerm { return r.shortTerm }
func (r *Runtime) Tools() *ToolRegistry         { return r.tools }
func (r *Runtime) Logger() *slog.Logger         { return r.logger }

// SetRouter sets the router used by Send.
func (r *Runtime) SetRouter(router MessageRouter) {
	r.router = router
}

// Worker returns a runtime for the same agent with its own busy guard. It
// shares the executor, memory, tools, bus and metrics with r, so tasks run on
// workers are learned from and counted as r's. The executor must be safe for
// concurrent use.
func (r *Runtime) Worker() *Runtime {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	return &Runtime{
		exec:       r.exec,
		name:       r.name,
		memory:     r.memory,
		shortTerm:  r.shortTerm,
		bus:        r.bus,
		tools:      r.tools,
		router:     r.router,
		logger:     r.logger,
		maxRetries: r.maxRetries,
		backoff:    r.backoff,
		learning:   r.learning,
		sleep:      r.sleep,
		now:        r.now,
		status:     StatusIdle,
		stopped:    stopped,
		metrics:    r.metrics,
	}
}

// Status returns the current state.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// CurrentTask returns the task in flight, or nil.
func (r *Runtime) CurrentTask() *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Metrics returns a snapshot of the execution metrics.
func (r *Runtime) Metrics() Metrics {
	return r.metrics.snapshot()
}

// Start readies the agent and its executor.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = false
	r.mu.Unlock()
	if lc, ok := r.exec.(Lifecycle); ok {
		if err := lc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", r.name, err)
		}
	}
	r.logger.Debug("agent started")
	return nil
}

// Stop rejects further tasks and releases executor resources.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	if lc, ok := r.exec.(Lifecycle); ok {
		if err := lc.Stop(ctx); err != nil {
			return fmt.Errorf("stop %s: %w", r.name, err)
		}
	}
	r.logger.Debug("agent stopped")
	return nil
}

// ProcessTask runs task to completion. Execution failures are reported in the
// returned TaskResult; the error is reserved for caller mistakes (nil task,
// busy or stopped agent).
func (r *Runtime) ProcessTask(ctx context.Context, task *Task, ectx *ExecutionContext) (*TaskResult, error) {
	if task == nil {
		return nil, ErrNilTask
	}
	if ectx == nil {
		ectx = &ExecutionContext{}
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrAgentStopped
	}
	if r.current != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is running %s", ErrAgentBusy, r.name, r.current.ID)
	}
	r.current = task
	r.toolsUsed = nil
	r.cost = 0
	r.mu.Unlock()

	stKey := "task:" + task.ID
	defer func() {
		r.shortTerm.Delete(stKey)
		r.mu.Lock()
		r.current = nil
		r.mu.Unlock()
		r.setStatus(StatusIdle, task.ID, ectx.TraceID)
	}()

	start := r.now()
	r.setStatus(StatusThinking, task.ID, ectx.TraceID)
	r.shortTerm.Set(stKey, task)

	if !r.exec.Validate(task.Payload) {
		err := fmt.Errorf("%w: %s payload rejected by %s", ErrValidationFailed, task.Type, r.name)
		return r.fail(task, ectx, err, 0, start), nil
	}

	if sug := r.memory.SuggestApproach(task.Type); !sug.Empty() {
		ctx = ContextWithSuggestion(ctx, sug)
	}

	r.setStatus(StatusExecuting, task.ID, ectx.TraceID)
	result, attempts, err := r.executeWithRetry(ctx, task, ectx)
	if err != nil {
		return r.fail(task, ectx, err, attempts, start), nil
	}

	if result.Status == ResultFailure {
		msg := result.Error
		if msg == "" {
			msg = "execution reported failure"
		}
		return r.fail(task, ectx, errors.New(msg), attempts, start), nil
	}
	r.finalize(task, result, attempts, start)

	r.setStatus(StatusCompleted, task.ID, ectx.TraceID)
	r.storeExecution(task, result, ectx)
	r.metrics.recordExecution(result.ExecutionTime, true)

	r.bus.Publish(events.NewTypedEventWithTrace(events.SourceAgent, events.TaskCompletedPayload{
		Agent:     r.name,
		TaskID:    task.ID,
		TaskType:  task.Type,
		Status:    string(result.Status),
		Duration:  result.ExecutionTime,
		ToolsUsed: result.ToolsUsed,
	}, ectx.TraceID))

	r.logger.Info("task completed",
		"task_id", task.ID,
		"type", task.Type,
		"status", result.Status,
		"attempts", attempts,
		"duration", result.ExecutionTime,
	)
	return result, nil
}

func (r *Runtime) executeWithRetry(ctx context.Context, task *Task, ectx *ExecutionContext) (*TaskResult, int, error) {
	maxRetries := task.MaxRetries
	switch {
	case maxRetries < 0:
		maxRetries = 0
	case maxRetries == 0:
		maxRetries = r.maxRetries
	}
	backoff := r.backoff
	if task.Backoff != nil {
		backoff = *task.Backoff
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff.Delay(attempt)
			r.bus.Publish(events.NewTypedEventWithTrace(events.SourceAgent, events.TaskProgressPayload{
				Agent:      r.name,
				TaskID:     task.ID,
				Attempt:    attempt,
				MaxRetries: maxRetries,
				Message:    fmt.Sprintf("retrying in %s: %v", delay, lastErr),
			}, ectx.TraceID))
			r.logger.Warn("task attempt failed, retrying",
				"task_id", task.ID,
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", delay,
				"error", lastErr,
			)
			if err := r.sleep(ctx, delay); err != nil {
				return nil, attempt, fmt.Errorf("%w (retry aborted: %v)", lastErr, err)
			}
		}
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return nil, attempt, fmt.Errorf("%w (retry aborted: %v)", lastErr, err)
			}
			return nil, attempt, err
		}

		result, err := r.exec.Execute(ctx, r, task, ectx)
		if err == nil {
			if result == nil {
				result = &TaskResult{Status: ResultSuccess}
			}
			return result, attempt + 1, nil
		}
		lastErr = err
		if !Retryable(err) {
			return nil, attempt + 1, err
		}
	}
	return nil, maxRetries + 1, lastErr
}

// finalize fills the runtime-owned fields of a result.
func (r *Runtime) finalize(task *Task, result *TaskResult, attempts int, start time.Time) {
	r.mu.Lock()
	tools := append([]string(nil), r.toolsUsed...)
	cost := r.cost
	r.mu.Unlock()

	result.TaskID = task.ID
	if result.Status == "" {
		result.Status = ResultSuccess
	}
	if result.ExecutionTime == 0 {
		result.ExecutionTime = r.now().Sub(start)
	}
	if len(result.ToolsUsed) == 0 {
		result.ToolsUsed = tools
	}
	if result.Cost == 0 {
		result.Cost = cost
	}
	if result.Confidence != nil {
		c := min(max(*result.Confidence, 0), 1)
		result.Confidence = &c
	}
	result.Attempts = attempts
}

func (r *Runtime) fail(task *Task, ectx *ExecutionContext, err error, attempts int, start time.Time) *TaskResult {
	result := &TaskResult{
		TaskID:        task.ID,
		Status:        ResultFailure,
		Error:         err.Error(),
		ExecutionTime: r.now().Sub(start),
		Suggestions:   SuggestionsFor(err),
		Attempts:      attempts,
	}
	r.mu.Lock()
	result.ToolsUsed = append([]string(nil), r.toolsUsed...)
	result.Cost = r.cost
	r.mu.Unlock()

	r.setStatus(StatusError, task.ID, ectx.TraceID)
	r.metrics.recordExecution(result.ExecutionTime, false)

	if r.learning && len(result.ToolsUsed) > 0 {
		r.memory.LearnFromFailure(task.Type, memory.Approach{
			ToolsUsed:     result.ToolsUsed,
			ExecutionTime: result.ExecutionTime,
			Notes:         result.Error,
		})
	}

	r.bus.Publish(events.NewTypedEventWithTrace(events.SourceAgent, events.TaskFailedPayload{
		Agent:    r.name,
		TaskID:   task.ID,
		TaskType: task.Type,
		Error:    result.Error,
		Attempts: attempts,
	}, ectx.TraceID))

	r.logger.Error("task failed",
		"task_id", task.ID,
		"type", task.Type,
		"attempts", attempts,
		"error", err,
	)
	return result
}

func (r *Runtime) storeExecution(task *Task, result *TaskResult, ectx *ExecutionContext) {
	record := map[string]any{
		"task":    task,
		"result":  result,
		"context": ectx,
	}
	key := fmt.Sprintf("execution:%s:%s", r.name, task.ID)
	if err := r.memory.Remember(key, record, executionTTL); err != nil {
		r.logger.Warn("store execution", "task_id", task.ID, "error", err)
	}

	data := map[string]any{
		"task_id":        task.ID,
		"task_type":      task.Type,
		"tools_used":     result.ToolsUsed,
		"execution_time": int64(result.ExecutionTime),
	}
	r.memory.StoreEvent(memory.AgentEvent{
		AgentID: r.name,
		Type:    memory.EventTaskExecution,
		Data:    data,
		Outcome: memory.OutcomeSuccess,
	})

	if !r.learning {
		return
	}
	r.memory.StoreEvent(memory.AgentEvent{
		AgentID: r.name,
		Type:    memory.EventLearning,
		Data:    data,
		Outcome: memory.OutcomeSuccess,
	})
	if len(result.ToolsUsed) > 0 {
		r.memory.AddRelation(task.Type, memory.PredicateSolvedBy, strings.Join(result.ToolsUsed, ","))
	}
}

func (r *Runtime) setStatus(to Status, taskID, traceID string) {
	r.mu.Lock()
	from := r.status
	r.status = to
	r.mu.Unlock()
	if from == to {
		return
	}
	r.bus.Publish(events.NewTypedEventWithTrace(events.SourceAgent, events.AgentStatusPayload{
		Agent:  r.name,
		From:   string(from),
		To:     string(to),
		TaskID: taskID,
	}, traceID))
}

// CallTool runs a registered tool. Unknown tools and rejected params fail
// before the tool is invoked.
func (r *Runtime) CallTool(ctx context.Context, name string, params map[string]any) (any, error) {
	t, ok := r.tools.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	if v, ok := t.(ToolValidator); ok && !v.Validate(params) {
		return nil, fmt.Errorf("%w: %s", ErrToolValidation, name)
	}

	start := time.Now()
	out, err := t.Execute(ctx, params)
	elapsed := time.Since(start)

	var cost float64
	if c, ok := t.(CostedTool); ok {
		cost = c.Cost()
	}
	r.metrics.recordToolCall(elapsed, cost)

	r.mu.Lock()
	if !containsString(r.toolsUsed, name) {
		r.toolsUsed = append(r.toolsUsed, name)
	}
	r.cost += cost
	r.mu.Unlock()

	if cost > 0 {
		r.bus.Publish(events.NewTypedEventWithTrace(events.SourceAgent, events.ToolCostPayload{
			Agent: r.name,
			Tool:  name,
			Cost:  cost,
		}, events.TraceIDFromContext(ctx)))
	}

	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return out, nil
}

// HandleMessage dispatches msg to the executor's handler for its type.
// Unhandled types and expired messages are logged and dropped.
func (r *Runtime) HandleMessage(ctx context.Context, msg AgentMessage) {
	if msg.Expired(r.now()) {
		r.logger.Debug("message expired", "message_id", msg.ID, "from", msg.From)
		return
	}

	var err error
	handled := false
	switch msg.Type {
	case MessageRequest:
		if h, ok := r.exec.(RequestHandler); ok {
			handled, err = true, h.HandleRequest(ctx, r, msg)
		}
	case MessageResponse:
		if h, ok := r.exec.(ResponseHandler); ok {
			handled, err = true, h.HandleResponse(ctx, r, msg)
		}
	case MessageEvent:
		if h, ok := r.exec.(EventHandler); ok {
			handled, err = true, h.HandleEvent(ctx, r, msg)
		}
	case MessageError:
		if h, ok := r.exec.(ErrorHandler); ok {
			handled, err = true, h.HandleError(ctx, r, msg)
		}
	}

	if !handled {
		r.logger.Warn("unhandled message", "message_id", msg.ID, "type", msg.Type, "from", msg.From)
		return
	}
	if err != nil {
		r.logger.Error("message handler failed", "message_id", msg.ID, "type", msg.Type, "error", err)
	}
}

// Send routes msg through the configured router.
func (r *Runtime) Send(ctx context.Context, msg AgentMessage) {
	if msg.From == "" {
		msg.From = r.name
	}
	if r.router == nil {
		r.logger.Warn("no router, message dropped", "message_id", msg.ID)
		return
	}
	r.router.RouteMessage(ctx, msg)
}

// ReceiveFeedback records fb. Low ratings mark the task type as needing
// improvement; corrections go to the executor's Corrector.
func (r *Runtime) ReceiveFeedback(ctx context.Context, fb Feedback) error {
	r.memory.StoreEvent(memory.AgentEvent{
		AgentID: r.name,
		Type:    memory.EventFeedback,
		Data: map[string]any{
			"task_id":     fb.TaskID,
			"task_type":   fb.TaskType,
			"rating":      fb.Rating,
			"comment":     fb.Comment,
			"corrections": fb.Corrections,
		},
	})

	if fb.Rating < 3 {
		subject := fb.TaskType
		if subject == "" {
			subject = fb.TaskID
		}
		r.memory.AddRelation(subject, memory.PredicateNeedsImprovement, r.name)
	}

	r.bus.Publish(events.NewTypedEventWithTrace(events.SourceAgent, events.FeedbackPayload{
		Agent:  r.name,
		TaskID: fb.TaskID,
		Rating: fb.Rating,
	}, events.TraceIDFromContext(ctx)))

	if len(fb.Corrections) == 0 {
		return nil
	}
	c, ok := r.exec.(Corrector)
	if !ok {
		r.logger.Debug("corrections ignored, executor has no corrector", "task_id", fb.TaskID)
		return nil
	}
	if err := c.ApplyCorrections(ctx, r, fb); err != nil {
		return fmt.Errorf("apply corrections: %w", err)
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
