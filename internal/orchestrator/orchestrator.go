// Package orchestrator turns requests into tasks, dispatches them to agents
// and runs workflows.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/workflow"
)

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Classifier  Classifier   // defaults to a RuleClassifier
	Routes      []AgentRoute // defaults to DefaultAgentRoutes
	Bus         *events.Bus
	Alerts      workflow.AlertSink
	Archive     Archive // optional
	StepTimeout time.Duration
	BatchSize   int // items per bulk batch, defaults to DefaultBatchSize
	Logger      *slog.Logger
}

// Archive stores finished workflow executions.
type Archive interface {
	Save(snap workflow.ExecutionSnapshot) error
}

// Orchestrator owns the agent registry, the workflow registry and the table
// of running workflow executions.
type Orchestrator struct {
	classifier Classifier
	routes     []AgentRoute
	bus        *events.Bus
	archive    Archive
	batchSize  int
	logger     *slog.Logger
	workflows  *workflow.Registry
	engine     *workflow.Engine

	mu     sync.RWMutex
	agents map[string]*agent.Runtime
	active map[string]*workflow.Execution
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		classifier: cfg.Classifier,
		routes:     cfg.Routes,
		bus:        cfg.Bus,
		archive:    cfg.Archive,
		batchSize:  cfg.BatchSize,
		logger:     cfg.Logger,
		workflows:  workflow.NewRegistry(),
		agents:     make(map[string]*agent.Runtime),
		active:     make(map[string]*workflow.Execution),
	}
	if o.classifier == nil {
		o.classifier = NewRuleClassifier()
	}
	if o.routes == nil {
		o.routes = DefaultAgentRoutes
	}
	if o.batchSize <= 0 {
		o.batchSize = DefaultBatchSize
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.engine = workflow.NewEngine(workflow.EngineConfig{
		Agents:      o,
		Bus:         cfg.Bus,
		Alerts:      cfg.Alerts,
		Logger:      o.logger,
		StepTimeout: cfg.StepTimeout,
	})
	return o
}

// RegisterAgent adds rt under name and makes the orchestrator its router.
func (o *Orchestrator) RegisterAgent(name string, rt *agent.Runtime) {
	o.mu.Lock()
	o.agents[name] = rt
	o.mu.Unlock()
	rt.SetRouter(o)
	o.logger.Info("agent registered", "agent", name)
}

// Agent returns the runtime registered under name.
func (o *Orchestrator) Agent(name string) (*agent.Runtime, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	rt, ok := o.agents[name]
	return rt, ok
}

// Agents returns the registered agent names, sorted.
func (o *Orchestrator) Agents() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	names := make([]string, 0, len(o.agents))
	for name := range o.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterWorkflow validates and adds wf.
func (o *Orchestrator) RegisterWorkflow(wf *workflow.Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	return o.workflows.Register(wf)
}

// Workflow returns the workflow registered under id.
func (o *Orchestrator) Workflow(id string) (*workflow.Workflow, bool) {
	return o.workflows.Get(id)
}

// Workflows returns every registered workflow sorted by id.
func (o *Orchestrator) Workflows() []*workflow.Workflow {
	return o.workflows.All()
}

// AnalyzeIntent classifies a request.
func (o *Orchestrator) AnalyzeIntent(ctx context.Context, request string) ([]Intent, error) {
	return o.classifier.Classify(ctx, request)
}

// SelectAgents groups tasks by agent using the configured routes.
func (o *Orchestrator) SelectAgents(tasks []*agent.Task) []Assignment {
	return SelectAgents(o.routes, tasks)
}

// ProcessUserRequest classifies the request, decomposes the best intent and
// runs the tasks in dependency order, one at a time. Only the items of a bulk
// task run concurrently.
func (o *Orchestrator) ProcessUserRequest(ctx context.Context, request string, ectx *agent.ExecutionContext) *Response {
	ectx = withTrace(ctx, ectx)
	o.publish(ectx.TraceID, events.RequestReceivedPayload{Request: request, UserID: ectx.UserID})

	resp := o.processRequest(ctx, request, ectx)

	handled := events.RequestHandledPayload{Success: resp.Success, Tasks: len(resp.Results)}
	if resp.Intent != nil {
		handled.Action = resp.Intent.Action
	}
	if resp.Error != nil {
		handled.Error = resp.Error.Message
	}
	o.publish(ectx.TraceID, handled)
	return resp
}

func (o *Orchestrator) processRequest(ctx context.Context, request string, ectx *agent.ExecutionContext) *Response {
	if strings.TrimSpace(request) == "" {
		return errorResponse(CodeInvalidRequest, fmt.Errorf("%w: empty request", ErrInvalidRequest))
	}

	intents, err := o.AnalyzeIntent(ctx, request)
	if err != nil {
		return errorResponse(CodeExecutionFailed, fmt.Errorf("classify: %w", err))
	}
	best, ok := Best(intents)
	if !ok {
		o.logger.Info("no intent recognized", "request", request)
		return errorResponse(CodeNoIntent, ErrNoIntent)
	}

	tasks := DecomposeTask(best, ectx)
	if len(tasks) == 0 {
		return &Response{Intent: &best, Error: &ResponseError{Code: CodeNoIntent, Message: ErrNoIntent.Error()}}
	}

	assignments := o.SelectAgents(tasks)
	owner := make(map[string]*agent.Runtime, len(tasks))
	for _, a := range assignments {
		rt, found := o.Agent(a.Agent)
		if !found {
			resp := errorResponse(CodeUnknownAgent, fmt.Errorf("%w: no agent for %q", ErrUnknownAgent, a.Tasks[0].Type))
			resp.Intent = &best
			return resp
		}
		for _, t := range a.Tasks {
			owner[t.ID] = rt
		}
	}

	p, err := newPlan(tasks)
	if err != nil {
		resp := errorResponse(CodeExecutionFailed, err)
		resp.Intent = &best
		return resp
	}

	o.logger.Info("executing request",
		"action", best.Action, "confidence", best.Confidence, "tasks", len(tasks), "agents", len(assignments))

	resp := &Response{Intent: &best}
	results := make(map[string]*agent.TaskResult, len(tasks))
	for _, t := range p.order {
		r := o.runTask(ctx, owner[t.ID], t, p.needs[t.ID], results, ectx)
		results[t.ID] = r
		resp.Results = append(resp.Results, r)
	}
	resp.summarize()
	return resp
}

// runTask dispatches t once its prerequisites succeeded. Failed prerequisites
// and unresolved references fail t without invoking the agent. Bulk task
// types fan out over their item list.
func (o *Orchestrator) runTask(ctx context.Context, rt *agent.Runtime, t *agent.Task, needs []string, results map[string]*agent.TaskResult, ectx *agent.ExecutionContext) *agent.TaskResult {
	for _, need := range needs {
		if !results[need].Succeeded() {
			return skippedResult(t, fmt.Errorf("%w: %s", ErrDependency, need))
		}
	}

	payload, err := resolveRefs(t.Payload, results)
	if err != nil {
		return skippedResult(t, fmt.Errorf("%w: %v", ErrUnresolvedRef, err))
	}
	dispatched := *t
	dispatched.Payload = payload

	if spec, ok := bulkSpecs[t.Type]; ok {
		return o.runBulk(ctx, rt, &dispatched, spec, ectx)
	}

	result, err := rt.ProcessTask(ctx, &dispatched, ectx)
	if err != nil {
		return skippedResult(t, err)
	}
	return result
}

func skippedResult(t *agent.Task, err error) *agent.TaskResult {
	return &agent.TaskResult{
		TaskID:      t.ID,
		Status:      agent.ResultFailure,
		Error:       err.Error(),
		Suggestions: agent.SuggestionsFor(err),
	}
}

// ExecuteWorkflow runs the workflow with id. The execution is listed in
// ActiveExecutions until it reaches a terminal state.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, id string, ectx *agent.ExecutionContext, trigger map[string]any) (*workflow.Execution, error) {
	wf, ok := o.workflows.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", workflow.ErrUnknownWorkflow, id)
	}
	ectx = withTrace(ctx, ectx)
	if trigger == nil {
		trigger = map[string]any{"type": string(workflow.TriggerManual)}
	}

	exec := workflow.NewExecution(wf, ectx, trigger)
	o.mu.Lock()
	o.active[exec.ID] = exec
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, exec.ID)
		o.mu.Unlock()
	}()

	err := o.engine.Run(ctx, wf, exec)
	if o.archive != nil {
		if aerr := o.archive.Save(exec.Snapshot()); aerr != nil {
			o.logger.Warn("archive execution failed", "execution", exec.ID, "error", aerr)
		}
	}
	return exec, err
}

// ActiveExecutions returns the running workflow executions.
func (o *Orchestrator) ActiveExecutions() []*workflow.Execution {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*workflow.Execution, 0, len(o.active))
	for _, e := range o.active {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RouteMessage delivers msg to each recipient. Messages for the orchestrator
// are handled locally; unknown recipients are dropped.
func (o *Orchestrator) RouteMessage(ctx context.Context, msg agent.AgentMessage) {
	for _, to := range msg.To {
		if to == agent.OrchestratorID {
			o.handleMessage(ctx, msg)
			o.publish("", events.MessageRoutedPayload{MessageID: msg.ID, From: msg.From, To: to, Type: string(msg.Type)})
			continue
		}
		rt, ok := o.Agent(to)
		if !ok {
			o.logger.Warn("message dropped: unknown recipient", "message_id", msg.ID, "to", to, "from", msg.From)
			o.publish("", events.MessageDroppedPayload{MessageID: msg.ID, To: to, Reason: "unknown recipient"})
			continue
		}
		rt.HandleMessage(ctx, msg)
		o.publish("", events.MessageRoutedPayload{MessageID: msg.ID, From: msg.From, To: to, Type: string(msg.Type)})
	}
}

// handleMessage serves requests addressed to the orchestrator:
// "process_request" (data: request text) and "execute_workflow"
// (data: workflow id). The outcome is sent back to the sender.
func (o *Orchestrator) handleMessage(ctx context.Context, msg agent.AgentMessage) {
	if msg.Type != agent.MessageRequest {
		o.logger.Debug("orchestrator message", "message_id", msg.ID, "type", msg.Type, "from", msg.From)
		return
	}

	var reply agent.MessagePayload
	switch msg.Payload.Action {
	case "process_request":
		text, _ := msg.Payload.Data.(string)
		reply = agent.MessagePayload{Action: msg.Payload.Action, Data: o.ProcessUserRequest(ctx, text, nil)}
	case "execute_workflow":
		id, _ := msg.Payload.Data.(string)
		exec, err := o.ExecuteWorkflow(ctx, id, nil, map[string]any{"type": "message", "from": msg.From})
		data := map[string]any{"workflow_id": id}
		if exec != nil {
			data["execution"] = exec.Snapshot()
		}
		if err != nil {
			data["error"] = err.Error()
		}
		reply = agent.MessagePayload{Action: msg.Payload.Action, Data: data}
	default:
		o.logger.Warn("orchestrator: unsupported action", "action", msg.Payload.Action, "from", msg.From)
		return
	}

	if _, ok := o.Agent(msg.From); ok {
		o.RouteMessage(ctx, msg.Reply(agent.OrchestratorID, agent.MessageResponse, reply))
	}
}

// withTrace copies ectx and fills its trace id from ctx. The caller's value is
// never modified.
func withTrace(ctx context.Context, ectx *agent.ExecutionContext) *agent.ExecutionContext {
	var c agent.ExecutionContext
	if ectx != nil {
		c = *ectx
	}
	if c.TraceID == "" {
		c.TraceID = events.TraceIDFromContext(ctx)
	}
	return &c
}

func (o *Orchestrator) publish(traceID string, payload events.EventPayload) {
	o.bus.Publish(events.NewTypedEventWithTrace(events.SourceOrchestrator, payload, traceID))
}

var _ workflow.AgentResolver = (*Orchestrator)(nil)

// errorCode maps an ExecuteWorkflow error to a response code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, workflow.ErrUnknownWorkflow):
		return CodeUnknownWorkflow
	case errors.Is(err, workflow.ErrUnknownAgent), errors.Is(err, ErrUnknownAgent):
		return CodeUnknownAgent
	case errors.Is(err, ErrNoIntent):
		return CodeNoIntent
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	}
	return CodeExecutionFailed
}

// ErrorResponse wraps err in a Response with the matching code.
func ErrorResponse(err error) *Response {
	return errorResponse(errorCode(err), err)
}
