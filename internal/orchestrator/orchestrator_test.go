package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/workflow"
)

type handlerFunc func(ctx context.Context, task *agent.Task) (*agent.TaskResult, error)

type stubAgent struct {
	name    string
	handler handlerFunc

	mu       sync.Mutex
	tasks    []*agent.Task
	requests []agent.AgentMessage
	replies  []agent.AgentMessage
}

func (s *stubAgent) Name() string                     { return s.name }
func (s *stubAgent) Capabilities() []agent.Capability { return nil }
func (s *stubAgent) Validate(map[string]any) bool     { return true }

func (s *stubAgent) Execute(ctx context.Context, _ *agent.Runtime, task *agent.Task, _ *agent.ExecutionContext) (*agent.TaskResult, error) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	if s.handler == nil {
		return &agent.TaskResult{Status: agent.ResultSuccess, Data: map[string]any{"task": task.Type}}, nil
	}
	return s.handler(ctx, task)
}

func (s *stubAgent) HandleRequest(_ context.Context, _ *agent.Runtime, msg agent.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, msg)
	return nil
}

func (s *stubAgent) HandleResponse(_ context.Context, _ *agent.Runtime, msg agent.AgentMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, msg)
	return nil
}

func (s *stubAgent) seen() []*agent.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*agent.Task(nil), s.tasks...)
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func register(o *Orchestrator, name string, h handlerFunc) *stubAgent {
	s := &stubAgent{name: name, handler: h}
	o.RegisterAgent(name, agent.NewRuntime(s, agent.RuntimeConfig{Sleep: noSleep}))
	return s
}

func byType(handlers map[string]handlerFunc) handlerFunc {
	return func(ctx context.Context, task *agent.Task) (*agent.TaskResult, error) {
		if h, ok := handlers[task.Type]; ok {
			return h(ctx, task)
		}
		return &agent.TaskResult{Status: agent.ResultSuccess, Data: map[string]any{"task": task.Type}}, nil
	}
}

func success(data any) handlerFunc {
	return func(context.Context, *agent.Task) (*agent.TaskResult, error) {
		return &agent.TaskResult{Status: agent.ResultSuccess, Data: data}, nil
	}
}

func failure(msg string) handlerFunc {
	return func(context.Context, *agent.Task) (*agent.TaskResult, error) {
		return &agent.TaskResult{Status: agent.ResultFailure, Error: msg}, nil
	}
}

func TestProcessUserRequest_NoIntent(t *testing.T) {
	o := New(Config{})
	a := register(o, "invoice_agent", nil)

	resp := o.ProcessUserRequest(context.Background(), "Tell me a joke about penguins", nil)
	if resp.Success {
		t.Fatal("expected failure")
	}
	if resp.Error == nil || resp.Error.Code != CodeNoIntent {
		t.Fatalf("expected no_intent error, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "could not understand") {
		t.Fatalf("unexpected message %q", resp.Error.Message)
	}
	if len(resp.Results) != 0 || len(a.seen()) != 0 {
		t.Fatal("no task should be dispatched")
	}
}

func TestProcessUserRequest_InvoiceChainResolvesRefs(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	handled, unsub := bus.SubscribeChan(4, events.EventRequestHandled)
	defer unsub()

	o := New(Config{Bus: bus})
	register(o, "data_agent", byType(map[string]handlerFunc{
		"fetch_customer":       success(map[string]any{"id": "cus_42", "record": map[string]any{"name": "Acme Corp"}}),
		"query_billable_items": success(map[string]any{"items": []any{"consulting", "support"}}),
	}))
	inv := register(o, "invoice_agent", success(map[string]any{"invoice_id": "INV-1"}))

	resp := o.ProcessUserRequest(context.Background(), "Generate an invoice for Acme Corp for last month",
		&agent.ExecutionContext{UserID: "u1", OrganizationID: "org1"})
	if !resp.Success || resp.Status != agent.ResultSuccess {
		t.Fatalf("expected success, got %+v", resp.Error)
	}
	if resp.Intent == nil || resp.Intent.Action != ActionGenerateInvoice {
		t.Fatalf("unexpected intent: %+v", resp.Intent)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(resp.Results))
	}

	tasks := inv.seen()
	if len(tasks) != 1 {
		t.Fatalf("expected one invoice task, got %d", len(tasks))
	}
	p := tasks[0].Payload
	customer, _ := p["customer"].(map[string]any)
	if customer["name"] != "Acme Corp" || p["customer_id"] != "cus_42" {
		t.Fatalf("expected resolved customer, got %v %v", p["customer"], p["customer_id"])
	}
	if items, _ := p["items"].([]any); len(items) != 2 {
		t.Fatalf("expected resolved items, got %v", p["items"])
	}
	if p["period"] != "last_month" || p["organization_id"] != "org1" {
		t.Fatalf("expected entities in payload, got %v", p)
	}

	select {
	case e := <-handled:
		hp, ok := events.ExtractPayload[events.RequestHandledPayload](e)
		if !ok || !hp.Success || hp.Tasks != 3 || hp.Action != ActionGenerateInvoice {
			t.Fatalf("unexpected handled payload: %+v", hp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected request.handled event")
	}
}

func TestProcessUserRequest_DependencyFailureSkipsDependents(t *testing.T) {
	o := New(Config{})
	register(o, "data_agent", byType(map[string]handlerFunc{
		"fetch_customer": failure("customer not found"),
	}))
	inv := register(o, "invoice_agent", nil)

	resp := o.ProcessUserRequest(context.Background(), "Create invoice for Globex", nil)
	if resp.Success || resp.Status != agent.ResultFailure {
		t.Fatalf("expected failure, got %+v", resp)
	}
	if resp.Error == nil || resp.Error.Code != CodeExecutionFailed {
		t.Fatalf("expected execution_failed, got %+v", resp.Error)
	}
	if len(inv.seen()) != 0 {
		t.Fatal("invoice agent must not run when its inputs failed")
	}
	last := resp.Results[len(resp.Results)-1]
	if !strings.Contains(last.Error, ErrDependency.Error()) {
		t.Fatalf("expected dependency failure, got %q", last.Error)
	}
}

func TestProcessUserRequest_MonthEndPartial(t *testing.T) {
	o := New(Config{})
	register(o, "invoice_agent", nil)
	acc := register(o, "accounting_agent", byType(map[string]handlerFunc{
		"expense_summary": failure("ledger unavailable"),
	}))

	resp := o.ProcessUserRequest(context.Background(), "Run the month-end close", nil)
	if resp.Success || resp.Status != agent.ResultPartial {
		t.Fatalf("expected partial, got %s", resp.Status)
	}
	if len(resp.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(resp.Results))
	}
	for _, task := range acc.seen() {
		if task.Type == "reconcile_accounts" || task.Type == ActionFinancialReport {
			t.Fatalf("%s must not run after a failed dependency", task.Type)
		}
	}
}

func TestProcessUserRequest_UnknownAgent(t *testing.T) {
	o := New(Config{})
	resp := o.ProcessUserRequest(context.Background(), "Record an expense of $45.20 for lunch", nil)
	if resp.Error == nil || resp.Error.Code != CodeUnknownAgent {
		t.Fatalf("expected unknown_agent, got %+v", resp.Error)
	}
}

func TestProcessUserRequest_EmptyRequest(t *testing.T) {
	o := New(Config{})
	if resp := o.ProcessUserRequest(context.Background(), "   ", nil); resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid_request, got %+v", resp.Error)
	}
}

func TestExecuteWorkflow_TracksActiveExecutions(t *testing.T) {
	o := New(Config{})
	release := make(chan struct{})
	started := make(chan struct{})
	register(o, "data_agent", func(ctx context.Context, _ *agent.Task) (*agent.TaskResult, error) {
		close(started)
		<-release
		return &agent.TaskResult{Status: agent.ResultSuccess}, nil
	})
	wf := &workflow.Workflow{ID: "sync", Name: "Sync", Steps: []workflow.Step{
		{ID: "pull", Agent: "data_agent", Action: "query_sync"},
	}}
	if err := o.RegisterWorkflow(wf); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	done := make(chan error, 1)
	var exec *workflow.Execution
	go func() {
		var err error
		exec, err = o.ExecuteWorkflow(context.Background(), "sync", nil, nil)
		done <- err
	}()

	<-started
	if n := len(o.ActiveExecutions()); n != 1 {
		t.Fatalf("expected 1 active execution, got %d", n)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("ExecuteWorkflow: %v", err)
	}
	if n := len(o.ActiveExecutions()); n != 0 {
		t.Fatalf("expected terminal execution removed, got %d", n)
	}
	if exec.Status != workflow.ExecutionCompleted || exec.Trigger["type"] != "manual" {
		t.Fatalf("unexpected execution: %s %v", exec.Status, exec.Trigger)
	}
}

type memArchive struct {
	mu    sync.Mutex
	snaps []workflow.ExecutionSnapshot
}

func (a *memArchive) Save(snap workflow.ExecutionSnapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snaps = append(a.snaps, snap)
	return nil
}

func TestExecuteWorkflow_ArchivesFinishedRuns(t *testing.T) {
	archive := &memArchive{}
	o := New(Config{Archive: archive})
	register(o, "data_agent", failure("ledger locked"))
	if err := o.RegisterWorkflow(&workflow.Workflow{ID: "sync", Name: "Sync", Steps: []workflow.Step{
		{ID: "pull", Agent: "data_agent", Action: "query_sync"},
	}}); err != nil {
		t.Fatalf("RegisterWorkflow: %v", err)
	}

	exec, _ := o.ExecuteWorkflow(context.Background(), "sync", nil, nil)
	if len(archive.snaps) != 1 {
		t.Fatalf("expected 1 archived run, got %d", len(archive.snaps))
	}
	snap := archive.snaps[0]
	if snap.ID != exec.ID || snap.Status != workflow.ExecutionFailed {
		t.Fatalf("unexpected archived snapshot: %s %s", snap.ID, snap.Status)
	}
}

func TestExecuteWorkflow_Unknown(t *testing.T) {
	o := New(Config{})
	_, err := o.ExecuteWorkflow(context.Background(), "nope", nil, nil)
	if !errors.Is(err, workflow.ErrUnknownWorkflow) {
		t.Fatalf("expected ErrUnknownWorkflow, got %v", err)
	}
	if r := ErrorResponse(err); r.Error.Code != CodeUnknownWorkflow {
		t.Fatalf("expected unknown_workflow code, got %s", r.Error.Code)
	}
}

func TestRegisterWorkflow_RejectsInvalid(t *testing.T) {
	o := New(Config{})
	if err := o.RegisterWorkflow(&workflow.Workflow{ID: "x"}); !errors.Is(err, workflow.ErrInvalidWorkflow) {
		t.Fatalf("expected ErrInvalidWorkflow, got %v", err)
	}
}

func TestRouteMessage(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	dropped, unsub := bus.SubscribeChan(4, events.EventMessageDropped)
	defer unsub()

	o := New(Config{Bus: bus})
	inv := register(o, "invoice_agent", nil)

	msg := agent.NewMessage("email_agent", []string{"invoice_agent", "ghost_agent"}, agent.MessageRequest,
		agent.MessagePayload{Action: "lookup", Data: "INV-7"})
	o.RouteMessage(context.Background(), msg)

	inv.mu.Lock()
	got := len(inv.requests)
	inv.mu.Unlock()
	if got != 1 {
		t.Fatalf("expected invoice agent to receive 1 request, got %d", got)
	}

	select {
	case e := <-dropped:
		p, _ := events.ExtractPayload[events.MessageDroppedPayload](e)
		if p.To != "ghost_agent" {
			t.Fatalf("unexpected dropped recipient %q", p.To)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected message.dropped event")
	}
}

func TestRouteMessage_OrchestratorProcessesRequests(t *testing.T) {
	o := New(Config{})
	data := register(o, "data_agent", success(map[string]any{"rows": 3.0}))

	msg := agent.NewMessage("data_agent", []string{agent.OrchestratorID}, agent.MessageRequest,
		agent.MessagePayload{Action: "process_request", Data: "List all customers in Berlin"})
	o.RouteMessage(context.Background(), msg)

	data.mu.Lock()
	defer data.mu.Unlock()
	if len(data.replies) != 1 {
		t.Fatalf("expected a reply to the sender, got %d", len(data.replies))
	}
	resp, ok := data.replies[0].Payload.Data.(*Response)
	if !ok || !resp.Success {
		t.Fatalf("unexpected reply payload: %#v", data.replies[0].Payload.Data)
	}
	if data.replies[0].ReplyTo != msg.ID {
		t.Fatal("reply must reference the request")
	}
}
