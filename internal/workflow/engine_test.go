package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/config"
	"github.com/dohr-michael/foreman/internal/events"
)

type stepFunc func(ctx context.Context, task *agent.Task) (*agent.TaskResult, error)

type stubExecutor struct {
	name string
	fn   stepFunc

	mu    sync.Mutex
	tasks []*agent.Task
}

func (s *stubExecutor) Name() string                     { return s.name }
func (s *stubExecutor) Capabilities() []agent.Capability { return nil }
func (s *stubExecutor) Validate(map[string]any) bool     { return true }

func (s *stubExecutor) Execute(ctx context.Context, _ *agent.Runtime, task *agent.Task, _ *agent.ExecutionContext) (*agent.TaskResult, error) {
	s.mu.Lock()
	s.tasks = append(s.tasks, task)
	s.mu.Unlock()
	return s.fn(ctx, task)
}

func (s *stubExecutor) seen() []*agent.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*agent.Task(nil), s.tasks...)
}

type agents map[string]*agent.Runtime

func (a agents) Agent(name string) (*agent.Runtime, bool) {
	rt, ok := a[name]
	return rt, ok
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newAgent(name string, fn stepFunc) (*agent.Runtime, *stubExecutor) {
	exec := &stubExecutor{name: name, fn: fn}
	return agent.NewRuntime(exec, agent.RuntimeConfig{Sleep: noSleep}), exec
}

func returns(data any) stepFunc {
	return func(context.Context, *agent.Task) (*agent.TaskResult, error) {
		return &agent.TaskResult{Status: agent.ResultSuccess, Data: data}, nil
	}
}

func failing(msg string) stepFunc {
	return func(context.Context, *agent.Task) (*agent.TaskResult, error) {
		return &agent.TaskResult{Status: agent.ResultFailure, Error: msg}, nil
	}
}

type recordingSink struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingSink) Alert(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func TestEngine_RunsStepsInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	track := func(data any) stepFunc {
		return func(_ context.Context, task *agent.Task) (*agent.TaskResult, error) {
			mu.Lock()
			order = append(order, task.Type)
			mu.Unlock()
			return &agent.TaskResult{Status: agent.ResultSuccess, Data: data}, nil
		}
	}
	inv, _ := newAgent("invoice_agent", track(map[string]any{"count": 3}))
	mail, _ := newAgent("email_agent", track("sent"))

	wf := &Workflow{ID: "wf", Name: "WF", Steps: []Step{
		{ID: "a", Agent: "invoice_agent", Action: "generate_invoice"},
		{ID: "b", Agent: "email_agent", Action: "send_email"},
	}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{"invoice_agent": inv, "email_agent": mail}})

	if err := e.Run(context.Background(), wf, exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != ExecutionCompleted {
		t.Fatalf("expected completed, got %s", exec.Status)
	}
	if len(order) != 2 || order[0] != "generate_invoice" || order[1] != "send_email" {
		t.Fatalf("unexpected order: %v", order)
	}
	if exec.EndTime.IsZero() || exec.StartTime.IsZero() {
		t.Fatal("expected start and end time")
	}
}

func TestEngine_SkipsStepWhenConditionFalse(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	ch, unsub := bus.SubscribeChan(8, events.EventWorkflowStepSkipped)
	defer unsub()

	check, _ := newAgent("data_agent", returns(map[string]any{"overdue": 0}))
	mail, mailExec := newAgent("email_agent", returns("sent"))

	wf := &Workflow{ID: "reminders", Name: "Reminders", Steps: []Step{
		{ID: "check", Agent: "data_agent", Action: "query_overdue"},
		{ID: "remind", Agent: "email_agent", Action: "send_reminder", Conditions: []Condition{
			{Field: "steps.check.data.overdue", Operator: OpGt, Value: 0},
		}},
	}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{"data_agent": check, "email_agent": mail}, Bus: bus})

	if err := e.Run(context.Background(), wf, exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(mailExec.seen()) != 0 {
		t.Fatal("skipped step must not dispatch")
	}
	if _, found := exec.Result("remind"); found {
		t.Fatal("skipped step must not have a result")
	}
	if len(exec.Skipped) != 1 || exec.Skipped[0] != "remind" {
		t.Fatalf("expected remind skipped, got %v", exec.Skipped)
	}

	select {
	case evt := <-ch:
		p, ok := events.ExtractPayload[events.WorkflowStepSkippedPayload](evt)
		if !ok || p.StepID != "remind" {
			t.Fatalf("unexpected skip event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("expected step skipped event")
	}
}

func TestEngine_StepTimeoutFailsWorkflow(t *testing.T) {
	slow, _ := newAgent("data_agent", func(ctx context.Context, _ *agent.Task) (*agent.TaskResult, error) {
		<-ctx.Done()
		return nil, agent.Permanent(ctx.Err())
	})
	recovery, recoveryExec := newAgent("email_agent", returns("recovered"))

	wf := &Workflow{ID: "slow", Name: "Slow", Steps: []Step{
		{ID: "query", Agent: "data_agent", Action: "query", Timeout: config.Duration(20 * time.Millisecond), OnFailure: "recover"},
		{ID: "recover", Agent: "email_agent", Action: "notify"},
	}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{"data_agent": slow, "email_agent": recovery}})

	err := e.Run(context.Background(), wf, exec)
	if !errors.Is(err, ErrStepTimeout) {
		t.Fatalf("expected ErrStepTimeout, got %v", err)
	}
	var se *StepError
	if !errors.As(err, &se) || se.StepID != "query" {
		t.Fatalf("expected step error for query, got %v", err)
	}
	if exec.Status != ExecutionFailed {
		t.Fatalf("expected failed, got %s", exec.Status)
	}
	r, found := exec.Result("query")
	if !found || r.Status != agent.ResultFailure {
		t.Fatalf("expected failure result for timed out step, got %+v", r)
	}
	if len(recoveryExec.seen()) != 0 {
		t.Fatal("timeouts must not follow on_failure")
	}
}

func TestEngine_OnFailureBranches(t *testing.T) {
	bad, _ := newAgent("invoice_agent", failing("customer not found"))
	skipped, skippedExec := newAgent("email_agent", returns("sent"))
	handler, handlerExec := newAgent("accounting_agent", returns("logged"))

	wf := &Workflow{ID: "branch", Name: "Branch", Steps: []Step{
		{ID: "invoice", Agent: "invoice_agent", Action: "generate_invoice", OnFailure: "log"},
		{ID: "send", Agent: "email_agent", Action: "send_email"},
		{ID: "log", Agent: "accounting_agent", Action: "log_issue"},
	}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{
		"invoice_agent":    bad,
		"email_agent":      skipped,
		"accounting_agent": handler,
	}})

	if err := e.Run(context.Background(), wf, exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(skippedExec.seen()) != 0 {
		t.Fatal("branch target must be reached directly")
	}
	if len(handlerExec.seen()) != 1 {
		t.Fatal("expected failure handler to run")
	}
	if r, _ := exec.Result("invoice"); r == nil || r.Status != agent.ResultFailure {
		t.Fatalf("expected recorded failure, got %+v", r)
	}
}

func TestEngine_OnSuccessJumpsForward(t *testing.T) {
	first, _ := newAgent("a", returns(nil))
	middle, middleExec := newAgent("b", returns(nil))
	last, lastExec := newAgent("c", returns(nil))

	wf := &Workflow{ID: "jump", Name: "Jump", Steps: []Step{
		{ID: "one", Agent: "a", Action: "x", OnSuccess: "three"},
		{ID: "two", Agent: "b", Action: "y"},
		{ID: "three", Agent: "c", Action: "z"},
	}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{"a": first, "b": middle, "c": last}})

	if err := e.Run(context.Background(), wf, exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(middleExec.seen()) != 0 || len(lastExec.seen()) != 1 {
		t.Fatal("expected jump over step two")
	}
}

func TestEngine_ParallelGroupRunsConcurrently(t *testing.T) {
	barrier := make(chan struct{})
	var once sync.Once
	var arrived sync.WaitGroup
	arrived.Add(2)
	wait := func(data any) stepFunc {
		return func(ctx context.Context, _ *agent.Task) (*agent.TaskResult, error) {
			arrived.Done()
			once.Do(func() {
				go func() {
					arrived.Wait()
					close(barrier)
				}()
			})
			select {
			case <-barrier:
			case <-ctx.Done():
				return nil, agent.Permanent(ctx.Err())
			}
			return &agent.TaskResult{Status: agent.ResultSuccess, Data: data}, nil
		}
	}
	inv, _ := newAgent("invoice_agent", wait(map[string]any{"total": 100.0}))
	pay, _ := newAgent("payment_agent", wait(map[string]any{"total": 80.0}))
	acc, accExec := newAgent("accounting_agent", returns("reconciled"))

	wf := &Workflow{ID: "close", Name: "Close", Steps: []Step{
		{ID: "invoices", Agent: "invoice_agent", Action: "summarize", Parallel: true, Timeout: config.Duration(2 * time.Second)},
		{ID: "payments", Agent: "payment_agent", Action: "summarize", Parallel: true, Timeout: config.Duration(2 * time.Second)},
		{ID: "reconcile", Agent: "accounting_agent", Action: "reconcile", Input: &InputRef{Step: "invoices"}},
	}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{
		"invoice_agent":    inv,
		"payment_agent":    pay,
		"accounting_agent": acc,
	}})

	if err := e.Run(context.Background(), wf, exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	tasks := accExec.seen()
	if len(tasks) != 1 {
		t.Fatalf("expected reconcile to run once, got %d", len(tasks))
	}
	if tasks[0].Payload["total"] != 100.0 {
		t.Fatalf("expected merged input, got %v", tasks[0].Payload)
	}
}

func TestEngine_ScalarInputAndParams(t *testing.T) {
	src, _ := newAgent("data_agent", returns(map[string]any{"customers": []any{"acme", "globex"}}))
	dst, dstExec := newAgent("email_agent", returns(nil))

	wf := &Workflow{ID: "input", Name: "Input", Steps: []Step{
		{ID: "query", Agent: "data_agent", Action: "query"},
		{ID: "notify", Agent: "email_agent", Action: "send", Params: map[string]any{"template": "reminder"},
			Input: &InputRef{Step: "query", Path: "customers"}},
	}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{"data_agent": src, "email_agent": dst}})

	if err := e.Run(context.Background(), wf, exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	p := dstExec.seen()[0].Payload
	if p["template"] != "reminder" {
		t.Fatalf("expected params in payload, got %v", p)
	}
	list, _ := p["input"].([]any)
	if len(list) != 2 {
		t.Fatalf("expected scalar input under \"input\", got %v", p["input"])
	}
}

func TestEngine_ErrorStrategyAlertsAndFallback(t *testing.T) {
	bad, _ := newAgent("payment_agent", failing("gateway down"))
	fb, fbExec := newAgent("accounting_agent", returns("noted"))
	sink := &recordingSink{}

	wf := &Workflow{ID: "collect", Name: "Collect", Steps: []Step{
		{ID: "charge", Agent: "payment_agent", Action: "charge"},
	}, OnError: ErrorStrategy{
		Fallback: &Fallback{Agent: "accounting_agent", Action: "manual_review"},
		Alerts:   &AlertPolicy{Channels: []string{"email", "slack"}, Severity: "critical"},
	}}
	exec := NewExecution(wf, &agent.ExecutionContext{UserID: "u1"}, nil)
	e := NewEngine(EngineConfig{Agents: agents{"payment_agent": bad, "accounting_agent": fb}, Alerts: sink})

	err := e.Run(context.Background(), wf, exec)
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", err)
	}
	if exec.Status != ExecutionFailed || exec.Error == "" {
		t.Fatalf("expected failed execution with error, got %s %q", exec.Status, exec.Error)
	}

	if len(sink.alerts) != 2 {
		t.Fatalf("expected one alert per channel, got %d", len(sink.alerts))
	}
	if sink.alerts[0].Severity != "critical" || sink.alerts[1].Channel != "slack" {
		t.Fatalf("unexpected alerts: %+v", sink.alerts)
	}

	tasks := fbExec.seen()
	if len(tasks) != 1 {
		t.Fatalf("expected fallback to run once, got %d", len(tasks))
	}
	if tasks[0].Type != "manual_review" {
		t.Fatalf("expected fallback action, got %q", tasks[0].Type)
	}
	if _, found := tasks[0].Payload["execution"].(ExecutionSnapshot); !found {
		t.Fatalf("expected execution snapshot in fallback payload, got %T", tasks[0].Payload["execution"])
	}
}

func TestEngine_RetryPolicyLimitsAttempts(t *testing.T) {
	flaky, flakyExec := newAgent("data_agent", func(context.Context, *agent.Task) (*agent.TaskResult, error) {
		return nil, errors.New("connection reset")
	})

	wf := &Workflow{ID: "retry", Name: "Retry", Steps: []Step{
		{ID: "query", Agent: "data_agent", Action: "query"},
	}, OnError: ErrorStrategy{Retry: &RetryPolicy{MaxAttempts: 2, Backoff: agent.BackoffFixed}}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{"data_agent": flaky}})

	if err := e.Run(context.Background(), wf, exec); err == nil {
		t.Fatal("expected failure")
	}
	if n := len(flakyExec.seen()); n != 2 {
		t.Fatalf("expected 2 attempts, got %d", n)
	}
}

func TestEngine_UnknownAgent(t *testing.T) {
	wf := &Workflow{ID: "x", Name: "X", Steps: []Step{{ID: "s", Agent: "ghost", Action: "a"}}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{}})

	if err := e.Run(context.Background(), wf, exec); !errors.Is(err, ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestApplyRetryPolicy(t *testing.T) {
	task := &agent.Task{}
	applyRetryPolicy(task, &RetryPolicy{MaxAttempts: 1})
	if task.MaxRetries != -1 {
		t.Fatalf("single attempt should disable retries, got %d", task.MaxRetries)
	}

	task = &agent.Task{}
	applyRetryPolicy(task, &RetryPolicy{MaxAttempts: 4, Backoff: agent.BackoffLinear, InitialDelay: config.Duration(time.Second)})
	if task.MaxRetries != 3 {
		t.Fatalf("expected 3 retries, got %d", task.MaxRetries)
	}
	if task.Backoff == nil || task.Backoff.Delay(2) != 2*time.Second {
		t.Fatalf("unexpected backoff: %+v", task.Backoff)
	}
}

func TestEngine_ParallelStepsShareAgent(t *testing.T) {
	barrier := make(chan struct{})
	var once sync.Once
	var arrived sync.WaitGroup
	arrived.Add(2)
	mail, mailExec := newAgent("email_agent", func(ctx context.Context, task *agent.Task) (*agent.TaskResult, error) {
		arrived.Done()
		once.Do(func() {
			go func() {
				arrived.Wait()
				close(barrier)
			}()
		})
		select {
		case <-barrier:
		case <-ctx.Done():
			return nil, agent.Permanent(ctx.Err())
		}
		return &agent.TaskResult{Status: agent.ResultSuccess, Data: task.Type}, nil
	})

	wf := &Workflow{ID: "notify", Name: "Notify", Steps: []Step{
		{ID: "customers", Agent: "email_agent", Action: "send_reminder", Parallel: true, Timeout: config.Duration(2 * time.Second)},
		{ID: "finance", Agent: "email_agent", Action: "send_email", Parallel: true, Timeout: config.Duration(2 * time.Second)},
	}}
	if err := wf.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{"email_agent": mail}})

	if err := e.Run(context.Background(), wf, exec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if exec.Status != ExecutionCompleted {
		t.Fatalf("expected completed, got %s", exec.Status)
	}
	for _, id := range []string{"customers", "finance"} {
		if r, ok := exec.Result(id); !ok || !r.Succeeded() {
			t.Fatalf("expected %s to succeed, got %+v", id, r)
		}
	}
	if len(mailExec.seen()) != 2 {
		t.Fatalf("expected both steps on email_agent, got %d", len(mailExec.seen()))
	}
}

func TestEngine_FallbackRunsWhileTimedOutStepHoldsAgent(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	mail, mailExec := newAgent("email_agent", func(_ context.Context, task *agent.Task) (*agent.TaskResult, error) {
		if task.Type == "send_email" {
			<-release
		}
		return &agent.TaskResult{Status: agent.ResultSuccess}, nil
	})

	wf := &Workflow{ID: "announce", Name: "Announce", Steps: []Step{
		{ID: "send", Agent: "email_agent", Action: "send_email", Timeout: config.Duration(20 * time.Millisecond)},
	}, OnError: ErrorStrategy{
		Fallback: &Fallback{Agent: "email_agent", Action: "notify_fallback"},
	}}
	exec := NewExecution(wf, nil, nil)
	e := NewEngine(EngineConfig{Agents: agents{"email_agent": mail}})

	if err := e.Run(context.Background(), wf, exec); !errors.Is(err, ErrStepTimeout) {
		t.Fatalf("expected ErrStepTimeout, got %v", err)
	}
	var fallback bool
	for _, task := range mailExec.seen() {
		if task.Type == "notify_fallback" {
			fallback = true
		}
	}
	if !fallback {
		t.Fatal("expected fallback to run on the busy agent")
	}
}

func TestEngine_MonthEndCloseExample(t *testing.T) {
	wf, err := LoadFile("../../examples/workflows/month_end_close.jsonc")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	t.Run("success announces only", func(t *testing.T) {
		acc, _ := newAgent("accounting_agent", returns(map[string]any{"balanced": true}))
		mail, mailExec := newAgent("email_agent", returns("sent"))
		exec := NewExecution(wf, nil, nil)
		e := NewEngine(EngineConfig{Agents: agents{"accounting_agent": acc, "email_agent": mail}})

		if err := e.Run(context.Background(), wf, exec); err != nil {
			t.Fatalf("Run: %v", err)
		}
		tasks := mailExec.seen()
		if len(tasks) != 1 || tasks[0].Type != "send_email" {
			t.Fatalf("expected only send_email, got %d tasks", len(tasks))
		}
		if len(exec.Skipped) != 1 || exec.Skipped[0] != "alert_finance" {
			t.Fatalf("expected alert_finance skipped, got %v", exec.Skipped)
		}
	})

	t.Run("report failure alerts finance", func(t *testing.T) {
		acc, _ := newAgent("accounting_agent", func(_ context.Context, task *agent.Task) (*agent.TaskResult, error) {
			if task.Type == "generate_report" {
				return &agent.TaskResult{Status: agent.ResultFailure, Error: "ledger locked"}, nil
			}
			return &agent.TaskResult{Status: agent.ResultSuccess, Data: map[string]any{"balanced": true}}, nil
		})
		mail, mailExec := newAgent("email_agent", returns("sent"))
		exec := NewExecution(wf, nil, nil)
		e := NewEngine(EngineConfig{Agents: agents{"accounting_agent": acc, "email_agent": mail}})

		if err := e.Run(context.Background(), wf, exec); err != nil {
			t.Fatalf("Run: %v", err)
		}
		tasks := mailExec.seen()
		if len(tasks) != 1 || tasks[0].Type != "notify_failure" {
			t.Fatalf("expected only notify_failure, got %d tasks", len(tasks))
		}
	})
}
