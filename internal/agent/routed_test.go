package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/foreman/internal/config"
	"github.com/dohr-michael/foreman/internal/memory"
)

func newRoutedRuntime(t *testing.T, mem *memory.Store) (*Runtime, *atomic.Int32, *atomic.Int32) {
	t.Helper()
	var pdfCalls, mailCalls atomic.Int32
	tools := NewToolRegistry()
	tools.Register(NewFuncTool("render_pdf", "", func(_ context.Context, p map[string]any) (any, error) {
		pdfCalls.Add(1)
		return map[string]any{"file": p["customer"].(string) + ".pdf"}, nil
	}))
	tools.Register(NewFuncTool("send_email", "", func(context.Context, map[string]any) (any, error) {
		mailCalls.Add(1)
		return "sent", nil
	}))

	def := config.AgentDefinition{
		Name:         "invoice_agent",
		Capabilities: []string{"invoicing"},
		Routes: map[string]string{
			"invoice":      "render_pdf",
			"invoice_mail": "send_email",
		},
		Required: []string{"customer"},
	}
	rt := NewRuntime(NewRoutedAgent(def), RuntimeConfig{Memory: mem, Tools: tools, Sleep: (&recordedSleeps{}).sleep})
	return rt, &pdfCalls, &mailCalls
}

func TestRoutedAgent_Route(t *testing.T) {
	a := NewRoutedAgent(config.AgentDefinition{
		Name:   "a",
		Routes: map[string]string{"invoice": "pdf", "invoice_mail": "mail"},
	})
	if tool, ok := a.Route("send_INVOICE_MAIL"); !ok || tool != "mail" {
		t.Fatalf("expected longest match mail, got %q %v", tool, ok)
	}
	if tool, ok := a.Route("generate_invoice"); !ok || tool != "pdf" {
		t.Fatalf("expected pdf, got %q %v", tool, ok)
	}
	if _, ok := a.Route("expense"); ok {
		t.Fatal("expected no route")
	}
}

func TestRoutedAgent_Execute(t *testing.T) {
	rt, pdf, _ := newRoutedRuntime(t, nil)

	result, err := rt.ProcessTask(context.Background(), NewTask("generate_invoice", "", map[string]any{"customer": "acme"}), nil)
	if err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result)
	}
	data := result.Data.(map[string]any)
	if data["file"] != "acme.pdf" || pdf.Load() != 1 {
		t.Fatalf("unexpected data %v (calls %d)", data, pdf.Load())
	}
}

func TestRoutedAgent_ValidateRequired(t *testing.T) {
	rt, pdf, _ := newRoutedRuntime(t, nil)
	result, _ := rt.ProcessTask(context.Background(), NewTask("generate_invoice", "", map[string]any{}), nil)
	if result.Status != ResultFailure || pdf.Load() != 0 {
		t.Fatalf("expected validation failure without tool call, got %+v", result)
	}
}

func TestRoutedAgent_NoRouteIsPermanent(t *testing.T) {
	rt, _, _ := newRoutedRuntime(t, nil)
	result, _ := rt.ProcessTask(context.Background(), NewTask("reconcile", "", map[string]any{"customer": "x"}), nil)
	if result.Status != ResultFailure || result.Attempts != 1 {
		t.Fatalf("expected a single failed attempt, got %+v", result)
	}
}

func TestRoutedAgent_UsesSuggestedTool(t *testing.T) {
	mem := memory.NewStore(memory.Options{})
	mem.StoreEvent(memory.AgentEvent{
		Type:    memory.EventLearning,
		Outcome: memory.OutcomeSuccess,
		Data:    map[string]any{"task_type": "generate_invoice", "tools_used": []string{"send_email"}},
	})
	rt, pdf, mail := newRoutedRuntime(t, mem)

	result, _ := rt.ProcessTask(context.Background(), NewTask("generate_invoice", "", map[string]any{"customer": "acme"}), nil)
	if !result.Succeeded() {
		t.Fatalf("expected success, got %+v", result)
	}
	if mail.Load() != 1 || pdf.Load() != 0 {
		t.Fatalf("expected suggested tool to be used (mail=%d pdf=%d)", mail.Load(), pdf.Load())
	}
}

type fakeEinoTool struct {
	args string
	out  string
	err  error
}

func (f *fakeEinoTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: "lookup", Desc: "look things up"}, nil
}

func (f *fakeEinoTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	f.args = args
	return f.out, f.err
}

func TestFromEinoTool(t *testing.T) {
	inner := &fakeEinoTool{out: `{"hits": 2}`}
	tl, err := FromEinoTool(context.Background(), inner)
	if err != nil {
		t.Fatalf("FromEinoTool: %v", err)
	}
	if tl.Name() != "lookup" || tl.Description() != "look things up" {
		t.Fatalf("unexpected info: %s %s", tl.Name(), tl.Description())
	}

	out, err := tl.Execute(context.Background(), map[string]any{"query": "acme"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if inner.args != `{"query":"acme"}` {
		t.Fatalf("unexpected args: %s", inner.args)
	}
	if m, ok := out.(map[string]any); !ok || m["hits"] != 2.0 {
		t.Fatalf("expected decoded JSON, got %#v", out)
	}

	inner.out = "plain text"
	out, _ = tl.Execute(context.Background(), nil)
	if out != "plain text" {
		t.Fatalf("expected raw string, got %#v", out)
	}

	inner.err = errors.New("rate limited")
	if _, err := tl.Execute(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}
