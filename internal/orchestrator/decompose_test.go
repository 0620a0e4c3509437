package orchestrator

import (
	"testing"

	"github.com/dohr-michael/foreman/internal/agent"
)

func TestDecompose_MonthEndCloseDependencies(t *testing.T) {
	tasks := DecomposeTask(Intent{Action: ActionMonthEndClose}, nil)
	if len(tasks) != 5 {
		t.Fatalf("expected 5 tasks, got %d", len(tasks))
	}
	ids := map[string]string{}
	for _, task := range tasks {
		ids[task.Type] = task.ID
	}

	reconcile := tasks[3]
	if reconcile.Type != "reconcile_accounts" {
		t.Fatalf("unexpected 4th task %q", reconcile.Type)
	}
	want := []string{ids["invoice_summary"], ids["payment_summary"], ids["expense_summary"]}
	if len(reconcile.Dependencies) != len(want) {
		t.Fatalf("expected %d dependencies, got %v", len(want), reconcile.Dependencies)
	}
	for i := range want {
		if reconcile.Dependencies[i] != want[i] {
			t.Fatalf("dependencies = %v, want %v", reconcile.Dependencies, want)
		}
	}

	report := tasks[4]
	if len(report.Dependencies) != 1 || report.Dependencies[0] != reconcile.ID {
		t.Fatalf("report must depend on reconcile only, got %v", report.Dependencies)
	}
}

func TestDecompose_UniqueIDs(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		for _, task := range DecomposeTask(Intent{Action: ActionGenerateInvoice, Entities: Entities{Customer: "Acme"}}, nil) {
			if seen[task.ID] {
				t.Fatalf("duplicate task id %s", task.ID)
			}
			seen[task.ID] = true
		}
	}
}

func TestDecompose_InvoiceChainUsesRefs(t *testing.T) {
	tasks := DecomposeTask(Intent{Action: ActionGenerateInvoice, Entities: Entities{Customer: "Acme"}}, &agent.ExecutionContext{OrganizationID: "org"})
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	ref, ok := tasks[2].Payload["items"].(agent.OutputRef)
	if !ok || ref.TaskID != tasks[1].ID || ref.Path != "items" {
		t.Fatalf("unexpected items ref %#v", tasks[2].Payload["items"])
	}
	ref, ok = tasks[1].Payload["customer_id"].(agent.OutputRef)
	if !ok || ref.TaskID != tasks[0].ID || ref.Path != "id" {
		t.Fatalf("unexpected customer_id ref %#v", tasks[1].Payload["customer_id"])
	}
	if tasks[0].Payload["customer"] != "Acme" || tasks[0].Payload["organization_id"] != "org" {
		t.Fatalf("unexpected payload %v", tasks[0].Payload)
	}
}

func TestDecompose_BulkListsCustomersFirst(t *testing.T) {
	tasks := DecomposeTask(Intent{Action: ActionBulkInvoices, Entities: Entities{AllCustomers: true}}, nil)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Payload["record_type"] != "customer" {
		t.Fatalf("expected customer listing first, got %v", tasks[0].Payload)
	}
	ref, ok := tasks[1].Payload["customers"].(agent.OutputRef)
	if !ok || ref.TaskID != tasks[0].ID || ref.Path != "items" {
		t.Fatalf("unexpected customers ref %#v", tasks[1].Payload["customers"])
	}
	if _, bulk := bulkSpecs[tasks[1].Type]; !bulk {
		t.Fatalf("expected %q to fan out", tasks[1].Type)
	}
}

func TestDecompose_UnknownAction(t *testing.T) {
	if tasks := DecomposeTask(Intent{Action: "dance"}, nil); tasks != nil {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}
}

func TestSelectAgents(t *testing.T) {
	tasks := DecomposeTask(Intent{Action: ActionMonthEndClose}, nil)
	groups := SelectAgents(DefaultAgentRoutes, tasks)
	if len(groups) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(groups))
	}
	inv, acc := groups[0], groups[1]
	if inv.Agent != "invoice_agent" || len(inv.Tasks) != 2 {
		t.Fatalf("unexpected invoice assignment %+v", inv)
	}
	if acc.Agent != "accounting_agent" || len(acc.Tasks) != 3 {
		t.Fatalf("unexpected accounting assignment %+v", acc)
	}
	if acc.Priority != agent.PriorityHigh {
		t.Fatalf("expected max priority high, got %s", acc.Priority)
	}
	if len(acc.Dependencies) != 4 {
		t.Fatalf("expected union of 4 dependencies, got %v", acc.Dependencies)
	}
}

func TestAgentFor(t *testing.T) {
	tests := map[string]string{
		"generate_invoice":    "invoice_agent",
		"payment_summary":     "invoice_agent",
		"send_reminder_email": "email_agent",
		"reconcile_accounts":  "accounting_agent",
		"data_query":          "data_agent",
		"fetch_customer":      "data_agent",
		"launch_rocket":       "",
	}
	for taskType, want := range tests {
		if got := AgentFor(DefaultAgentRoutes, taskType); got != want {
			t.Fatalf("AgentFor(%q) = %q, want %q", taskType, got, want)
		}
	}
}

func TestPlan_OrdersByDependenciesAndRefs(t *testing.T) {
	tasks := DecomposeTask(Intent{Action: ActionGenerateInvoice, Entities: Entities{Customer: "Acme"}}, nil)
	reversed := []*agent.Task{tasks[2], tasks[1], tasks[0]}

	p, err := newPlan(reversed)
	if err != nil {
		t.Fatalf("newPlan: %v", err)
	}
	for i, task := range p.order {
		if task.ID != tasks[i].ID {
			t.Fatalf("position %d: got %s, want %s", i, task.Type, tasks[i].Type)
		}
	}
	if len(p.needs[tasks[2].ID]) != 2 {
		t.Fatalf("invoice task should need both earlier tasks, got %v", p.needs[tasks[2].ID])
	}
}

func TestPlan_KeepsDecompositionOrderForIndependentTasks(t *testing.T) {
	tasks := DecomposeTask(Intent{Action: ActionMonthEndClose}, nil)
	p, err := newPlan(tasks)
	if err != nil {
		t.Fatalf("newPlan: %v", err)
	}
	for i := range tasks {
		if p.order[i] != tasks[i] {
			t.Fatalf("position %d: got %s, want %s", i, p.order[i].Type, tasks[i].Type)
		}
	}
}

func TestPlan_RejectsCyclesAndUnknownDeps(t *testing.T) {
	a := agent.NewTask("a", "", nil)
	b := agent.NewTask("b", "", nil)
	a.Dependencies = []string{b.ID}
	b.Dependencies = []string{a.ID}
	if _, err := newPlan([]*agent.Task{a, b}); err == nil {
		t.Fatal("expected cycle error")
	}

	c := agent.NewTask("c", "", nil)
	c.Dependencies = []string{"task_missing"}
	if _, err := newPlan([]*agent.Task{c}); err == nil {
		t.Fatal("expected unknown dependency error")
	}
}

func TestResolveRefs(t *testing.T) {
	results := map[string]*agent.TaskResult{
		"t1": {TaskID: "t1", Status: agent.ResultSuccess, Data: map[string]any{"customer": map[string]any{"id": "c1"}}},
		"t2": {TaskID: "t2", Status: agent.ResultFailure},
	}
	out, err := resolveRefs(map[string]any{
		"id":     agent.OutputRef{TaskID: "t1", Path: "customer.id"},
		"nested": map[string]any{"all": agent.OutputRef{TaskID: "t1"}},
		"plain":  42,
	}, results)
	if err != nil {
		t.Fatalf("resolveRefs: %v", err)
	}
	if out["id"] != "c1" || out["plain"] != 42 {
		t.Fatalf("unexpected resolution %v", out)
	}

	if _, err := resolveRefs(map[string]any{"x": agent.OutputRef{TaskID: "t2"}}, results); err == nil {
		t.Fatal("refs to failed tasks must not resolve")
	}
	if _, err := resolveRefs(map[string]any{"x": agent.OutputRef{TaskID: "t1", Path: "missing"}}, results); err == nil {
		t.Fatal("missing paths must not resolve")
	}
}
