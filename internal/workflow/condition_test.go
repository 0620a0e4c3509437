package workflow

import "testing"

func TestCondition_Evaluate(t *testing.T) {
	state := map[string]any{
		"trigger": map[string]any{"amount": 1500.0, "currency": "EUR"},
		"steps": map[string]any{
			"check": map[string]any{
				"status": "success",
				"data":   map[string]any{"tags": []any{"overdue", "vip"}, "count": 3.0},
			},
		},
		"context": map[string]any{"user_id": "u1"},
	}

	tests := []struct {
		cond Condition
		want bool
	}{
		{Condition{Field: "steps.check.status", Operator: OpEq, Value: "success"}, true},
		{Condition{Field: "steps.check.status", Operator: OpNe, Value: "success"}, false},
		{Condition{Field: "trigger.amount", Operator: OpGt, Value: 1000}, true},
		{Condition{Field: "trigger.amount", Operator: OpLte, Value: "1500"}, true},
		{Condition{Field: "trigger.amount", Operator: OpLt, Value: 10}, false},
		{Condition{Field: "steps.check.data.count", Operator: OpGte, Value: 3}, true},
		{Condition{Field: "steps.check.data.count", Operator: OpEq, Value: 3}, true},
		{Condition{Field: "steps.check.data.tags", Operator: OpContains, Value: "vip"}, true},
		{Condition{Field: "trigger.currency", Operator: OpContains, Value: "U"}, true},
		{Condition{Field: "trigger.currency", Operator: OpIn, Value: []any{"USD", "EUR"}}, true},
		{Condition{Field: "trigger.currency", Operator: OpIn, Value: []any{"USD"}}, false},
		{Condition{Field: "context.user_id", Operator: OpExists}, true},
		{Condition{Field: "context.org", Operator: OpExists}, false},
		{Condition{Field: "context.org", Operator: OpNotExists}, true},
		{Condition{Field: "missing.path", Operator: OpGt, Value: 1}, false},
		{Condition{Field: "missing.path", Operator: OpNe, Value: 1}, true},
	}
	for _, tt := range tests {
		got, err := tt.cond.Evaluate(state)
		if err != nil {
			t.Fatalf("%+v: %v", tt.cond, err)
		}
		if got != tt.want {
			t.Fatalf("%+v: got %v, want %v", tt.cond, got, tt.want)
		}
	}
}

func TestCondition_UnknownOperator(t *testing.T) {
	if _, err := (Condition{Field: "a", Operator: "like"}).Evaluate(map[string]any{}); err == nil {
		t.Fatal("expected error for unknown operator")
	}
}

func TestEvaluateAll(t *testing.T) {
	state := map[string]any{"a": 1.0, "b": "x"}
	okAll, _ := EvaluateAll([]Condition{
		{Field: "a", Operator: OpEq, Value: 1},
		{Field: "b", Operator: OpEq, Value: "x"},
	}, state)
	if !okAll {
		t.Fatal("expected all conditions to hold")
	}
	okAll, _ = EvaluateAll([]Condition{
		{Field: "a", Operator: OpEq, Value: 1},
		{Field: "b", Operator: OpEq, Value: "y"},
	}, state)
	if okAll {
		t.Fatal("expected second condition to fail")
	}
	if okAll, _ = EvaluateAll(nil, state); !okAll {
		t.Fatal("no conditions always hold")
	}
}
