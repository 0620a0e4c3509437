package workflow

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dohr-michael/foreman/internal/agent"
)

// Operator compares a field against a value.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNe        Operator = "ne"
	OpGt        Operator = "gt"
	OpGte       Operator = "gte"
	OpLt        Operator = "lt"
	OpLte       Operator = "lte"
	OpContains  Operator = "contains"
	OpExists    Operator = "exists"
	OpNotExists Operator = "not_exists"
	OpIn        Operator = "in"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains, OpExists, OpNotExists, OpIn:
		return true
	}
	return false
}

// Condition gates a step on the execution state.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// EvaluateAll reports whether every condition holds against state.
func EvaluateAll(conds []Condition, state map[string]any) (bool, error) {
	for _, c := range conds {
		ok, err := c.Evaluate(state)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Evaluate checks the condition against state. Field is a dot path.
func (c Condition) Evaluate(state map[string]any) (bool, error) {
	actual, found := agent.Lookup(state, c.Field)

	switch c.Operator {
	case OpExists:
		return found && actual != nil, nil
	case OpNotExists:
		return !found || actual == nil, nil
	case OpEq:
		return found && equal(actual, c.Value), nil
	case OpNe:
		return !found || !equal(actual, c.Value), nil
	case OpGt, OpGte, OpLt, OpLte:
		if !found {
			return false, nil
		}
		a, okA := toFloat(actual)
		b, okB := toFloat(c.Value)
		if !okA || !okB {
			return false, nil
		}
		switch c.Operator {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case OpContains:
		return found && contains(actual, c.Value), nil
	case OpIn:
		return found && contains(c.Value, actual), nil
	}
	return false, fmt.Errorf("unknown operator %q", c.Operator)
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

// contains reports whether haystack (string or list) holds needle.
func contains(haystack, needle any) bool {
	if s, ok := haystack.(string); ok {
		n, ok := needle.(string)
		return ok && strings.Contains(s, n)
	}
	v := reflect.ValueOf(haystack)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < v.Len(); i++ {
		if equal(v.Index(i).Interface(), needle) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
