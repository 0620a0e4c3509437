package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/dohr-michael/foreman/internal/agent"
)

// plan orders tasks so each runs after its dependencies and after every task
// its payload references. Independent tasks keep their decomposition order.
type plan struct {
	order []*agent.Task
	needs map[string][]string
}

func newPlan(tasks []*agent.Task) (*plan, error) {
	byID := make(map[string]*agent.Task, len(tasks))
	position := make(map[string]int, len(tasks))
	for i, t := range tasks {
		byID[t.ID] = t
		position[t.ID] = i
	}

	p := &plan{needs: make(map[string][]string, len(tasks))}
	inDegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))

	for _, t := range tasks {
		seen := map[string]bool{}
		for _, need := range append(append([]string(nil), t.Dependencies...), refTaskIDs(t.Payload)...) {
			if seen[need] {
				continue
			}
			seen[need] = true
			if _, ok := byID[need]; !ok {
				return nil, fmt.Errorf("task %q depends on unknown task %q", t.ID, need)
			}
			p.needs[t.ID] = append(p.needs[t.ID], need)
			inDegree[t.ID]++
			dependents[need] = append(dependents[need], t.ID)
		}
	}

	// Kahn's algorithm; the ready set is kept in decomposition order.
	var ready []string
	for _, t := range tasks {
		if inDegree[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}
	for len(ready) > 0 {
		next := 0
		for i := range ready {
			if position[ready[i]] < position[ready[next]] {
				next = i
			}
		}
		id := ready[next]
		ready = append(ready[:next], ready[next+1:]...)
		p.order = append(p.order, byID[id])

		for _, dep := range dependents[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(p.order) != len(tasks) {
		return nil, fmt.Errorf("cycle detected in task dependencies")
	}
	return p, nil
}

// refTaskIDs lists the tasks referenced by OutputRef values in payload.
func refTaskIDs(payload map[string]any) []string {
	var ids []string
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case agent.OutputRef:
			ids = append(ids, x.TaskID)
		case *agent.OutputRef:
			if x != nil {
				ids = append(ids, x.TaskID)
			}
		case map[string]any:
			for _, inner := range x {
				walk(inner)
			}
		case []any:
			for _, inner := range x {
				walk(inner)
			}
		}
	}
	for _, v := range payload {
		walk(v)
	}
	return ids
}

// resolveRefs returns a copy of payload with OutputRef values replaced by
// the referenced task's result data.
func resolveRefs(payload map[string]any, results map[string]*agent.TaskResult) (map[string]any, error) {
	var resolve func(v any) (any, error)
	lookup := func(ref agent.OutputRef) (any, error) {
		r, ok := results[ref.TaskID]
		if !ok || !r.Succeeded() {
			return nil, fmt.Errorf("task %q has no result", ref.TaskID)
		}
		v, ok := ref.Resolve(jsonValue(r.Data))
		if !ok {
			return nil, fmt.Errorf("task %q result has no %q", ref.TaskID, ref.Path)
		}
		return v, nil
	}
	resolve = func(v any) (any, error) {
		switch x := v.(type) {
		case agent.OutputRef:
			return lookup(x)
		case *agent.OutputRef:
			if x == nil {
				return nil, nil
			}
			return lookup(*x)
		case map[string]any:
			out := make(map[string]any, len(x))
			for k, inner := range x {
				r, err := resolve(inner)
				if err != nil {
					return nil, err
				}
				out[k] = r
			}
			return out, nil
		case []any:
			out := make([]any, len(x))
			for i, inner := range x {
				r, err := resolve(inner)
				if err != nil {
					return nil, err
				}
				out[i] = r
			}
			return out, nil
		}
		return v, nil
	}

	out, err := resolve(payload)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.(map[string]any), nil
}

// jsonValue turns structs into generic JSON values so paths can walk them.
func jsonValue(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
