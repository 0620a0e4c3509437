package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/dohr-michael/foreman/internal/agent"
)

// DefaultBatchSize bounds how many items of a bulk task run at once.
const DefaultBatchSize = 10

// bulkSpec expands a bulk task into one task per item of a payload list.
type bulkSpec struct {
	items    string         // payload key holding the list
	itemType string         // task type run per item
	itemKey  string         // payload key the item is passed under
	params   map[string]any // extra per-item payload
}

var bulkSpecs = map[string]bulkSpec{
	ActionBulkInvoices: {
		items:    "customers",
		itemType: ActionGenerateInvoice,
		itemKey:  "customer",
		params:   map[string]any{"record_type": recordInvoice},
	},
}

// runBulk fans t out over its item list in batches of o.batchSize. Each item
// runs on its own worker of rt. The merged result is a success when every
// item succeeded, partial when some did and a failure when none did.
func (o *Orchestrator) runBulk(ctx context.Context, rt *agent.Runtime, t *agent.Task, spec bulkSpec, ectx *agent.ExecutionContext) *agent.TaskResult {
	items, ok := asList(t.Payload[spec.items])
	if !ok {
		return skippedResult(t, fmt.Errorf("%w: %s needs a list under %q", ErrInvalidRequest, t.Type, spec.items))
	}

	start := time.Now()
	results := make([]*agent.TaskResult, len(items))
	indexes := make([]int, len(items))
	for i := range indexes {
		indexes[i] = i
	}

	err := agent.RunBatches(ctx, indexes, o.batchSize, func(ctx context.Context, i int) error {
		payload := make(map[string]any, len(t.Payload)+len(spec.params))
		for k, v := range t.Payload {
			if k != spec.items {
				payload[k] = v
			}
		}
		for k, v := range spec.params {
			payload[k] = v
		}
		payload[spec.itemKey] = items[i]

		sub := agent.NewTask(spec.itemType, fmt.Sprintf("%s (%d/%d)", t.Description, i+1, len(items)), payload)
		sub.Priority = t.Priority
		sub.MaxRetries = t.MaxRetries

		r, err := rt.Worker().ProcessTask(ctx, sub, ectx)
		if err != nil {
			r = skippedResult(sub, err)
		}
		results[i] = r
		return ctx.Err()
	})

	merged := mergeBulk(t, results, time.Since(start))
	if err != nil {
		merged.Status = agent.ResultFailure
		merged.Error = fmt.Sprintf("bulk aborted: %v", err)
	}
	o.logger.Info("bulk task finished",
		"type", t.Type, "items", len(items), "batch_size", o.batchSize,
		"status", merged.Status, "duration", merged.ExecutionTime)
	return merged
}

func mergeBulk(t *agent.Task, results []*agent.TaskResult, elapsed time.Duration) *agent.TaskResult {
	var (
		outputs []any
		errs    []string
		tools   []string
		cost    float64
		ran     int
	)
	seen := map[string]bool{}
	for _, r := range results {
		if r == nil {
			continue
		}
		ran++
		if r.Succeeded() {
			outputs = append(outputs, r.Data)
		} else {
			errs = append(errs, r.Error)
		}
		cost += r.Cost
		for _, name := range r.ToolsUsed {
			if !seen[name] {
				seen[name] = true
				tools = append(tools, name)
			}
		}
	}

	merged := &agent.TaskResult{
		TaskID:        t.ID,
		Status:        agent.ResultSuccess,
		ExecutionTime: elapsed,
		ToolsUsed:     tools,
		Cost:          cost,
		Data: map[string]any{
			"total":     len(results),
			"succeeded": len(outputs),
			"failed":    len(errs),
			"results":   outputs,
			"errors":    errs,
		},
	}
	switch {
	case len(errs) == 0 && ran == len(results):
	case len(outputs) == 0:
		merged.Status = agent.ResultFailure
		merged.Error = fmt.Sprintf("all %d items failed", len(errs))
		if len(errs) > 0 {
			merged.Error += ": " + errs[0]
		}
	default:
		merged.Status = agent.ResultPartial
		merged.Error = fmt.Sprintf("%d of %d items failed", len(results)-len(outputs), len(results))
	}
	return merged
}

// asList accepts the list shapes tool outputs come in.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []map[string]any:
		out := make([]any, len(l))
		for i, m := range l {
			out[i] = m
		}
		return out, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
