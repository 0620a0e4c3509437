package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/memory"
)

const (
	ledgerName        = "ledger"
	ledgerPrefix      = "ledger:"
	ledgerLimit       = 20
	ledgerSearchLimit = 200
)

// lookupVerbs mark task types that read the ledger instead of writing it.
var lookupVerbs = []string{"fetch", "query", "summary", "report", "overdue"}

// NewLedger creates the ledger tool, a bookkeeping record kept in agent
// memory. Lookup task types (fetch, query, summary, report, overdue) search
// the ledger; any other task type appends its params as a new record.
//
// Records are keyed ledger:<record_type>:<id>, where record_type defaults to
// the task type. A lookup with a record_type only returns records of that
// type, and lists all of them when the params carry no search term.
// Lookups return the rows plus, for the best row, its "id" and "record",
// and every row's record under "items".
func NewLedger(store *memory.Store) agent.Tool {
	return agent.NewFuncTool(ledgerName,
		"Record bookkeeping entries and look them up.",
		func(_ context.Context, params map[string]any) (any, error) {
			taskType := stringParam(params, "task_type", "entry")
			if isLookup(taskType) {
				return lookup(store, params), nil
			}

			recordType := stringParam(params, "record_type", taskType)
			key := fmt.Sprintf("%s%s:%s", ledgerPrefix, recordType, uuid.New().String()[:8])
			record := make(map[string]any, len(params))
			for k, v := range params {
				record[k] = v
			}
			if err := store.Remember(key, record, 0); err != nil {
				return nil, fmt.Errorf("ledger: %w", err)
			}
			return map[string]any{"id": key, "record": record}, nil
		}).
		WithCost(0.001)
}

func isLookup(taskType string) bool {
	t := strings.ToLower(taskType)
	for _, v := range lookupVerbs {
		if strings.Contains(t, v) {
			return true
		}
	}
	return false
}

// lookup searches with every term the params carry.
func lookup(store *memory.Store, params map[string]any) map[string]any {
	prefix := ledgerPrefix
	if rt := stringParam(params, "record_type", ""); rt != "" {
		prefix += rt + ":"
	}

	var terms []string
	for _, k := range []string{"query", "customer", "customer_id", "invoice_id", "period"} {
		if s := stringParam(params, k, ""); s != "" {
			terms = append(terms, s)
		}
	}
	query := strings.Join(terms, " ")

	rows := []map[string]any{}
	switch {
	case query == "" && prefix != ledgerPrefix:
		for _, key := range store.Keys(prefix) {
			if v, ok := store.Recall(key); ok {
				rows = append(rows, map[string]any{"id": key, "score": 0.0, "record": v})
			}
		}
	default:
		if query == "" {
			query = strings.TrimSuffix(ledgerPrefix, ":")
		}
		for _, r := range store.Search(query, ledgerSearchLimit) {
			if !strings.HasPrefix(r.Key, prefix) {
				continue
			}
			rows = append(rows, map[string]any{"id": r.Key, "score": r.Score, "record": r.Value})
			if len(rows) == ledgerLimit {
				break
			}
		}
	}

	items := make([]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, row["record"])
	}
	out := map[string]any{"query": query, "count": len(rows), "rows": rows, "items": items}
	if len(rows) > 0 {
		out["id"] = rows[0]["id"]
		out["record"] = rows[0]["record"]
	}
	return out
}
