package storage

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dohr-michael/foreman/internal/storage/dirstore"
	"github.com/dohr-michael/foreman/internal/workflow"
)

// ErrExecutionNotFound is returned by ExecutionArchive.Get for unknown ids.
var ErrExecutionNotFound = errors.New("execution not found")

// ExecutionArchive keeps snapshots of finished workflow executions, one
// directory per execution id.
type ExecutionArchive struct {
	store *dirstore.DirStore
}

// NewExecutionArchive creates an archive rooted at dir.
func NewExecutionArchive(dir string) *ExecutionArchive {
	return &ExecutionArchive{store: dirstore.New(dir, "execution")}
}

// Save writes snap, replacing an earlier snapshot of the same execution.
func (a *ExecutionArchive) Save(snap workflow.ExecutionSnapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("archive: execution id is required")
	}
	return a.store.WriteMeta(snap.ID, snap)
}

// Get returns the archived snapshot with id.
func (a *ExecutionArchive) Get(id string) (*workflow.ExecutionSnapshot, error) {
	var snap workflow.ExecutionSnapshot
	if err := a.store.ReadMeta(id, &snap); err != nil {
		if errors.Is(err, dirstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, err
	}
	return &snap, nil
}

// List returns archived snapshots, newest first, optionally restricted to
// one workflow. limit <= 0 returns all.
func (a *ExecutionArchive) List(workflowID string, limit int) ([]workflow.ExecutionSnapshot, error) {
	ids, err := a.store.IDs()
	if err != nil {
		return nil, err
	}

	out := make([]workflow.ExecutionSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := a.Get(id)
		if err != nil {
			continue
		}
		if workflowID != "" && snap.WorkflowID != workflowID {
			continue
		}
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
