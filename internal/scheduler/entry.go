package scheduler

import (
	"fmt"
	"time"

	"github.com/dohr-michael/foreman/internal/workflow"
)

// Entry is a snapshot of one registered workflow trigger.
type Entry struct {
	ID         string               `json:"id"`
	WorkflowID string               `json:"workflow_id"`
	Type       workflow.TriggerType `json:"type"`
	Cron       string               `json:"cron,omitempty"`
	Event      string               `json:"event,omitempty"`
	RunCount   int                  `json:"run_count"`
	LastRun    time.Time            `json:"last_run,omitempty"`
}

// runtimeEntry is the scheduler's internal state for one trigger.
type runtimeEntry struct {
	id         string
	workflowID string
	trigger    workflow.Trigger
	cron       *CronExpr
	cooldown   time.Duration
	runCount   int
	lastRun    time.Time
}

func newRuntimeEntry(wfID string, index int, t workflow.Trigger, cooldown time.Duration) (*runtimeEntry, error) {
	re := &runtimeEntry{
		id:         fmt.Sprintf("%s#%d", wfID, index),
		workflowID: wfID,
		trigger:    t,
		cooldown:   cooldown,
	}
	if t.Type == workflow.TriggerSchedule {
		expr, err := ParseCron(t.Cron)
		if err != nil {
			return nil, err
		}
		re.cron = expr
	}
	return re, nil
}

func (re *runtimeEntry) coolingDown(now time.Time) bool {
	return !re.lastRun.IsZero() && now.Sub(re.lastRun) < re.cooldown
}

func (re *runtimeEntry) snapshot() Entry {
	return Entry{
		ID:         re.id,
		WorkflowID: re.workflowID,
		Type:       re.trigger.Type,
		Cron:       re.trigger.Cron,
		Event:      re.trigger.Event,
		RunCount:   re.runCount,
		LastRun:    re.lastRun,
	}
}
