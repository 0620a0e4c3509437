// Package scheduler fires workflow triggers: cron schedules, bus events and
// conditions evaluated against bus events.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/workflow"
)

// DefaultCooldown is the minimum interval between two firings of the same trigger.
const DefaultCooldown = 60 * time.Second

// Runner starts workflow executions.
type Runner interface {
	ExecuteWorkflow(ctx context.Context, id string, ectx *agent.ExecutionContext, trigger map[string]any) (*workflow.Execution, error)
}

// Config holds dependencies for the scheduler.
type Config struct {
	Runner    Runner
	Bus       *events.Bus
	Workflows []*workflow.Workflow
	Cooldown  time.Duration // zero means DefaultCooldown
	Logger    *slog.Logger
	Now       func() time.Time
}

// Scheduler fires workflow triggers. Manual triggers are ignored.
type Scheduler struct {
	runner   Runner
	bus      *events.Bus
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]*runtimeEntry

	ctx         context.Context
	cancel      context.CancelFunc
	runs        sync.WaitGroup
	done        chan struct{}
	unsubscribe func()
}

// New creates a Scheduler and registers the triggers of cfg.Workflows.
// Workflows with invalid triggers are logged and skipped.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		runner:   cfg.Runner,
		bus:      cfg.Bus,
		cooldown: cfg.Cooldown,
		logger:   cfg.Logger,
		now:      cfg.Now,
		entries:  make(map[string]*runtimeEntry),
		done:     make(chan struct{}),
	}
	if s.cooldown <= 0 {
		s.cooldown = DefaultCooldown
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	for _, wf := range cfg.Workflows {
		if err := s.AddWorkflow(wf); err != nil {
			s.logger.Warn("scheduler: skipping workflow", "workflow", wf.ID, "error", err)
		}
	}
	return s
}

// Start begins the cron loop and the event subscription. Runs started by the
// scheduler inherit ctx values but are only cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if s.bus != nil {
		s.unsubscribe = s.bus.Subscribe(s.handleEvent)
	}
	go s.cronLoop()
	s.logger.Info("scheduler started", "entries", len(s.Entries()))
}

// Stop halts the loops, cancels in-flight runs and waits for them.
func (s *Scheduler) Stop() {
	close(s.done)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.cancel()
	s.runs.Wait()
	s.logger.Info("scheduler stopped")
}

// AddWorkflow registers every non-manual trigger of wf, replacing earlier ones.
func (s *Scheduler) AddWorkflow(wf *workflow.Workflow) error {
	added := make([]*runtimeEntry, 0, len(wf.Triggers))
	for i, t := range wf.Triggers {
		if t.Type == workflow.TriggerManual {
			continue
		}
		re, err := newRuntimeEntry(wf.ID, i, t, s.cooldown)
		if err != nil {
			return err
		}
		added = append(added, re)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(wf.ID)
	for _, re := range added {
		s.entries[re.id] = re
		s.logger.Info("scheduler: registered trigger",
			"id", re.id, "type", re.trigger.Type, "cron", re.trigger.Cron, "event", re.trigger.Event)
	}
	return nil
}

// RemoveWorkflow drops every trigger of the workflow.
func (s *Scheduler) RemoveWorkflow(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Scheduler) removeLocked(workflowID string) {
	for id, re := range s.entries {
		if re.workflowID == workflowID {
			delete(s.entries, id)
		}
	}
}

// Entries returns a snapshot of registered triggers sorted by id.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Entry, 0, len(s.entries))
	for _, re := range s.entries {
		result = append(result, re.snapshot())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *Scheduler) cronLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkCron(s.now())
		}
	}
}

func (s *Scheduler) checkCron(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, re := range s.entries {
		if re.cron == nil || !re.cron.Matches(now) || re.coolingDown(now) {
			continue
		}
		s.fireLocked(re, now, map[string]any{
			"type":     string(workflow.TriggerSchedule),
			"cron":     re.cron.String(),
			"fired_at": now.Format(time.RFC3339),
		})
	}
}

func (s *Scheduler) handleEvent(e events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, re := range s.entries {
		var matched bool
		switch re.trigger.Type {
		case workflow.TriggerEvent:
			matched = MatchEvent(e, re.trigger)
		case workflow.TriggerCondition:
			matched = MatchConditions(e, re.trigger)
		}
		if !matched || re.coolingDown(now) {
			continue
		}
		trigger := eventState(e)
		trigger["type"] = string(re.trigger.Type)
		s.fireLocked(re, now, trigger)
	}
}

// fireLocked starts the workflow in the background. Caller must hold s.mu.
func (s *Scheduler) fireLocked(re *runtimeEntry, now time.Time, trigger map[string]any) {
	re.lastRun = now
	re.runCount++

	payload := events.ScheduleTriggerPayload{
		WorkflowID: re.workflowID,
		Trigger:    string(re.trigger.Type),
		Cron:       re.trigger.Cron,
		OnEvent:    re.trigger.Event,
	}
	s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, payload))
	s.logger.Info("scheduler: triggered", "id", re.id, "workflow", re.workflowID, "trigger", re.trigger.Type)

	ctx := s.ctx
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		ectx := &agent.ExecutionContext{
			UserID:   "scheduler",
			Metadata: map[string]any{"trigger_id": re.id},
		}
		exec, err := s.runner.ExecuteWorkflow(ctx, re.workflowID, ectx, trigger)
		if err != nil {
			s.logger.Error("scheduler: workflow failed", "workflow", re.workflowID, "error", err)
			return
		}
		s.logger.Info("scheduler: workflow finished", "workflow", re.workflowID, "execution", exec.ID)
	}()
}
