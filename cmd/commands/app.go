package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/callbacks"
	"github.com/dohr-michael/foreman/internal/config"
	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/memory"
	"github.com/dohr-michael/foreman/internal/models"
	"github.com/dohr-michael/foreman/internal/orchestrator"
	"github.com/dohr-michael/foreman/internal/storage"
	"github.com/dohr-michael/foreman/internal/tools"
	"github.com/dohr-michael/foreman/internal/workflow"
)

// app is the wired process: bus, memory, tools, agents and orchestrator.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	bus      *events.Bus
	memory   *memory.Store
	models   *models.Registry
	tools    *agent.ToolRegistry
	orch     *orchestrator.Orchestrator
	archive  *storage.ExecutionArchive // nil when disabled
	costs    *storage.CostTracker
	eventLog *storage.EventLogger // nil when disabled
	runtimes []*agent.Runtime
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config not found, using defaults", "path", path)
		return config.Default(), nil
	}
	return cfg, err
}

func openMemory(cfg config.MemoryConfig, logger *slog.Logger) (*memory.Store, error) {
	var backend memory.Backend
	switch cfg.Backend {
	case "memory":
		backend = memory.NewMapBackend()
	case "file":
		fb, err := memory.NewFileBackend(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open memory dir: %w", err)
		}
		backend = fb
	case "sqlite":
		sb, err := memory.NewSQLiteBackend(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open memory db: %w", err)
		}
		backend = sb
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}

	store := memory.NewStore(memory.Options{
		Backend:         backend,
		Logger:          logger,
		SweepInterval:   cfg.SweepInterval.Duration(),
		EventCapacity:   cfg.EventCapacity,
		EventRetention:  cfg.EventRetention.Duration(),
		PatternCapacity: cfg.PatternCapacity,
	})
	if err := store.LoadSnapshot(); err != nil {
		logger.Warn("memory snapshot not restored", "error", err)
	}
	return store, nil
}

func newApp(ctx context.Context, cmd *cli.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := slog.Default()

	a := &app{
		cfg:    cfg,
		logger: logger,
		bus:    events.NewBus(cfg.Events.BufferSize),
		models: models.NewRegistry(cfg.Models),
	}
	a.costs = storage.NewCostTracker(a.bus)
	if cfg.Events.LogDir != "" {
		a.eventLog = storage.NewEventLogger(cfg.Events.LogDir, a.bus, logger)
	}
	if cfg.Workflows.ArchiveDir != "" {
		a.archive = storage.NewExecutionArchive(cfg.Workflows.ArchiveDir)
	}

	if a.memory, err = openMemory(cfg.Memory, logger); err != nil {
		a.close()
		return nil, err
	}
	a.memory.Start(ctx)

	alerts := workflow.NewBusAlertSink(a.bus, logger)
	if a.tools, err = tools.Builtin(ctx, cfg.Tools, alerts, a.memory); err != nil {
		a.close()
		return nil, err
	}

	classifier, err := a.classifier(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	ocfg := orchestrator.Config{
		Classifier:  classifier,
		Bus:         a.bus,
		Alerts:      alerts,
		StepTimeout: cfg.Orchestrator.StepTimeout.Duration(),
		BatchSize:   cfg.Orchestrator.BatchSize,
		Logger:      logger,
	}
	if a.archive != nil {
		ocfg.Archive = a.archive
	}
	a.orch = orchestrator.New(ocfg)

	if err := a.startAgents(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.loadWorkflows(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) classifier(ctx context.Context) (orchestrator.Classifier, error) {
	switch a.cfg.Orchestrator.Classifier {
	case "rules":
		return orchestrator.NewRuleClassifier(), nil
	case "model":
		m, err := a.models.Resolve(ctx, a.cfg.Orchestrator.Model)
		if err != nil {
			return nil, fmt.Errorf("classifier model: %w", models.HandleError(err))
		}
		return orchestrator.NewModelClassifier(m, orchestrator.NewRuleClassifier(), a.logger).
			WithCallbacks(callbacks.NewModelEventHandler(a.bus, events.SourceOrchestrator)), nil
	}
	return nil, fmt.Errorf("unknown classifier %q", a.cfg.Orchestrator.Classifier)
}

func (a *app) startAgents(ctx context.Context) error {
	backoff := agent.Backoff{
		Kind:    agent.BackoffKind(a.cfg.Agents.Backoff.Kind),
		Initial: a.cfg.Agents.Backoff.Initial.Duration(),
	}
	for _, def := range a.cfg.Agents.Definitions {
		if def.Name == "" {
			return fmt.Errorf("agent definition without a name")
		}
		rt := agent.NewRuntime(agent.NewRoutedAgent(def), agent.RuntimeConfig{
			Memory:     a.memory,
			Bus:        a.bus,
			Tools:      a.tools,
			Logger:     a.logger.With("agent", def.Name),
			MaxRetries: a.cfg.Agents.MaxRetries,
			Backoff:    backoff,
			Learning:   a.cfg.Agents.Learning,
		})
		if err := rt.Start(ctx); err != nil {
			return fmt.Errorf("start agent %s: %w", def.Name, err)
		}
		a.runtimes = append(a.runtimes, rt)
		a.orch.RegisterAgent(def.Name, rt)
	}
	a.logger.Debug("agents started", "count", len(a.runtimes), "tools", a.tools.Names())
	return nil
}

func (a *app) loadWorkflows() error {
	for _, dir := range a.cfg.Workflows.Dirs {
		reg := workflow.NewRegistry()
		if err := reg.LoadDir(dir); err != nil {
			return fmt.Errorf("load workflows: %w", err)
		}
		for _, wf := range reg.All() {
			if err := a.orch.RegisterWorkflow(wf); err != nil {
				return err
			}
		}
	}
	a.logger.Debug("workflows loaded", "count", len(a.orch.Workflows()))
	return nil
}

// close stops agents, persists memory and releases the bus.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, rt := range a.runtimes {
		if err := rt.Stop(ctx); err != nil {
			a.logger.Warn("agent stop failed", "agent", rt.Name(), "error", err)
		}
	}
	if a.memory != nil {
		if err := a.memory.SaveSnapshot(); err != nil {
			a.logger.Warn("memory snapshot not saved", "error", err)
		}
		if err := a.memory.Stop(); err != nil {
			a.logger.Warn("memory close failed", "error", err)
		}
	}
	if a.eventLog != nil {
		a.eventLog.Close()
	}
	a.costs.Close()
	a.bus.Close()
}
