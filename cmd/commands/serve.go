package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foreman/internal/config"
	"github.com/dohr-michael/foreman/internal/gateway"
	"github.com/dohr-michael/foreman/internal/heartbeat"
	"github.com/dohr-michael/foreman/internal/scheduler"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler and the HTTP/WebSocket gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "host", Usage: "Host to listen on"},
			&cli.IntFlag{Name: "port", Usage: "Port to listen on"},
			&cli.BoolFlag{Name: "no-scheduler", Usage: "Do not fire workflow triggers"},
		},
		Action: runServe,
	}
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	// CLI flags override config
	if cmd.IsSet("host") {
		a.cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		a.cfg.Gateway.Port = cmd.Int("port")
	}

	gcfg := gateway.Config{
		Orchestrator: a.orch,
		Bus:          a.bus,
		Costs:        a.costs,
		Host:         a.cfg.Gateway.Host,
		Port:         a.cfg.Gateway.Port,
		Logger:       a.logger,
	}
	if a.archive != nil {
		gcfg.History = a.archive
	}

	if !cmd.Bool("no-scheduler") {
		sched := scheduler.New(scheduler.Config{
			Runner:    a.orch,
			Bus:       a.bus,
			Workflows: a.orch.Workflows(),
			Logger:    a.logger,
		})
		sched.Start(ctx)
		defer sched.Stop()
		gcfg.Schedules = sched
		a.logger.Info("scheduler started", "triggers", len(sched.Entries()))
	}

	server := gateway.NewServer(gcfg)

	hb := heartbeat.NewWriter(heartbeat.Path(config.ForemanPath()), 0, func() heartbeat.Stats {
		st := heartbeat.Stats{
			Addr:      server.Addr(),
			Agents:    len(a.runtimes),
			Workflows: len(a.orch.Workflows()),
			WSClients: server.Clients(),
		}
		if gcfg.Schedules != nil {
			st.Triggers = len(gcfg.Schedules.Entries())
		}
		return st
	})
	if err := hb.Start(); err != nil {
		a.logger.Warn("heartbeat disabled", "error", err)
	} else {
		defer hb.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
		return nil
	}
}
