package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foreman/internal/config"
	"github.com/dohr-michael/foreman/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show whether `foreman serve` is running",
		Action: func(_ context.Context, _ *cli.Command) error {
			status, hb, err := heartbeat.Check(heartbeat.Path(config.ForemanPath()), 3*heartbeat.DefaultInterval)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			switch status {
			case heartbeat.StatusAlive:
				fmt.Printf("Server: ALIVE (PID %d, uptime %s, %s)\n", hb.PID, hb.Uptime(), hb.Stats.Addr)
				fmt.Printf("  agents %d, workflows %d, triggers %d, ws clients %d\n",
					hb.Stats.Agents, hb.Stats.Workflows, hb.Stats.Triggers, hb.Stats.WSClients)
			case heartbeat.StatusStale:
				fmt.Printf("Server: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				fmt.Println("Server: NOT RUNNING")
			}
			return nil
		},
	}
}
