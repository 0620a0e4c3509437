package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foreman/internal/storage"
)

// NewEventsCommand returns the events subcommand.
func NewEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "events",
		Usage:     "Replay the event log of a trace",
		ArgsUsage: "[trace-id]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print events as JSON lines"},
		},
		Action: runEvents,
	}
}

func runEvents(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Events.LogDir == "" {
		return fmt.Errorf("event log disabled: set events.log_dir")
	}

	traceID := cmd.Args().First()
	if traceID == "" {
		traces, err := storage.Traces(cfg.Events.LogDir)
		if err != nil {
			return err
		}
		if len(traces) == 0 {
			fmt.Println("No traces logged.")
			return nil
		}
		for _, t := range traces {
			fmt.Println(t)
		}
		return nil
	}

	evts, err := storage.ReadTrace(cfg.Events.LogDir, traceID)
	if err != nil {
		return err
	}
	if len(evts) == 0 {
		return fmt.Errorf("no events for trace %s", traceID)
	}

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		for _, e := range evts {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSOURCE\tTYPE\tPAYLOAD")
	for _, e := range evts {
		data, _ := json.Marshal(e.Payload)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.TimeOnly), e.Source, e.Type, truncate(string(data), 80))
	}
	return w.Flush()
}
