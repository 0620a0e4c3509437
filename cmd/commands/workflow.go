package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/storage"
	"github.com/dohr-michael/foreman/internal/workflow"
)

// NewWorkflowCommand returns the workflow subcommand.
func NewWorkflowCommand() *cli.Command {
	return &cli.Command{
		Name:  "workflow",
		Usage: "List, run and inspect workflows",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List registered workflows",
				Action: runWorkflowList,
			},
			{
				Name:      "run",
				Usage:     "Run a workflow now",
				ArgsUsage: "<workflow-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "trigger", Usage: "Trigger data as a JSON object"},
					&cli.StringFlag{Name: "user", Usage: "User id recorded in the execution context"},
				},
				Action: runWorkflowRun,
			},
			{
				Name:      "validate",
				Usage:     "Check workflow definition files",
				ArgsUsage: "<file.jsonc>...",
				Action:    runWorkflowValidate,
			},
			{
				Name:      "history",
				Usage:     "List archived executions",
				ArgsUsage: "[workflow-id]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Maximum executions to show", Value: 20},
				},
				Action: runWorkflowHistory,
			},
		},
		DefaultCommand: "list",
	}
}

func runWorkflowList(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	wfs := a.orch.Workflows()
	if len(wfs) == 0 {
		fmt.Println("No workflows registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTEPS\tTRIGGERS")
	for _, wf := range wfs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", wf.ID, wf.Name, len(wf.Steps), describeTriggers(wf.Triggers))
	}
	return w.Flush()
}

func describeTriggers(triggers []workflow.Trigger) string {
	if len(triggers) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(triggers))
	for _, t := range triggers {
		switch t.Type {
		case workflow.TriggerSchedule:
			parts = append(parts, "cron("+t.Cron+")")
		case workflow.TriggerEvent:
			parts = append(parts, "on("+t.Event+")")
		default:
			parts = append(parts, string(t.Type))
		}
	}
	return strings.Join(parts, ", ")
}

func runWorkflowRun(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: foreman workflow run <workflow-id>")
	}
	trigger := map[string]any{"type": string(workflow.TriggerManual)}
	if raw := cmd.String("trigger"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &trigger); err != nil {
			return fmt.Errorf("invalid --trigger: %w", err)
		}
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	traceID := events.NewTraceID()
	ctx = events.ContextWithTraceID(ctx, traceID)
	exec, runErr := a.orch.ExecuteWorkflow(ctx, id, &agent.ExecutionContext{UserID: cmd.String("user"), TraceID: traceID}, trigger)
	if exec == nil {
		return runErr
	}
	printExecution(exec.Snapshot())
	return runErr
}

func printExecution(snap workflow.ExecutionSnapshot) {
	fmt.Printf("execution %s (%s): %s\n", snap.ID, snap.WorkflowID, snap.Status)

	ids := make([]string, 0, len(snap.Results))
	for id := range snap.Results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tSTATUS\tDETAIL")
	for _, id := range ids {
		r := snap.Results[id]
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, r.Status, truncate(r.Error, 80))
	}
	for _, id := range snap.Skipped {
		fmt.Fprintf(w, "%s\tskipped\t\n", id)
	}
	w.Flush()
	if snap.Error != "" {
		fmt.Printf("error: %s\n", snap.Error)
	}
}

func runWorkflowValidate(_ context.Context, cmd *cli.Command) error {
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("usage: foreman workflow validate <file.jsonc>...")
	}
	var failed int
	for _, p := range paths {
		wf, err := workflow.LoadFile(p)
		if err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", p, err)
			continue
		}
		fmt.Printf("ok   %s (%s, %d steps)\n", p, wf.ID, len(wf.Steps))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d workflow files invalid", failed, len(paths))
	}
	return nil
}

func runWorkflowHistory(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Workflows.ArchiveDir == "" {
		return fmt.Errorf("execution archive disabled: set workflows.archive_dir")
	}

	snaps, err := storage.NewExecutionArchive(cfg.Workflows.ArchiveDir).List(cmd.Args().First(), int(cmd.Int("limit")))
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("No archived executions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EXECUTION\tWORKFLOW\tSTATUS\tSTARTED\tDURATION")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.WorkflowID, s.Status,
			s.StartTime.Format("2006-01-02 15:04:05"), s.EndTime.Sub(s.StartTime).Round(1e6))
	}
	return w.Flush()
}
