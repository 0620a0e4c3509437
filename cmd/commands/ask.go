package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foreman/internal/agent"
	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/orchestrator"
)

// NewAskCommand returns the ask subcommand.
func NewAskCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Process a natural-language request and print the result",
		ArgsUsage: "<request>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "User id recorded in the execution context"},
			&cli.StringFlag{Name: "org", Usage: "Organization id passed to agents"},
			&cli.BoolFlag{Name: "json", Usage: "Print the full response as JSON"},
		},
		Action: runAsk,
	}
}

func runAsk(ctx context.Context, cmd *cli.Command) error {
	request := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(request) == "" {
		return fmt.Errorf("usage: foreman ask <request>")
	}

	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	traceID := events.NewTraceID()
	ctx = events.ContextWithTraceID(ctx, traceID)
	resp := a.orch.ProcessUserRequest(ctx, request, &agent.ExecutionContext{
		UserID:         cmd.String("user"),
		OrganizationID: cmd.String("org"),
		TraceID:        traceID,
	})

	if cmd.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else if err := printResponse(resp); err != nil {
		return err
	}

	if resp.Error != nil {
		return fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}
	return nil
}

func printResponse(resp *orchestrator.Response) error {
	if resp.Intent != nil {
		fmt.Printf("intent: %s (confidence %.2f)\n", resp.Intent.Action, resp.Intent.Confidence)
	}
	if len(resp.Results) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tDURATION\tDETAIL")
	for _, r := range resp.Results {
		detail := r.Error
		if detail == "" && r.Data != nil {
			data, _ := json.Marshal(r.Data)
			detail = truncate(string(data), 80)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.TaskID, r.Status, r.ExecutionTime.Round(1e6), detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("status: %s\n", resp.Status)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
