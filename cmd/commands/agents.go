package commands

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
)

// NewAgentsCommand returns the agents subcommand.
func NewAgentsCommand() *cli.Command {
	return &cli.Command{
		Name:   "agents",
		Usage:  "List configured agents and the tools they can reach",
		Action: runAgents,
	}
}

func runAgents(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if len(a.cfg.Agents.Definitions) == 0 {
		fmt.Println("No agents configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tCAPABILITIES\tROUTES")
	for _, def := range a.cfg.Agents.Definitions {
		rt, ok := a.orch.Agent(def.Name)
		if !ok {
			continue
		}
		routes := make([]string, 0, len(def.Routes))
		for match, tool := range def.Routes {
			routes = append(routes, match+"→"+tool)
		}
		sort.Strings(routes)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", def.Name, rt.Status(),
			strings.Join(def.Capabilities, ","), strings.Join(routes, " "))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("tools: %s\n", strings.Join(a.tools.Names(), ", "))
	return nil
}
