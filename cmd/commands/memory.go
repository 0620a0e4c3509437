package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/foreman/internal/config"
	"github.com/dohr-michael/foreman/internal/memory"
)

// NewMemoryCommand returns the memory subcommand.
func NewMemoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect agent memory",
		Commands: []*cli.Command{
			{
				Name:      "search",
				Usage:     "Search long-term entries",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 10, Usage: "Maximum results"},
					&cli.BoolFlag{Name: "semantic", Usage: "Rank by embedding similarity (needs memory.embedding)"},
				},
				Action: runMemorySearch,
			},
			{
				Name:      "recall",
				Usage:     "Show one long-term entry",
				ArgsUsage: "<key>",
				Action:    runMemoryRecall,
			},
			{
				Name:  "relations",
				Usage: "Query knowledge triples",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Aliases: []string{"s"}},
					&cli.StringFlag{Name: "predicate", Aliases: []string{"p"}},
					&cli.StringFlag{Name: "object", Aliases: []string{"o"}},
				},
				Action: runMemoryRelations,
			},
			{
				Name:      "patterns",
				Usage:     "Show learned patterns for a task type",
				ArgsUsage: "<task-type>",
				Action:    runMemoryPatterns,
			},
		},
	}
}

// withMemory opens the configured store, runs fn and closes the store
// without rewriting its snapshot.
func withMemory(cmd *cli.Command, fn func(*config.Config, *memory.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Memory.Backend == "memory" {
		fmt.Fprintln(os.Stderr, "note: memory.backend is \"memory\", nothing is persisted between runs")
	}
	store, err := openMemory(cfg.Memory, slog.Default())
	if err != nil {
		return err
	}
	defer store.Stop()
	return fn(cfg, store)
}

func runMemorySearch(ctx context.Context, cmd *cli.Command) error {
	query := cmd.Args().First()
	if query == "" {
		return fmt.Errorf("usage: foreman memory search <query>")
	}
	return withMemory(cmd, func(cfg *config.Config, store *memory.Store) error {
		limit := int(cmd.Int("limit"))
		format := "%.0f\t%s\t%s\n"

		var results []memory.SearchResult
		if cmd.Bool("semantic") {
			if cfg.Memory.Embedding == nil {
				return fmt.Errorf("semantic search needs memory.embedding in the config")
			}
			emb, err := memory.NewEmbedder(ctx, *cfg.Memory.Embedding)
			if err != nil {
				return err
			}
			results, err = memory.NewSemanticIndex(store, emb).Search(ctx, query, limit)
			if err != nil {
				return err
			}
			format = "%.3f\t%s\t%s\n"
		} else {
			results = store.Search(query, limit)
		}
		if len(results) == 0 {
			fmt.Println("No matching entries found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SCORE\tKEY\tVALUE")
		for _, r := range results {
			data, _ := json.Marshal(r.Value)
			fmt.Fprintf(w, format, r.Score, r.Key, truncate(string(data), 80))
		}
		return w.Flush()
	})
}

func runMemoryRecall(_ context.Context, cmd *cli.Command) error {
	key := cmd.Args().First()
	if key == "" {
		return fmt.Errorf("usage: foreman memory recall <key>")
	}
	return withMemory(cmd, func(_ *config.Config, store *memory.Store) error {
		v, ok := store.Recall(key)
		if !ok {
			return fmt.Errorf("no entry for %q", key)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

func runMemoryRelations(_ context.Context, cmd *cli.Command) error {
	return withMemory(cmd, func(_ *config.Config, store *memory.Store) error {
		triples := store.Query(memory.TriplePattern{
			Subject:   cmd.String("subject"),
			Predicate: cmd.String("predicate"),
			Object:    cmd.String("object"),
		})
		if len(triples) == 0 {
			fmt.Println("No relations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SUBJECT\tPREDICATE\tOBJECT\tCONFIDENCE")
		for _, t := range triples {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\n", t.Subject, t.Predicate, t.Object, t.Confidence)
		}
		return w.Flush()
	})
}

func runMemoryPatterns(_ context.Context, cmd *cli.Command) error {
	taskType := cmd.Args().First()
	if taskType == "" {
		return fmt.Errorf("usage: foreman memory patterns <task-type>")
	}
	return withMemory(cmd, func(_ *config.Config, store *memory.Store) error {
		sug := store.SuggestApproach(taskType)
		if sug.Empty() {
			fmt.Printf("Nothing learned about %s yet.\n", taskType)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOOLS\tCONFIDENCE\tDURATION")
		for _, p := range sug.Patterns {
			fmt.Fprintf(w, "%v\t%.2f\t%s\n", p.ToolsUsed, p.Confidence, p.ExecutionTime)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		for _, r := range sug.Relations {
			fmt.Printf("%s %s %s (%.2f)\n", r.Subject, r.Predicate, r.Object, r.Confidence)
		}
		return nil
	})
}
