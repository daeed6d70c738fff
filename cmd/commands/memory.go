package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/steward/internal/memory"
)

// NewMemoryCommand returns the memory subcommand.
func NewMemoryCommand() *cli.Command {
	partition := &cli.StringFlag{Name: "partition", Aliases: []string{"p"}, Usage: "memory partition"}
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and edit Steward's long-term memory",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the most recent memories",
				Flags:  []cli.Flag{partition},
				Action: runMemoryList,
			},
			{
				Name:      "search",
				Usage:     "Search memories",
				ArgsUsage: "<query>",
				Flags:     []cli.Flag{partition},
				Action:    runMemorySearch,
			},
			{
				Name:      "show",
				Usage:     "Show a memory and its relations",
				ArgsUsage: "<id>",
				Action:    runMemoryShow,
			},
			{
				Name:      "add",
				Usage:     "Remember a fact",
				ArgsUsage: "<content>",
				Flags:     []cli.Flag{partition},
				Action:    runMemoryAdd,
			},
			{
				Name:      "relate",
				Usage:     "Link two memories",
				ArgsUsage: "<from_id> <to_id> <kind>",
				Flags:     []cli.Flag{partition},
				Action:    runMemoryRelate,
			},
		},
		DefaultCommand: "list",
	}
}

func withMemory(ctx context.Context, cmd *cli.Command, fn func(*memory.SQLStore) error) error {
	db, err := openDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(memory.NewSQLStore(db))
}

func runMemoryList(ctx context.Context, cmd *cli.Command) error {
	return withMemory(ctx, cmd, func(store *memory.SQLStore) error {
		results, err := store.Search(ctx, "", 20, cmd.String("partition"))
		if err != nil {
			return fmt.Errorf("list memories: %w", err)
		}
		if len(results) == 0 {
			fmt.Println("No memories stored.")
			return nil
		}
		return printMemories(results, false)
	})
}

func runMemorySearch(ctx context.Context, cmd *cli.Command) error {
	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("usage: steward memory search <query>")
	}
	return withMemory(ctx, cmd, func(store *memory.SQLStore) error {
		results, err := store.Search(ctx, query, 10, cmd.String("partition"))
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}
		if len(results) == 0 {
			fmt.Println("No matching memories found.")
			return nil
		}
		return printMemories(results, true)
	})
}

func printMemories(results []memory.Result, scored bool) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if scored {
		fmt.Fprintln(w, "SCORE\tID\tPARTITION\tCONTENT")
	} else {
		fmt.Fprintln(w, "ID\tPARTITION\tCREATED\tCONTENT")
	}
	for _, r := range results {
		content := truncate(r.Content, 60)
		if scored {
			fmt.Fprintf(w, "%.2f\t%s\t%s\t%s\n", r.Score, r.ID, r.Partition, content)
		} else {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Partition, r.CreatedAt.Local().Format(timeFormat), content)
		}
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}

func runMemoryShow(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "memory show <id>")
	if err != nil {
		return err
	}
	return withMemory(ctx, cmd, func(store *memory.SQLStore) error {
		e, err := store.Get(ctx, id)
		if err != nil {
			return fmt.Errorf("get memory: %w", err)
		}
		fmt.Printf("ID:         %s\n", e.ID)
		fmt.Printf("Partition:  %s\n", e.Partition)
		if e.Source != "" {
			fmt.Printf("Source:     %s\n", e.Source)
		}
		fmt.Printf("Created:    %s\n", e.CreatedAt.Local().Format(timeFormat))
		fmt.Printf("\nContent:\n%s\n", e.Content)

		rels, err := store.Related(ctx, id)
		if err != nil {
			return fmt.Errorf("relations: %w", err)
		}
		if len(rels) > 0 {
			fmt.Println("\nRelations:")
			for _, r := range rels {
				fmt.Printf("  %s -[%s]-> %s\n", r.From, r.Kind, r.To)
			}
		}
		return nil
	})
}

func runMemoryAdd(ctx context.Context, cmd *cli.Command) error {
	content := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if content == "" {
		return fmt.Errorf("usage: steward memory add <content>")
	}
	return withMemory(ctx, cmd, func(store *memory.SQLStore) error {
		e, err := store.Add(ctx, content, "cli", cmd.String("partition"))
		if err != nil {
			return fmt.Errorf("add memory: %w", err)
		}
		fmt.Printf("Memory %s stored.\n", e.ID)
		return nil
	})
}

func runMemoryRelate(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) != 3 {
		return fmt.Errorf("usage: steward memory relate <from_id> <to_id> <kind>")
	}
	return withMemory(ctx, cmd, func(store *memory.SQLStore) error {
		if err := store.Relate(ctx, cmd.String("partition"), args[0], args[1], args[2]); err != nil {
			return fmt.Errorf("relate: %w", err)
		}
		fmt.Printf("%s -[%s]-> %s\n", args[0], args[2], args[1])
		return nil
	})
}
