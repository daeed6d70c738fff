package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/steward/internal/scheduler"
	"github.com/dohr-michael/steward/internal/tasks"
)

// NewScheduleCommand returns the schedule subcommand.
func NewScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "View recurring task schedules and what they produced",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List configured schedules and their next run",
				Action: runScheduleList,
			},
			{
				Name:  "history",
				Usage: "Show tasks created by schedules",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "number of tasks"},
				},
				Action: runScheduleHistory,
			},
		},
		DefaultCommand: "list",
	}
}

func runScheduleList(_ context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Schedules) == 0 {
		fmt.Println("No schedules configured.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CRON\tNEXT\tTAGS\tTITLE")
	for _, s := range cfg.Schedules {
		next := "invalid"
		if expr, err := scheduler.ParseCron(s.Cron); err == nil {
			next = expr.Next(now).Local().Format(timeFormat)
		}
		tags := "-"
		if len(s.Tags) > 0 {
			tags = strings.Join(s.Tags, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Cron, next, tags, s.Title)
	}
	return w.Flush()
}

func runScheduleHistory(ctx context.Context, cmd *cli.Command) error {
	db, err := openDB(ctx, cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	list, err := tasks.NewSQLStore(db).List(ctx, tasks.ListFilter{
		Tag:   scheduler.ScheduledTag,
		Limit: cmd.Int("limit"),
	})
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No scheduled tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tTASK\tSTATUS\tTITLE")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			t.CreatedAt.Local().Format(timeFormat),
			t.ID, colorStatus(t.Status), t.Title)
	}
	return w.Flush()
}
