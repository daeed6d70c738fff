package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/steward/clients/api"
	"github.com/dohr-michael/steward/internal/scheduler"
	"github.com/dohr-michael/steward/internal/tasks"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show gateway, worker and queue status",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			client, err := newAPIClient(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := client.Health(ctx); err != nil {
				if errors.Is(err, api.ErrUnavailable) {
					fmt.Printf("Gateway: %s (%s)\n", color.RedString("NOT RUNNING"), client.BaseURL())
					return nil
				}
				return err
			}
			fmt.Printf("Gateway: %s (%s)\n", color.GreenString("ALIVE"), client.BaseURL())

			rec, err := client.Agent(ctx)
			if err != nil {
				return fmt.Errorf("agent status: %w", err)
			}
			printAgent(rec)

			awaiting, err := client.ListTasks(ctx, tasks.ListFilter{
				Statuses: []tasks.Status{tasks.StatusNeedsReview, tasks.StatusWaiting},
			})
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			queued, err := client.ListTasks(ctx, tasks.ListFilter{
				Statuses: []tasks.Status{tasks.StatusNew, tasks.StatusUserInputReceived},
			})
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			fmt.Printf("Queue:   %d ready, %d awaiting a human\n", len(queued), len(awaiting))
			for _, t := range awaiting {
				fmt.Printf("  %s  %s  %s\n", t.ID, colorStatus(t.Status), t.Title)
			}
			return nil
		},
	}
}

func printAgent(rec scheduler.Record) {
	switch rec.Status {
	case scheduler.StatusProcessing:
		fmt.Printf("Worker:  %s task %s (owner %s, last activity %s ago)\n",
			color.YellowString("PROCESSING"), rec.TaskID, rec.Owner,
			time.Since(rec.LastActivity).Truncate(time.Second))
	default:
		fmt.Printf("Worker:  %s\n", color.GreenString(string(rec.Status)))
	}
	fmt.Printf("Totals:  %d processed, %d errors\n", rec.Processed, rec.Errors)
}
