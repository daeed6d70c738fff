package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/steward/clients/api"
	wsclient "github.com/dohr-michael/steward/clients/ws"
	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/events"
	wsprotocol "github.com/dohr-michael/steward/internal/gateway/ws"
	"github.com/dohr-michael/steward/internal/graph"
	"github.com/dohr-michael/steward/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Create, inspect and answer tasks",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Aliases: []string{"s"}, Usage: "filter by status (repeatable)"},
					&cli.StringFlag{Name: "tag", Usage: "filter by tag"},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "maximum number of tasks"},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details, comments and any pending approval",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "create",
				Usage:     "Create a task",
				ArgsUsage: "<title>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "description", Aliases: []string{"d"}, Usage: "task description"},
					&cli.StringSliceFlag{Name: "tag", Aliases: []string{"t"}, Usage: "tag (repeatable)"},
				},
				Action: runTasksCreate,
			},
			{
				Name:      "respond",
				Usage:     "Answer a task awaiting review or input",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type", Usage: "accept, edit, always_allow, deny or answer"},
					&cli.StringFlag{Name: "text", Usage: "answer or refusal reason"},
					&cli.StringFlag{Name: "args", Usage: "replacement arguments as JSON (edit only)"},
				},
				Action: runTasksRespond,
			},
			{
				Name:      "process",
				Usage:     "Process a task now and wait for it to settle",
				ArgsUsage: "<task_id>",
				Action:    runTasksProcess,
			},
			{
				Name:      "retry",
				Usage:     "Requeue a failed or waiting task",
				ArgsUsage: "<task_id>",
				Action:    runTasksRetry,
			},
			{
				Name:      "events",
				Usage:     "Show the event log of a task",
				ArgsUsage: "<task_id>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 50, Usage: "number of events"},
				},
				Action: runTasksEvents,
			},
			{
				Name:      "watch",
				Usage:     "Stream live events, optionally for one task",
				ArgsUsage: "[task_id]",
				Action:    runTasksWatch,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(ctx context.Context, cmd *cli.Command) error {
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	filter := tasks.ListFilter{Tag: cmd.String("tag"), Limit: cmd.Int("limit")}
	for _, raw := range cmd.StringSlice("status") {
		st, err := tasks.ParseStatus(raw)
		if err != nil {
			return err
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	list, err := client.ListTasks(ctx, filter)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tUPDATED\tTAGS\tTITLE")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			colorStatus(t.Status),
			t.UpdatedAt.Local().Format(timeFormat),
			strings.Join(t.Tags, ","),
			t.Title,
		)
	}
	return w.Flush()
}

func runTasksShow(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "tasks show <task_id>")
	if err != nil {
		return err
	}
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	t, err := client.GetTask(ctx, id)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Status:      %s\n", colorStatus(t.Status))
	fmt.Printf("Created:     %s\n", t.CreatedAt.Local().Format(timeFormat))
	fmt.Printf("Updated:     %s\n", t.UpdatedAt.Local().Format(timeFormat))
	if t.CompletedAt != nil {
		fmt.Printf("Completed:   %s\n", t.CompletedAt.Local().Format(timeFormat))
	}
	if t.DueAt != nil {
		fmt.Printf("Due:         %s\n", t.DueAt.Local().Format(timeFormat))
	}
	if len(t.Tags) > 0 {
		fmt.Printf("Tags:        %s\n", strings.Join(t.Tags, ", "))
	}
	for _, l := range t.Links {
		fmt.Printf("Link:        %s %s %s\n", l.Kind, l.Ref, l.Name)
	}

	if t.Description != "" {
		fmt.Printf("\nDescription:\n%s\n", t.Description)
	}

	if len(t.Comments) > 0 {
		fmt.Println("\nComments:")
		for _, c := range t.Comments {
			fmt.Printf("  [%s] %s: %s\n", c.CreatedAt.Local().Format(timeFormat), c.Author, c.Text)
		}
	}

	if t.Status == tasks.StatusNeedsReview || t.Status == tasks.StatusWaiting {
		susp, err := client.PendingApproval(ctx, id)
		var apiErr *api.Error
		switch {
		case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		case err != nil:
			return fmt.Errorf("pending approval: %w", err)
		default:
			printSuspension(susp)
		}
	}
	return nil
}

func printSuspension(s *graph.Suspension) {
	req := s.Request
	fmt.Printf("\n%s\n", color.MagentaString("Awaiting %s", req.Kind))
	if req.Capability != "" {
		fmt.Printf("  Capability:    %s\n", req.Capability)
	}
	if len(req.Args) > 0 {
		data, _ := json.Marshal(req.Args)
		fmt.Printf("  Arguments:     %s\n", data)
	}
	if req.Justification != "" {
		fmt.Printf("  Justification: %s\n", req.Justification)
	}
	fmt.Printf("  Question:      %s\n", req.Question)
	if req.Instructions != "" {
		fmt.Printf("  %s\n", req.Instructions)
	}
	if s.Response != nil {
		fmt.Printf("  Response:      %s %s\n", s.Response.Type, s.Response.Text)
	}
}

func runTasksCreate(ctx context.Context, cmd *cli.Command) error {
	title := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if title == "" {
		return fmt.Errorf("usage: steward tasks create <title>")
	}
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	t, err := client.CreateTask(ctx, tasks.NewTask{
		Title:       title,
		Description: cmd.String("description"),
		Tags:        cmd.StringSlice("tag"),
	})
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	fmt.Printf("Task %s created.\n", t.ID)
	return nil
}

func runTasksRespond(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "tasks respond <task_id> --type accept|edit|always_allow|deny|answer")
	if err != nil {
		return err
	}
	resp := approval.Response{
		Type: approval.ResponseType(cmd.String("type")),
		Text: cmd.String("text"),
	}
	if raw := cmd.String("args"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &resp.Args); err != nil {
			return fmt.Errorf("parse --args: %w", err)
		}
	}

	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	t, err := client.Respond(ctx, id, resp)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	fmt.Printf("Task %s is now %s.\n", t.ID, colorStatus(t.Status))
	return nil
}

func runTasksProcess(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "tasks process <task_id>")
	if err != nil {
		return err
	}
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	res, err := client.Process(ctx, id)
	if err != nil {
		return fmt.Errorf("process: %w", err)
	}
	fmt.Printf("Task %s is now %s.\n", res.Task.ID, colorStatus(res.Task.Status))
	if res.Error != "" {
		fmt.Printf("%s %s\n", color.RedString("Error:"), res.Error)
	}
	return nil
}

func runTasksRetry(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "tasks retry <task_id>")
	if err != nil {
		return err
	}
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	t, err := client.Retry(ctx, id)
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	fmt.Printf("Task %s requeued.\n", t.ID)
	return nil
}

func runTasksEvents(ctx context.Context, cmd *cli.Command) error {
	id, err := requireArg(cmd, "tasks events <task_id>")
	if err != nil {
		return err
	}
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}

	list, err := client.TaskEvents(ctx, id, cmd.Int("limit"))
	if err != nil {
		return fmt.Errorf("task events: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No events recorded.")
		return nil
	}
	for _, e := range list {
		printEvent(e)
	}
	return nil
}

func runTasksWatch(ctx context.Context, cmd *cli.Command) error {
	client, err := newAPIClient(cmd)
	if err != nil {
		return err
	}
	url := "ws" + strings.TrimPrefix(client.BaseURL(), "http") + "/api/ws"

	conn, err := wsclient.Dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()

	if id := cmd.Args().First(); id != "" {
		if _, err := conn.Subscribe(id); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		fmt.Printf("Watching task %s. Ctrl-C to stop.\n", id)
	} else {
		fmt.Println("Watching all events. Ctrl-C to stop.")
	}

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		switch frame.Type {
		case wsprotocol.FrameTypeEvent:
			var payload map[string]any
			_ = json.Unmarshal(frame.Payload, &payload)
			printEvent(events.Event{
				Type:    events.EventType(frame.Event),
				TaskID:  frame.TaskID,
				Payload: payload,
			})
		case wsprotocol.FrameTypeResponse:
			if frame.OK != nil && !*frame.OK {
				fmt.Fprintf(os.Stderr, "%s %s\n", color.RedString("error:"), frame.Error)
			}
		}
	}
}

func printEvent(e events.Event) {
	ts := e.Timestamp
	prefix := "        "
	if !ts.IsZero() {
		prefix = ts.Local().Format("15:04:05")
	}
	data, _ := json.Marshal(e.Payload)
	task := ""
	if e.TaskID != "" {
		task = " " + e.TaskID
	}
	fmt.Printf("%s %s%s %s\n", prefix, color.CyanString(string(e.Type)), task, data)
}
