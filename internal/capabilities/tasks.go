package capabilities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/tasks"
)

// ErrOwnTask is returned when the agent tries to move the status of the task
// it is working on; the worker owns that transition.
var ErrOwnTask = errors.New("the status of the task being processed is set by the worker")

var listTasksSpec = Spec{
	Name:        "list_tasks",
	Description: "List tasks, most recently updated first. Optionally filter by status or tag.",
	Sensitive:   true,
	Parameters: map[string]ParamSpec{
		"status": {Type: "string", Description: "Only tasks in this status", Enum: statusNames()},
		"tag":    {Type: "string", Description: "Only tasks carrying this tag"},
		"limit":  {Type: "integer", Description: "Maximum number of tasks to return (default 20)"},
	},
}

var getTaskSpec = Spec{
	Name:        "get_task",
	Description: "Get a task with its description, status and comment trail.",
	Sensitive:   true,
	Parameters: map[string]ParamSpec{
		"id": {Type: "string", Description: "Task ID", Required: true},
	},
}

var createTaskSpec = Spec{
	Name:        "create_task",
	Description: "Create a new task. It is queued as NEW and processed later.",
	Sensitive:   true,
	Parameters: map[string]ParamSpec{
		"title":       {Type: "string", Description: "Short title", Required: true},
		"description": {Type: "string", Description: "What needs to be done"},
		"tags":        {Type: "array", Description: "Tags for grouping"},
		"due_at":      {Type: "string", Description: "Optional due date, RFC 3339"},
	},
}

var updateTaskSpec = Spec{
	Name:        "update_task",
	Description: "Update another task's title, description, tags or status. The task being processed cannot change its own status.",
	Sensitive:   true,
	Parameters: map[string]ParamSpec{
		"id":          {Type: "string", Description: "Task ID", Required: true},
		"title":       {Type: "string", Description: "New title"},
		"description": {Type: "string", Description: "New description"},
		"tags":        {Type: "array", Description: "Replacement tags"},
		"status":      {Type: "string", Description: "New status", Enum: statusNames()},
	},
}

var addCommentSpec = Spec{
	Name:        "add_comment",
	Description: "Add a comment to a task's trail.",
	Sensitive:   true,
	Parameters: map[string]ParamSpec{
		"task_id": {Type: "string", Description: "Task ID", Required: true},
		"text":    {Type: "string", Description: "Comment text", Required: true},
	},
}

func statusNames() []string {
	names := make([]string, 0, len(tasks.AllStatuses))
	for _, s := range tasks.AllStatuses {
		names = append(names, string(s))
	}
	return names
}

type taskCapabilities struct {
	svc   *tasks.Service
	store tasks.Store
}

type taskSummary struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Status    tasks.Status `json:"status"`
	Tags      []string     `json:"tags,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (c *taskCapabilities) list(ctx context.Context, args string) (string, error) {
	in, err := decode[struct {
		Status string `json:"status"`
		Tag    string `json:"tag"`
		Limit  int    `json:"limit"`
	}](listTasksSpec.Name, args)
	if err != nil {
		return "", err
	}

	filter := tasks.ListFilter{Tag: in.Tag, Limit: in.Limit}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if in.Status != "" {
		st, err := tasks.ParseStatus(in.Status)
		if err != nil {
			return "", fmt.Errorf("list_tasks: %w", err)
		}
		filter.Statuses = []tasks.Status{st}
	}

	list, err := c.store.List(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("list_tasks: %w", err)
	}
	out := make([]taskSummary, 0, len(list))
	for _, t := range list {
		out = append(out, taskSummary{ID: t.ID, Title: t.Title, Status: t.Status, Tags: t.Tags, UpdatedAt: t.UpdatedAt})
	}
	return encode(out)
}

func (c *taskCapabilities) get(ctx context.Context, args string) (string, error) {
	in, err := decode[struct {
		ID string `json:"id"`
	}](getTaskSpec.Name, args)
	if err != nil {
		return "", err
	}
	t, err := c.store.Get(ctx, strings.TrimSpace(in.ID))
	if err != nil {
		return "", fmt.Errorf("get_task: %w", err)
	}
	return encode(t)
}

func (c *taskCapabilities) create(ctx context.Context, args string) (string, error) {
	in, err := decode[struct {
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Tags        []string `json:"tags"`
		DueAt       string   `json:"due_at"`
	}](createTaskSpec.Name, args)
	if err != nil {
		return "", err
	}

	nt := tasks.NewTask{Title: in.Title, Description: in.Description, Tags: in.Tags}
	if in.DueAt != "" {
		due, err := time.Parse(time.RFC3339, in.DueAt)
		if err != nil {
			return "", fmt.Errorf("create_task: due_at: %w", err)
		}
		nt.DueAt = &due
	}

	t, err := c.svc.Create(ctx, nt)
	if err != nil {
		return "", fmt.Errorf("create_task: %w", err)
	}
	return encode(map[string]string{"id": t.ID, "status": string(t.Status)})
}

func (c *taskCapabilities) update(ctx context.Context, args string) (string, error) {
	in, err := decode[struct {
		ID          string   `json:"id"`
		Title       *string  `json:"title"`
		Description *string  `json:"description"`
		Tags        []string `json:"tags"`
		Status      string   `json:"status"`
	}](updateTaskSpec.Name, args)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(in.ID)

	if in.Status != "" && id == events.TaskIDFromContext(ctx) {
		return "", fmt.Errorf("update_task: %w", ErrOwnTask)
	}

	t, err := c.store.Update(ctx, id, tasks.Update{Title: in.Title, Description: in.Description, Tags: in.Tags})
	if err != nil {
		return "", fmt.Errorf("update_task: %w", err)
	}
	if in.Status != "" {
		st, err := tasks.ParseStatus(in.Status)
		if err != nil {
			return "", fmt.Errorf("update_task: %w", err)
		}
		if st != t.Status {
			if t, err = c.store.Transition(ctx, id, st); err != nil {
				return "", fmt.Errorf("update_task: %w", err)
			}
		}
	}
	return encode(taskSummary{ID: t.ID, Title: t.Title, Status: t.Status, Tags: t.Tags, UpdatedAt: t.UpdatedAt})
}

func (c *taskCapabilities) comment(ctx context.Context, args string) (string, error) {
	in, err := decode[struct {
		TaskID string `json:"task_id"`
		Text   string `json:"text"`
	}](addCommentSpec.Name, args)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(in.Text) == "" {
		return "", fmt.Errorf("add_comment: text is required")
	}
	cm, err := c.store.AddComment(ctx, strings.TrimSpace(in.TaskID), tasks.AuthorAgent, in.Text)
	if err != nil {
		return "", fmt.Errorf("add_comment: %w", err)
	}
	return encode(map[string]any{"id": cm.ID, "task_id": cm.TaskID})
}
