package tasks

import (
	"context"
	"time"
)

// ListFilter defines criteria for filtering task lists.
type ListFilter struct {
	Statuses []Status `json:"statuses,omitempty"`
	Tag      string   `json:"tag,omitempty"`
	Limit    int      `json:"limit,omitempty"`
}

// Update carries the non-status fields a task may change. Nil fields are left untouched.
type Update struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	Links       []Link     `json:"links,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// Store defines the persistence interface for tasks. Every write is atomic at
// the storage layer.
type Store interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, filter ListFilter) ([]*Task, error)
	Update(ctx context.Context, id string, u Update) (*Task, error)

	// NextByStatus returns the oldest-updated task in status, or nil.
	NextByStatus(ctx context.Context, status Status) (*Task, error)
	// Transition validates and applies a status change; completed_at follows DONE.
	Transition(ctx context.Context, id string, to Status) (*Task, error)
	// Restart moves a task to IN_PROGRESS from any status, clearing completed_at.
	Restart(ctx context.Context, id string) (*Task, error)

	AddComment(ctx context.Context, taskID string, author Author, text string) (Comment, error)
	Comments(ctx context.Context, taskID string) ([]Comment, error)
}
