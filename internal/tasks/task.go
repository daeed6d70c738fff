// Package tasks provides the durable task queue worked by the autonomous agent.
package tasks

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidID         = errors.New("invalid task id")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrEmptyTitle        = errors.New("task title is required")
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusNew               Status = "NEW"
	StatusInProgress        Status = "IN_PROGRESS"
	StatusNeedsReview       Status = "NEEDS_REVIEW"
	StatusWaiting           Status = "WAITING"
	StatusUserInputReceived Status = "USER_INPUT_RECEIVED"
	StatusDone              Status = "DONE"
	StatusFailed            Status = "FAILED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusNew,
	StatusInProgress,
	StatusNeedsReview,
	StatusWaiting,
	StatusUserInputReceived,
	StatusDone,
	StatusFailed,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	for _, st := range AllStatuses {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// transitions is the only source of truth for legal status changes.
// IN_PROGRESS -> NEW is reserved for crash recovery.
var transitions = map[Status][]Status{
	StatusNew:               {StatusInProgress, StatusWaiting},
	StatusInProgress:        {StatusDone, StatusFailed, StatusNeedsReview, StatusWaiting, StatusNew},
	StatusNeedsReview:       {StatusUserInputReceived},
	StatusWaiting:           {StatusNew, StatusUserInputReceived},
	StatusUserInputReceived: {StatusInProgress},
	StatusFailed:            {StatusNew},
	StatusDone:              nil,
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Author tags who wrote a comment.
type Author string

const (
	AuthorAgent  Author = "agent"
	AuthorUser   Author = "user"
	AuthorSystem Author = "system"
)

// Link attaches a person or project to a task. Metadata only.
type Link struct {
	Kind string `json:"kind"` // "person" | "project"
	Ref  string `json:"ref"`
	Name string `json:"name,omitempty"`
}

// Comment is one entry of a task's comment trail.
type Comment struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"task_id"`
	Author    Author    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a unit of work for the autonomous agent.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Tags        []string   `json:"tags,omitempty"`
	Links       []Link     `json:"links,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Comments    []Comment  `json:"comments,omitempty"`
}

// NewID returns a fresh, time-ordered task id.
func NewID() string {
	return ulid.Make().String()
}

// ValidateID checks that id is a well-formed task id.
func ValidateID(id string) error {
	if _, err := ulid.ParseStrict(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ThreadID derives the action-graph thread for a task. A resume must address
// the same thread as the invocation it continues.
func ThreadID(taskID string) string {
	return "task-" + taskID
}
