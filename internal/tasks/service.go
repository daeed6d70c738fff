package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/graph"
)

// Threads is the slice of the graph runtime the human-response surface uses.
type Threads interface {
	SuspendedState(ctx context.Context, threadID string) (*graph.Suspension, error)
	Respond(ctx context.Context, threadID string, resp approval.Response) error
}

// NewTask carries what a producer supplies when creating a task.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Tags        []string   `json:"tags,omitempty"`
	Links       []Link     `json:"links,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// Service is the producer and human-response surface over the task store.
type Service struct {
	store   Store
	threads Threads
	bus     *events.Bus
	wake    func()
}

// NewService creates a task service. bus may be nil.
func NewService(store Store, threads Threads, bus *events.Bus) *Service {
	return &Service{store: store, threads: threads, bus: bus, wake: func() {}}
}

// SetWaker registers the function that nudges the worker when work arrives.
func (s *Service) SetWaker(fn func()) {
	if fn != nil {
		s.wake = fn
	}
}

// SetThreads binds the graph runtime once it exists. The runtime's tools need
// the service, so it cannot be passed to NewService.
func (s *Service) SetThreads(threads Threads) {
	s.threads = threads
}

// Store exposes the underlying task store for read paths.
func (s *Service) Store() Store { return s.store }

// Create inserts a NEW task and wakes the worker.
func (s *Service) Create(ctx context.Context, in NewTask) (*Task, error) {
	t := &Task{
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Tags:        in.Tags,
		Links:       in.Links,
		DueAt:       in.DueAt,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	slog.Info("task created", "task_id", t.ID, "title", t.Title)
	s.publish(t.ID, events.TaskCreatedPayload{Title: t.Title, Status: string(t.Status)})
	s.wake()
	return t, nil
}

// Respond records a human reply to an escalated or waiting task and re-arms
// it: NEEDS_REVIEW/WAITING -> USER_INPUT_RECEIVED. The worker then resumes the
// suspended thread ahead of fresh work.
func (s *Service) Respond(ctx context.Context, id string, resp approval.Response) (*Task, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	resp, err := resp.Normalize()
	if err != nil {
		return nil, err
	}

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusNeedsReview && t.Status != StatusWaiting {
		return nil, fmt.Errorf("%w: task is %s, not awaiting input", ErrInvalidTransition, t.Status)
	}

	susp, err := s.threads.SuspendedState(ctx, ThreadID(id))
	if err != nil {
		return nil, fmt.Errorf("load suspended state: %w", err)
	}
	if susp != nil {
		if err := s.threads.Respond(ctx, ThreadID(id), resp); err != nil {
			return nil, fmt.Errorf("record response: %w", err)
		}
	}

	if _, err := s.store.AddComment(ctx, id, AuthorUser, describeResponse(resp)); err != nil {
		slog.Warn("response comment", "task_id", id, "error", err)
	}
	t, err = s.store.Transition(ctx, id, StatusUserInputReceived)
	if err != nil {
		return nil, err
	}

	s.publish(id, events.TaskInputReceivedPayload{ResponseType: string(resp.Type), Text: resp.Text})
	s.wake()
	return t, nil
}

// Retry puts a FAILED or WAITING task back in the queue.
func (s *Service) Retry(ctx context.Context, id string) (*Task, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := t.Status
	if from != StatusFailed && from != StatusWaiting {
		return nil, fmt.Errorf("%w: cannot retry a %s task", ErrInvalidTransition, from)
	}
	t, err = s.store.Transition(ctx, id, StatusNew)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.AddComment(ctx, id, AuthorSystem, "Requeued by operator"); err != nil {
		slog.Warn("retry comment", "task_id", id, "error", err)
	}
	s.publish(id, events.TaskRequeuedPayload{From: string(from), Reason: "retry"})
	s.wake()
	return t, nil
}

// PendingApproval returns the interrupt a task is parked on.
func (s *Service) PendingApproval(ctx context.Context, id string) (*graph.Suspension, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	susp, err := s.threads.SuspendedState(ctx, ThreadID(id))
	if err != nil {
		return nil, err
	}
	if susp == nil {
		return nil, graph.ErrNotSuspended
	}
	return susp, nil
}

func (s *Service) publish(taskID string, p events.EventPayload) {
	if s.bus != nil {
		s.bus.Publish(events.NewTaskEvent(events.SourceGateway, taskID, p))
	}
}

func describeResponse(r approval.Response) string {
	switch r.Type {
	case approval.ResponseAccept:
		return "Approved."
	case approval.ResponseAlwaysAllow:
		return "Approved, and always allow similar calls."
	case approval.ResponseEdit:
		return fmt.Sprintf("Approved with changes: %v", r.Args)
	case approval.ResponseAnswer:
		return r.Text
	default:
		if t := strings.TrimSpace(r.Text); t != "" {
			return "Declined: " + t
		}
		return "Declined."
	}
}
