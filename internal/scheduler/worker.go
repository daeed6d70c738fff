// Package scheduler runs the single autonomous worker: it claims one task at
// a time through the liveness record, drives the action graph for it and
// applies the resulting status transition.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/graph"
	"github.com/dohr-michael/steward/internal/tasks"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultStaleAfter   = 30 * time.Minute

	promptComments = 5
)

// Config holds worker tuning.
type Config struct {
	PollInterval time.Duration
	Owner        string
}

// DefaultOwner builds a worker identity unique to this process.
func DefaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "steward"
	}
	return host + "-" + uuid.NewString()[:8]
}

// Worker is the autonomous task loop.
type Worker struct {
	store   tasks.Store
	live    *Liveness
	runtime graph.Runtime
	bus     *events.Bus
	poll    time.Duration
	wake    chan struct{}
}

// NewWorker wires a worker. bus may be nil.
func NewWorker(store tasks.Store, live *Liveness, runtime graph.Runtime, bus *events.Bus, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Worker{
		store:   store,
		live:    live,
		runtime: runtime,
		bus:     bus,
		poll:    cfg.PollInterval,
		wake:    make(chan struct{}, 1),
	}
}

// Liveness exposes the claim record for health queries.
func (w *Worker) Liveness() *Liveness { return w.live }

// Status returns the current liveness record.
func (w *Worker) Status(ctx context.Context) (Record, error) { return w.live.Get(ctx) }

// Wake nudges the loop to poll now instead of waiting for the next tick.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Recover requeues tasks a dead worker left IN_PROGRESS. A task held by a
// live claim of another instance is left to that instance.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	rec, err := w.live.Get(ctx)
	if err != nil {
		return 0, err
	}
	var live string
	if rec.Status == StatusProcessing && !w.live.Stale(rec) {
		live = rec.TaskID
	}
	n, err := tasks.RecoverTasks(ctx, w.store, live)
	if err != nil {
		return 0, fmt.Errorf("recover tasks: %w", err)
	}
	if n > 0 {
		slog.Info("recovered abandoned tasks", "count", n)
	}
	return n, nil
}

// IsBusy reports whether a live claim exists. A stale claim is reset to IDLE
// and the task it held is requeued.
func (w *Worker) IsBusy(ctx context.Context) (bool, error) {
	rec, err := w.live.Get(ctx)
	if err != nil {
		return false, err
	}
	if rec.Status != StatusProcessing {
		return false, nil
	}
	if !w.live.Stale(rec) {
		return true, nil
	}

	taskID, reset, err := w.live.ResetStale(ctx)
	if err != nil {
		return false, err
	}
	if !reset {
		// Someone refreshed or released it in between.
		return w.IsBusy(ctx)
	}
	slog.Warn("stale claim reset", "task_id", taskID, "owner", rec.Owner, "last_activity", rec.LastActivity)
	if taskID != "" {
		w.requeueAbandoned(ctx, taskID)
	}
	w.publishStatus(ctx)
	return false, nil
}

func (w *Worker) requeueAbandoned(ctx context.Context, taskID string) {
	t, err := w.store.Get(ctx, taskID)
	if err != nil {
		slog.Warn("load abandoned task", "task_id", taskID, "error", err)
		return
	}
	if t.Status != tasks.StatusInProgress {
		return
	}
	if err := tasks.Requeue(ctx, w.store, taskID, "Worker stopped responding; task requeued"); err != nil {
		slog.Warn("requeue abandoned task", "task_id", taskID, "error", err)
		return
	}
	w.publish(taskID, events.TaskRequeuedPayload{From: string(tasks.StatusInProgress), Reason: "stale claim"})
}

// NextTask returns the oldest-updated USER_INPUT_RECEIVED task, else the
// oldest-updated NEW task, else nil. Answered tasks never wait behind new work.
func (w *Worker) NextTask(ctx context.Context) (*tasks.Task, error) {
	for _, st := range []tasks.Status{tasks.StatusUserInputReceived, tasks.StatusNew} {
		t, err := w.store.NextByStatus(ctx, st)
		if err != nil {
			return nil, err
		}
		if t != nil {
			return t, nil
		}
	}
	return nil, nil
}

// Claim takes the liveness record for a task.
func (w *Worker) Claim(ctx context.Context, taskID string) error {
	if err := w.live.Claim(ctx, taskID); err != nil {
		return err
	}
	w.publishStatus(ctx)
	return nil
}

// Release frees the claim held by this worker.
func (w *Worker) Release(ctx context.Context) error {
	if err := w.live.Release(ctx); err != nil {
		return err
	}
	w.publishStatus(ctx)
	return nil
}

// Process drives the graph for a claimed task and applies the outcome.
// A graph error marks the task FAILED and is returned.
func (w *Worker) Process(ctx context.Context, t *tasks.Task) error {
	return w.process(ctx, t, false)
}

func (w *Worker) process(ctx context.Context, t *tasks.Task, forced bool) error {
	// In-flight work drains on shutdown.
	ctx = context.WithoutCancel(ctx)
	begin := time.Now()
	resumed := t.Status == tasks.StatusUserInputReceived

	if !forced {
		started, err := w.store.Transition(ctx, t.ID, tasks.StatusInProgress)
		if err != nil {
			return fmt.Errorf("start task %s: %w", t.ID, err)
		}
		t = started
	}
	slog.Info("processing task", "task_id", t.ID, "title", t.Title, "forced", forced, "resumed", resumed)
	w.publish(t.ID, events.TaskStartedPayload{Title: t.Title, Owner: w.live.Owner(), Forced: forced, Resume: resumed})

	runCtx := events.ContextWithTaskID(ctx, t.ID)
	runCtx = graph.WithActivity(runCtx, w.touch)

	out, err := w.drive(runCtx, t)
	switch {
	case err != nil:
		w.fail(ctx, t, err, time.Since(begin))
		return err
	case out.Suspended():
		return w.escalate(ctx, t, out.Interrupt)
	default:
		return w.complete(ctx, t, out.Content, time.Since(begin))
	}
}

func (w *Worker) drive(ctx context.Context, t *tasks.Task) (*graph.Output, error) {
	thread := tasks.ThreadID(t.ID)

	susp, err := w.runtime.SuspendedState(ctx, thread)
	if err != nil {
		return nil, err
	}
	if susp != nil {
		if susp.Response != nil {
			return w.runtime.Resume(ctx, thread, *susp.Response)
		}
		// Restarted while still waiting on a human: ask again.
		return &graph.Output{Interrupt: &susp.Request}, nil
	}

	prompt, err := w.prompt(ctx, t)
	if err != nil {
		return nil, err
	}
	return w.runtime.Invoke(ctx, thread, prompt)
}

func (w *Worker) prompt(ctx context.Context, t *tasks.Task) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task ID: %s\nTitle: %s\n", t.ID, t.Title)
	if t.Description != "" {
		fmt.Fprintf(&sb, "Description:\n%s\n", t.Description)
	}

	comments, err := w.store.Comments(ctx, t.ID)
	if err != nil {
		return "", err
	}
	var human []tasks.Comment
	for _, c := range comments {
		if c.Author == tasks.AuthorUser {
			human = append(human, c)
		}
	}
	if len(human) > promptComments {
		human = human[len(human)-promptComments:]
	}
	if len(human) > 0 {
		sb.WriteString("\nRecent comments from the user:\n")
		for _, c := range human {
			fmt.Fprintf(&sb, "- [%s] %s\n", c.CreatedAt.Format(time.RFC3339), c.Text)
		}
	}
	return sb.String(), nil
}

func (w *Worker) complete(ctx context.Context, t *tasks.Task, outcome string, took time.Duration) error {
	if strings.TrimSpace(outcome) == "" {
		outcome = "Task completed."
	}
	if _, err := w.store.AddComment(ctx, t.ID, tasks.AuthorAgent, outcome); err != nil {
		slog.Warn("outcome comment", "task_id", t.ID, "error", err)
	}
	if _, err := w.store.Transition(ctx, t.ID, tasks.StatusDone); err != nil {
		return fmt.Errorf("complete task %s: %w", t.ID, err)
	}
	slog.Info("task done", "task_id", t.ID, "duration", took)
	w.publish(t.ID, events.TaskCompletedPayload{Outcome: outcome, Duration: took})
	return nil
}

// escalate parks the task: approvals go to NEEDS_REVIEW, questions to WAITING.
func (w *Worker) escalate(ctx context.Context, t *tasks.Task, req *approval.Request) error {
	to := tasks.StatusNeedsReview
	if req.Kind == approval.KindQuestion {
		to = tasks.StatusWaiting
	}

	text := req.Question
	if req.Justification != "" {
		text += "\nJustification: " + req.Justification
	}
	if req.Instructions != "" {
		text += "\n" + req.Instructions
	}
	if _, err := w.store.AddComment(ctx, t.ID, tasks.AuthorAgent, text); err != nil {
		slog.Warn("question comment", "task_id", t.ID, "error", err)
	}
	if _, err := w.store.Transition(ctx, t.ID, to); err != nil {
		return fmt.Errorf("escalate task %s: %w", t.ID, err)
	}

	slog.Info("task escalated", "task_id", t.ID, "status", to, "capability", req.Capability)
	if req.Kind == approval.KindQuestion {
		w.publish(t.ID, events.TaskWaitingPayload{Question: req.Question})
		return nil
	}
	w.publish(t.ID, events.TaskNeedsReviewPayload{Question: req.Question, Action: req.Capability})
	w.publish(t.ID, events.ApprovalRequestedPayload{
		Action:        req.Capability,
		Args:          req.Args,
		Description:   req.Question,
		Justification: req.Justification,
	})
	return nil
}

func (w *Worker) fail(ctx context.Context, t *tasks.Task, cause error, took time.Duration) {
	slog.Error("task failed", "task_id", t.ID, "error", cause)

	if _, err := w.store.Transition(ctx, t.ID, tasks.StatusFailed); err != nil {
		slog.Error("mark task failed", "task_id", t.ID, "error", err)
	}
	if _, err := w.store.AddComment(ctx, t.ID, tasks.AuthorSystem, "Processing failed: "+cause.Error()); err != nil {
		slog.Warn("failure comment", "task_id", t.ID, "error", err)
	}
	if err := w.live.IncrementErrors(ctx); err != nil {
		slog.Warn("count error", "error", err)
	}
	w.publish(t.ID, events.TaskFailedPayload{Error: cause.Error(), Duration: took})
}

// ForceProcess claims and processes a specific task out of queue order,
// restarting it whatever its status. The processing error is returned.
func (w *Worker) ForceProcess(ctx context.Context, id string) error {
	if err := tasks.ValidateID(id); err != nil {
		return err
	}
	if _, err := w.store.Get(ctx, id); err != nil {
		return err
	}

	busy, err := w.IsBusy(ctx)
	if err != nil {
		return err
	}
	if busy {
		return ErrBusy
	}
	if err := w.Claim(ctx, id); err != nil {
		return err
	}
	defer w.releaseQuietly(context.WithoutCancel(ctx))

	t, err := w.store.Restart(ctx, id)
	if err != nil {
		return err
	}
	if _, err := w.store.AddComment(ctx, id, tasks.AuthorSystem, "Processing forced by operator"); err != nil {
		slog.Warn("force comment", "task_id", id, "error", err)
	}
	return w.process(ctx, t, true)
}

// Run polls until ctx is cancelled. A failing task never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker started", "owner", w.live.Owner(), "poll", w.poll, "stale_after", w.live.StaleAfter())
	defer w.shutdown()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-w.wake:
		}

		for ctx.Err() == nil {
			worked, err := w.Step(ctx)
			if err != nil {
				slog.Error("worker step", "error", err)
			}
			if !worked {
				break
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(w.poll)
	}
}

// Step runs one iteration: pick, claim, process, release. It reports whether
// a task was processed.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	busy, err := w.IsBusy(ctx)
	if err != nil || busy {
		return false, err
	}
	t, err := w.NextTask(ctx)
	if err != nil || t == nil {
		return false, err
	}
	if err := w.Claim(ctx, t.ID); err != nil {
		if errors.Is(err, ErrBusy) {
			return false, nil
		}
		return false, err
	}
	defer w.releaseQuietly(context.WithoutCancel(ctx))

	if err := w.Process(ctx, t); err != nil {
		slog.Debug("process returned error", "task_id", t.ID, "error", err)
	}
	return true, nil
}

func (w *Worker) releaseQuietly(ctx context.Context) {
	if err := w.Release(ctx); err != nil {
		slog.Warn("release claim", "error", err)
	}
}

func (w *Worker) shutdown() {
	reset, err := w.live.Reset(context.Background())
	if err != nil {
		slog.Warn("reset liveness on shutdown", "error", err)
	}
	if reset {
		w.publishStatus(context.Background())
	}
	slog.Info("worker stopped")
}

func (w *Worker) touch(ctx context.Context) {
	if err := w.live.Touch(ctx); err != nil {
		slog.Debug("touch liveness", "error", err)
	}
}

func (w *Worker) publish(taskID string, p events.EventPayload) {
	if w.bus != nil {
		w.bus.Publish(events.NewTaskEvent(events.SourceWorker, taskID, p))
	}
}

func (w *Worker) publishStatus(ctx context.Context) {
	if w.bus == nil {
		return
	}
	rec, err := w.live.Get(ctx)
	if err != nil {
		return
	}
	w.bus.Publish(events.NewTypedEvent(events.SourceWorker, events.AgentStatusPayload{
		Status:    string(rec.Status),
		TaskID:    rec.TaskID,
		Processed: rec.Processed,
		Errors:    rec.Errors,
	}))
}
