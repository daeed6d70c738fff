package tasks

import (
	"context"
	"log/slog"
)

// RecoverTasks requeues tasks left IN_PROGRESS by a worker that died mid-task.
// liveTaskID names the task held by a still-live claim; it is left alone.
// Should be called on startup before the worker loop starts.
func RecoverTasks(ctx context.Context, store Store, liveTaskID string) (int, error) {
	running, err := store.List(ctx, ListFilter{Statuses: []Status{StatusInProgress}})
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, t := range running {
		if t.ID == liveTaskID {
			continue
		}
		if err := Requeue(ctx, store, t.ID, "Task recovered after worker restart"); err != nil {
			slog.Warn("recover task", "task_id", t.ID, "error", err)
			continue
		}
		recovered++
	}
	return recovered, nil
}

// Requeue moves an abandoned IN_PROGRESS task back to NEW with a system comment.
func Requeue(ctx context.Context, store Store, id, reason string) error {
	if _, err := store.Transition(ctx, id, StatusNew); err != nil {
		return err
	}
	if _, err := store.AddComment(ctx, id, AuthorSystem, reason); err != nil {
		slog.Warn("requeue comment", "task_id", id, "error", err)
	}
	return nil
}
