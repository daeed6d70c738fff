package tasks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/graph"
)

type fakeThreads struct {
	suspended map[string]*graph.Suspension
}

func (f *fakeThreads) SuspendedState(_ context.Context, threadID string) (*graph.Suspension, error) {
	return f.suspended[threadID], nil
}

func (f *fakeThreads) Respond(_ context.Context, threadID string, resp approval.Response) error {
	s, ok := f.suspended[threadID]
	if !ok {
		return graph.ErrNotSuspended
	}
	s.Response = &resp
	return nil
}

func newTestService(t *testing.T) (*Service, *SQLStore, *fakeThreads, *int) {
	t.Helper()
	store := newTestStore(t)
	threads := &fakeThreads{suspended: map[string]*graph.Suspension{}}
	svc := NewService(store, threads, nil)
	wakes := 0
	svc.SetWaker(func() { wakes++ })
	return svc, store, threads, &wakes
}

func TestServiceCreateWakes(t *testing.T) {
	svc, _, _, wakes := newTestService(t)

	task, err := svc.Create(context.Background(), NewTask{Title: " Ask user for a preference "})
	require.NoError(t, err)
	assert.Equal(t, "Ask user for a preference", task.Title)
	assert.Equal(t, StatusNew, task.Status)
	assert.Equal(t, 1, *wakes)

	_, err = svc.Create(context.Background(), NewTask{})
	assert.ErrorIs(t, err, ErrEmptyTitle)
}

func TestServiceRespondRearmsTask(t *testing.T) {
	svc, store, threads, wakes := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{Title: "t"})
	require.NoError(t, err)
	_, err = store.Transition(ctx, task.ID, StatusInProgress)
	require.NoError(t, err)
	_, err = store.Transition(ctx, task.ID, StatusNeedsReview)
	require.NoError(t, err)
	threads.suspended[ThreadID(task.ID)] = &graph.Suspension{Request: approval.Request{Capability: "update_task"}}

	got, err := svc.Respond(ctx, task.ID, approval.Response{Type: "Accept"})
	require.NoError(t, err)
	assert.Equal(t, StatusUserInputReceived, got.Status)
	assert.Equal(t, 2, *wakes)

	resp := threads.suspended[ThreadID(task.ID)].Response
	require.NotNil(t, resp)
	assert.Equal(t, approval.ResponseAccept, resp.Type)

	full, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, full.Comments, 1)
	assert.Equal(t, AuthorUser, full.Comments[0].Author)
	assert.Equal(t, "Approved.", full.Comments[0].Text)
}

func TestServiceRespondRejectsWrongStatus(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{Title: "t"})
	require.NoError(t, err)

	_, err = svc.Respond(ctx, task.ID, approval.Response{Type: approval.ResponseAccept})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Respond(ctx, task.ID, approval.Response{})
	assert.ErrorIs(t, err, approval.ErrEmptyResponse)

	_, err = svc.Respond(ctx, "bad", approval.Response{Type: approval.ResponseAccept})
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestServiceAnswerWaitingTask(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{Title: "t"})
	require.NoError(t, err)
	_, err = store.Transition(ctx, task.ID, StatusWaiting)
	require.NoError(t, err)

	got, err := svc.Respond(ctx, task.ID, approval.Response{Type: approval.ResponseAnswer, Text: "coffee"})
	require.NoError(t, err)
	assert.Equal(t, StatusUserInputReceived, got.Status)

	full, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "coffee", full.Comments[0].Text)
}

func TestServiceRetry(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{Title: "t"})
	require.NoError(t, err)

	_, err = svc.Retry(ctx, task.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = store.Transition(ctx, task.ID, StatusInProgress)
	require.NoError(t, err)
	_, err = store.Transition(ctx, task.ID, StatusFailed)
	require.NoError(t, err)

	got, err := svc.Retry(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNew, got.Status)
}

func TestServicePendingApproval(t *testing.T) {
	svc, _, threads, _ := newTestService(t)
	ctx := context.Background()

	task, err := svc.Create(ctx, NewTask{Title: "t"})
	require.NoError(t, err)

	_, err = svc.PendingApproval(ctx, task.ID)
	assert.ErrorIs(t, err, graph.ErrNotSuspended)

	threads.suspended[ThreadID(task.ID)] = &graph.Suspension{Request: approval.Request{Capability: "update_task"}}
	s, err := svc.PendingApproval(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "update_task", s.Request.Capability)
}
