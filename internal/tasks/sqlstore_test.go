package tasks

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dohr-michael/steward/internal/storage/sqlite"
)

// newTestStore returns a store whose clock advances one second per call so
// update ordering is deterministic.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewSQLStore(db)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func mustCreate(t *testing.T, s Store, title string) *Task {
	t.Helper()
	task := &Task{Title: title, Tags: []string{"test"}}
	require.NoError(t, s.Create(context.Background(), task))
	return task
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	task := &Task{
		Title:       "Ask user for a preference",
		Description: "tea or coffee",
		Tags:        []string{"home"},
		Links:       []Link{{Kind: "person", Ref: "p-1", Name: "Sam"}},
		DueAt:       &due,
	}
	require.NoError(t, s.Create(ctx, task))
	require.NoError(t, ValidateID(task.ID))
	assert.Equal(t, StatusNew, task.Status)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, []string{"home"}, got.Tags)
	assert.Equal(t, task.Links, got.Links)
	require.NotNil(t, got.DueAt)
	assert.True(t, due.Equal(*got.DueAt))
	assert.Nil(t, got.CompletedAt)
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.Create(context.Background(), &Task{Title: "  "}), ErrEmptyTitle)
	assert.ErrorIs(t, s.Create(context.Background(), &Task{ID: "nope", Title: "x"}), ErrInvalidID)
}

func TestGetErrors(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "not-an-id")
	assert.ErrorIs(t, err, ErrInvalidID)
	_, err = s.Get(context.Background(), NewID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransitionTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreate(t, s, "t")

	_, err := s.Transition(ctx, task.ID, StatusDone)
	assert.ErrorIs(t, err, ErrInvalidTransition, "NEW cannot jump to DONE")

	steps := []Status{StatusInProgress, StatusNeedsReview, StatusUserInputReceived, StatusInProgress, StatusDone}
	for _, st := range steps {
		_, err := s.Transition(ctx, task.ID, st)
		require.NoError(t, err, "to %s", st)
	}

	_, err = s.Transition(ctx, task.ID, StatusNew)
	assert.ErrorIs(t, err, ErrInvalidTransition, "DONE is terminal")
	_, err = s.Transition(ctx, task.ID, Status("BOGUS"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompletionInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreate(t, s, "t")

	check := func() {
		got, err := s.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, got.Status == StatusDone, got.CompletedAt != nil, "status %s", got.Status)
	}

	check()
	for _, st := range []Status{StatusInProgress, StatusFailed, StatusNew, StatusInProgress, StatusDone} {
		_, err := s.Transition(ctx, task.ID, st)
		require.NoError(t, err)
		check()
	}

	_, err := s.Restart(ctx, task.ID)
	require.NoError(t, err)
	check()
}

func TestNextByStatusOldestUpdatedFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := mustCreate(t, s, "first")
	second := mustCreate(t, s, "second")

	next, err := s.NextByStatus(ctx, StatusNew)
	require.NoError(t, err)
	assert.Equal(t, first.ID, next.ID)

	// Touching first makes second the oldest-updated.
	_, err = s.Transition(ctx, first.ID, StatusWaiting)
	require.NoError(t, err)
	_, err = s.Transition(ctx, first.ID, StatusNew)
	require.NoError(t, err)

	next, err = s.NextByStatus(ctx, StatusNew)
	require.NoError(t, err)
	assert.Equal(t, second.ID, next.ID)

	none, err := s.NextByStatus(ctx, StatusUserInputReceived)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestListFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "a")
	require.NoError(t, s.Create(ctx, &Task{Title: "b", Tags: []string{"work"}}))
	_, err := s.Transition(ctx, a.ID, StatusInProgress)
	require.NoError(t, err)

	all, err := s.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID, "most recently updated first")

	running, err := s.List(ctx, ListFilter{Statuses: []Status{StatusInProgress}})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, a.ID, running[0].ID)

	work, err := s.List(ctx, ListFilter{Tag: "work"})
	require.NoError(t, err)
	require.Len(t, work, 1)
	assert.Equal(t, "b", work[0].Title)

	limited, err := s.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreate(t, s, "old")

	title := "new"
	got, err := s.Update(ctx, task.ID, Update{Title: &title, Tags: []string{"x", "y"}})
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)
	assert.Equal(t, []string{"x", "y"}, got.Tags)
	assert.Equal(t, StatusNew, got.Status)

	empty := " "
	_, err = s.Update(ctx, task.ID, Update{Title: &empty})
	assert.ErrorIs(t, err, ErrEmptyTitle)
	_, err = s.Update(ctx, NewID(), Update{Title: &title})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestComments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := mustCreate(t, s, "t")

	_, err := s.AddComment(ctx, task.ID, AuthorAgent, "working on it")
	require.NoError(t, err)
	_, err = s.AddComment(ctx, task.ID, AuthorUser, "thanks")
	require.NoError(t, err)

	got, err := s.Get(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, got.Comments, 2)
	assert.Equal(t, AuthorAgent, got.Comments[0].Author)
	assert.Equal(t, "thanks", got.Comments[1].Text)

	_, err = s.AddComment(ctx, NewID(), AuthorUser, "lost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("needs_review")
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsReview, st)
	_, err = ParseStatus("sleeping")
	assert.Error(t, err)
}

func TestRecoverTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orphan := mustCreate(t, s, "orphan")
	live := mustCreate(t, s, "live")
	for _, id := range []string{orphan.ID, live.ID} {
		_, err := s.Transition(ctx, id, StatusInProgress)
		require.NoError(t, err)
	}

	n, err := RecoverTasks(ctx, s, live.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNew, got.Status)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, AuthorSystem, got.Comments[0].Author)

	got, err = s.Get(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Status)
}
