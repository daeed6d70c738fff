package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/gateway"
	"github.com/dohr-michael/steward/internal/graph"
	"github.com/dohr-michael/steward/internal/permissions"
	"github.com/dohr-michael/steward/internal/scheduler"
	"github.com/dohr-michael/steward/internal/storage/sqlite"
	"github.com/dohr-michael/steward/internal/tasks"
)

type noThreads struct{}

func (noThreads) SuspendedState(context.Context, string) (*graph.Suspension, error) { return nil, nil }
func (noThreads) Respond(context.Context, string, approval.Response) error {
	return graph.ErrNotSuspended
}

type idleAgent struct{}

func (idleAgent) ForceProcess(context.Context, string) error { return scheduler.ErrBusy }
func (idleAgent) Status(context.Context) (scheduler.Record, error) {
	return scheduler.Record{Status: scheduler.StatusIdle}, nil
}

func newClient(t *testing.T) (*Client, *tasks.SQLStore) {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	perms, err := permissions.NewEngine(ctx, permissions.NewFileStore(filepath.Join(t.TempDir(), "permissions.yaml")), bus)
	require.NoError(t, err)

	store := tasks.NewSQLStore(db)
	srv := gateway.NewServer(gateway.Deps{
		Bus:         bus,
		Tasks:       tasks.NewService(store, noThreads{}, bus),
		Agent:       idleAgent{},
		Permissions: perms,
	}, "localhost", 0)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})
	return New(ts.URL + "/"), store
}

func TestClientTasks(t *testing.T) {
	c, store := newClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	rec, err := c.Agent(ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusIdle, rec.Status)

	created, err := c.CreateTask(ctx, tasks.NewTask{Title: "Renew passport", Tags: []string{"admin"}})
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusNew, created.Status)

	got, err := c.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renew passport", got.Title)

	list, err := c.ListTasks(ctx, tasks.ListFilter{Statuses: []tasks.Status{tasks.StatusNew}, Tag: "admin"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = c.ListTasks(ctx, tasks.ListFilter{Statuses: []tasks.Status{tasks.StatusDone}})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = store.Transition(ctx, created.ID, tasks.StatusInProgress)
	require.NoError(t, err)
	_, err = store.Transition(ctx, created.ID, tasks.StatusFailed)
	require.NoError(t, err)
	retried, err := c.Retry(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusNew, retried.Status)

	evs, err := c.TaskEvents(ctx, created.ID, 10)
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr), "no event log is configured")
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Empty(t, evs)
}

func TestClientErrors(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	_, err := c.GetTask(ctx, tasks.NewID())
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Contains(t, apiErr.Message, "task not found")

	created, err := c.CreateTask(ctx, tasks.NewTask{Title: "x"})
	require.NoError(t, err)

	_, err = c.Process(ctx, created.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	_, err = c.PendingApproval(ctx, created.ID)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = New("http://127.0.0.1:1").GetTask(ctx, created.ID)
	assert.ErrorIs(t, err, ErrUnavailable)
}
