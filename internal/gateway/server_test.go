package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/gateway/ws"
	"github.com/dohr-michael/steward/internal/graph"
	"github.com/dohr-michael/steward/internal/permissions"
	"github.com/dohr-michael/steward/internal/scheduler"
	"github.com/dohr-michael/steward/internal/storage/sqlite"
	"github.com/dohr-michael/steward/internal/tasks"
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

type fakeAgent struct {
	err       error
	processed []string
}

func (f *fakeAgent) ForceProcess(_ context.Context, id string) error {
	f.processed = append(f.processed, id)
	return f.err
}

func (f *fakeAgent) Status(context.Context) (scheduler.Record, error) {
	return scheduler.Record{Status: scheduler.StatusIdle, Processed: 3}, nil
}

type fakeEventLog map[string][]events.Event

func (f fakeEventLog) Read(taskID string, limit int) ([]events.Event, error) {
	return f[taskID], nil
}

type harness struct {
	srv     *Server
	bus     *events.Bus
	store   *tasks.SQLStore
	threads *fakeThreads
	agent   *fakeAgent
	log     fakeEventLog
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	perms, err := permissions.NewEngine(ctx, permissions.NewFileStore(filepath.Join(t.TempDir(), "permissions.yaml")), bus)
	require.NoError(t, err)

	h := &harness{
		bus:     bus,
		store:   tasks.NewSQLStore(db),
		threads: &fakeThreads{suspended: map[string]*graph.Suspension{}},
		agent:   &fakeAgent{},
		log:     fakeEventLog{},
	}
	h.srv = NewServer(Deps{
		Bus:         bus,
		Tasks:       tasks.NewService(h.store, h.threads, bus),
		Agent:       h.agent,
		Permissions: perms,
		EventLog:    h.log,
	}, "localhost", 0)
	t.Cleanup(h.srv.hub.Close)
	return h
}

func (h *harness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v), w.Body.String())
	return v
}

func (h *harness) create(t *testing.T, title string) *tasks.Task {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/tasks", tasks.NewTask{Title: title})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[*tasks.Task](t, w)
}

// escalate parks a task in NEEDS_REVIEW with a pending approval.
func (h *harness) escalate(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	_, err := h.store.Transition(ctx, id, tasks.StatusInProgress)
	require.NoError(t, err)
	_, err = h.store.Transition(ctx, id, tasks.StatusNeedsReview)
	require.NoError(t, err)
	h.threads.suspended[tasks.ThreadID(id)] = &graph.Suspension{
		ThreadID: tasks.ThreadID(id),
		Request:  approval.Request{Kind: approval.KindApproval, Capability: "update_task", Question: "Allow update_task?"},
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])
}

func TestAgentStatus(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodGet, "/api/agent", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rec := decode[scheduler.Record](t, w)
	assert.Equal(t, scheduler.StatusIdle, rec.Status)
	assert.EqualValues(t, 3, rec.Processed)
}

func TestCreateGetList(t *testing.T) {
	h := newHarness(t)
	a := h.create(t, "Water the plants")
	b := h.create(t, "File taxes")
	_, err := h.store.Transition(context.Background(), b.ID, tasks.StatusInProgress)
	require.NoError(t, err)

	w := h.do(t, http.MethodGet, "/api/tasks/"+a.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[tasks.Task](t, w)
	assert.Equal(t, "Water the plants", got.Title)
	assert.Equal(t, tasks.StatusNew, got.Status)

	w = h.do(t, http.MethodGet, "/api/tasks?status=new", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]tasks.Task](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	w = h.do(t, http.MethodGet, "/api/tasks?status=NEW,in_progress", nil)
	assert.Len(t, decode[[]tasks.Task](t, w), 2)

	w = h.do(t, http.MethodGet, "/api/tasks?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskErrors(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodPost, "/api/tasks", tasks.NewTask{Title: "  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/tasks/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodGet, "/api/tasks/"+tasks.NewID(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, decode[errorBody](t, w).Error, "task not found")

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespondFlow(t *testing.T) {
	h := newHarness(t)
	task := h.create(t, "Ask user for a preference")

	w := h.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/approval", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/respond", approval.Response{Type: approval.ResponseAccept})
	assert.Equal(t, http.StatusConflict, w.Code, "a NEW task is not awaiting input")

	h.escalate(t, task.ID)

	w = h.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/approval", nil)
	require.Equal(t, http.StatusOK, w.Code)
	susp := decode[graph.Suspension](t, w)
	assert.Equal(t, "update_task", susp.Request.Capability)

	w = h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/respond", approval.Response{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/respond", approval.Response{Type: approval.ResponseAccept})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, tasks.StatusUserInputReceived, decode[tasks.Task](t, w).Status)
	require.NotNil(t, h.threads.suspended[tasks.ThreadID(task.ID)].Response)
}

func TestRetry(t *testing.T) {
	h := newHarness(t)
	task := h.create(t, "Flaky")

	w := h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	ctx := context.Background()
	_, err := h.store.Transition(ctx, task.ID, tasks.StatusInProgress)
	require.NoError(t, err)
	_, err = h.store.Transition(ctx, task.ID, tasks.StatusFailed)
	require.NoError(t, err)

	w = h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, tasks.StatusNew, decode[tasks.Task](t, w).Status)
}

func TestProcess(t *testing.T) {
	h := newHarness(t)
	task := h.create(t, "Now please")

	w := h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/process", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[processResult](t, w)
	assert.Equal(t, task.ID, res.Task.ID)
	assert.Empty(t, res.Error)
	assert.Equal(t, []string{task.ID}, h.agent.processed)

	h.agent.err = scheduler.ErrBusy
	w = h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/process", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	h.agent.err = assert.AnError
	w = h.do(t, http.MethodPost, "/api/tasks/"+task.ID+"/process", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, assert.AnError.Error(), decode[processResult](t, w).Error)
}

func TestPermissions(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, http.MethodGet, "/api/permissions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	doc := decode[permissions.Document](t, w)
	assert.True(t, doc.Settings.DefaultSecure)
	assert.Contains(t, doc.Allow, "list_tasks")

	w = h.do(t, http.MethodPost, "/api/permissions", ruleRequest{List: "deny", Pattern: "update_task( status = done )"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	added := decode[ruleResponse](t, w)
	assert.Equal(t, "deny", added.List)

	w = h.do(t, http.MethodPost, "/api/permissions", ruleRequest{List: "maybe", Pattern: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	q := url.Values{"list": {"deny"}, "pattern": {added.Rule}}
	w = h.do(t, http.MethodDelete, "/api/permissions?"+q.Encode(), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, http.MethodDelete, "/api/permissions?"+q.Encode(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvents(t *testing.T) {
	h := newHarness(t)
	task := h.create(t, "Observed")

	require.Eventually(t, func() bool { return len(h.bus.History(10)) > 0 }, time.Second, 5*time.Millisecond)

	w := h.do(t, http.MethodGet, "/api/events?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]events.Event](t, w)
	require.NotEmpty(t, list)
	assert.Equal(t, events.EventTaskCreated, list[0].Type)
	assert.Equal(t, task.ID, list[0].TaskID)

	w = h.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]events.Event](t, w))

	h.log[task.ID] = list
	w = h.do(t, http.MethodGet, "/api/tasks/"+task.ID+"/events", nil)
	assert.Len(t, decode[[]events.Event](t, w), len(list))

	other := h.create(t, "Elsewhere")
	require.Eventually(t, func() bool {
		return len(h.bus.HistoryFor(events.Filter{TaskID: other.ID}, 10)) > 0
	}, time.Second, 5*time.Millisecond)

	w = h.do(t, http.MethodGet, "/api/events?task_id="+other.ID+"&type=task.created", nil)
	require.Equal(t, http.StatusOK, w.Code)
	scoped := decode[[]events.Event](t, w)
	require.Len(t, scoped, 1)
	assert.Equal(t, other.ID, scoped[0].TaskID)

	w = h.do(t, http.MethodGet, "/api/events?type=task.failed", nil)
	assert.Empty(t, decode[[]events.Event](t, w))
}

func TestWebSocketCreateTask(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The hub registers the client before reading, so the create's event reaches it.
	params, err := json.Marshal(tasks.NewTask{Title: "Over the wire"})
	require.NoError(t, err)
	req, err := ws.MarshalFrame(ws.Frame{Type: ws.FrameTypeRequest, ID: "req-1", Method: string(ws.MethodCreateTask), Params: params})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	var (
		created  *tasks.Task
		sawEvent bool
	)
	for created == nil || !sawEvent {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		f, err := ws.UnmarshalFrame(data)
		require.NoError(t, err)

		switch f.Type {
		case ws.FrameTypeResponse:
			require.Equal(t, "req-1", f.ID)
			require.NotNil(t, f.OK)
			require.True(t, *f.OK, f.Error)
			require.NoError(t, json.Unmarshal(f.Payload, &created))
		case ws.FrameTypeEvent:
			if f.Event == string(events.EventTaskCreated) {
				sawEvent = true
				assert.NotEmpty(t, f.TaskID)
			}
		}
	}
	assert.Equal(t, "Over the wire", created.Title)

	got, err := h.store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusNew, got.Status)
}

func TestWebSocketUnknownMethod(t *testing.T) {
	h := newHarness(t)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	req, err := ws.MarshalFrame(ws.Frame{Type: ws.FrameTypeRequest, ID: "req-2", Method: "launch_rockets"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, req))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	f, err := ws.UnmarshalFrame(data)
	require.NoError(t, err)
	require.NotNil(t, f.OK)
	assert.False(t, *f.OK)
	assert.Contains(t, f.Error, "unknown method")
}

func TestCORS(t *testing.T) {
	h := newHarness(t)
	srv := NewServer(Deps{Bus: h.bus, Tasks: tasks.NewService(h.store, h.threads, h.bus), Agent: h.agent}, "localhost", 0,
		WithAllowedOrigins("http://localhost:5173"))
	t.Cleanup(srv.hub.Close)

	req := httptest.NewRequest(http.MethodOptions, "/api/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	assert.Equal(t, []string{"localhost:5173", "app.example.com"}, originHosts([]string{"http://localhost:5173", "https://app.example.com/"}))
}
