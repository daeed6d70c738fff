package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/graph"
	"github.com/dohr-michael/steward/internal/permissions"
	"github.com/dohr-michael/steward/internal/tasks"
)

type replayModel struct {
	mu      sync.Mutex
	replies []*schema.Message
}

func (m *replayModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return next, nil
}

func (m *replayModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *replayModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

type recordingTool struct {
	name  string
	calls []string
}

func (r *recordingTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: r.name, Desc: "records " + r.name}, nil
}

func (r *recordingTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	r.calls = append(r.calls, args)
	return "preference saved", nil
}

func TestEscalationScenario(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	store := tasks.NewSQLStore(db)

	permStore := permissions.NewFileStore(filepath.Join(t.TempDir(), "permissions.yaml"))
	require.NoError(t, permStore.Save(ctx, permissions.Document{Settings: permissions.Settings{DefaultSecure: true}}))
	policy, err := permissions.NewEngine(ctx, permStore, nil)
	require.NoError(t, err)

	sensitive := &recordingTool{name: "set_preference"}
	chat := &replayModel{replies: []*schema.Message{
		{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:       "call-1",
				Function: schema.FunctionCall{Name: "set_preference", Arguments: `{"drink":"tea"}`},
			}},
		},
		{Role: schema.Assistant, Content: "Preference recorded."},
	}}
	engine, err := graph.NewEngine(ctx, chat,
		[]tool.InvokableTool{approval.Wrap(sensitive, "set_preference", policy, nil)},
		graph.NewThreadStore(db), graph.Config{Instruction: "help"})
	require.NoError(t, err)

	svc := tasks.NewService(store, engine, nil)
	live := NewLiveness(db, "w1", DefaultStaleAfter)
	worker := NewWorker(store, live, engine, nil, Config{})
	svc.SetWaker(worker.Wake)

	task, err := svc.Create(ctx, tasks.NewTask{Title: "Ask user for a preference"})
	require.NoError(t, err)

	worked, err := worker.Step(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	got, err := store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusNeedsReview, got.Status)
	assert.Empty(t, sensitive.calls, "nothing runs before approval")

	rec, err := live.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, rec.Status)

	// Newer work queued while waiting for the human.
	time.Sleep(time.Millisecond)
	other, err := svc.Create(ctx, tasks.NewTask{Title: "Something else"})
	require.NoError(t, err)

	_, err = svc.Respond(ctx, task.ID, approval.Response{Type: approval.ResponseAccept})
	require.NoError(t, err)

	next, err := worker.NextTask(ctx)
	require.NoError(t, err)
	require.Equal(t, task.ID, next.ID, "answered task is claimed first")

	worked, err = worker.Step(ctx)
	require.NoError(t, err)
	require.True(t, worked)

	got, err = store.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusDone, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, []string{`{"drink":"tea"}`}, sensitive.calls)

	waiting, err := store.Get(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusNew, waiting.Status)
}
