package graph

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/permissions"
	"github.com/dohr-michael/steward/internal/storage/sqlite"
)

// scriptedModel replays canned assistant messages in order.
type scriptedModel struct {
	mu      sync.Mutex
	replies []*schema.Message
	inputs  [][]*schema.Message
	tools   []*schema.ToolInfo
}

func (m *scriptedModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	if len(m.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return next, nil
}

func (m *scriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	half := len(msg.Content) / 2
	return schema.StreamReaderFromArray([]*schema.Message{
		{Role: schema.Assistant, Content: msg.Content[:half]},
		{Role: schema.Assistant, Content: msg.Content[half:]},
	}), nil
}

func (m *scriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.tools = tools
	return m, nil
}

type fakeTool struct {
	name  string
	err   error
	calls []string
}

func (f *fakeTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: f.name, Desc: "fake " + f.name}, nil
}

func (f *fakeTool) InvokableRun(_ context.Context, args string, _ ...tool.Option) (string, error) {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return "", f.err
	}
	return f.name + " ok", nil
}

func answer(content string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: content}
}

func callTool(id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       id,
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

func newThreadStore(t *testing.T) *ThreadStore {
	t.Helper()
	db, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "steward.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewThreadStore(db)
}

func newEngine(t *testing.T, m *scriptedModel, tools ...tool.InvokableTool) *Engine {
	t.Helper()
	e, err := NewEngine(context.Background(), m, tools, newThreadStore(t), Config{Instruction: "be useful", MaxIterations: 4})
	require.NoError(t, err)
	return e
}

func gated(t *testing.T, inner tool.InvokableTool, name string) tool.InvokableTool {
	t.Helper()
	store := permissions.NewFileStore(filepath.Join(t.TempDir(), "permissions.yaml"))
	require.NoError(t, store.Save(context.Background(), permissions.Document{Settings: permissions.Settings{DefaultSecure: true}}))
	policy, err := permissions.NewEngine(context.Background(), store, nil)
	require.NoError(t, err)
	return approval.Wrap(inner, name, policy, nil)
}

func TestInvokePlainAnswer(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{answer("all done")}}
	e := newEngine(t, m)

	out, err := e.Invoke(context.Background(), "task-1", "do it")
	require.NoError(t, err)
	assert.Equal(t, "all done", out.Content)
	assert.False(t, out.Suspended())

	th, err := e.threads.Load(context.Background(), "task-1")
	require.NoError(t, err)
	require.Len(t, th.Messages, 3)
	assert.Equal(t, schema.System, th.Messages[0].Role)
	assert.Equal(t, "do it", th.Messages[1].Content)
}

func TestInvokeFeedsToolResults(t *testing.T) {
	lookup := &fakeTool{name: "get_task"}
	m := &scriptedModel{replies: []*schema.Message{
		callTool("c1", "get_task", `{"id":"x"}`),
		answer("found it"),
	}}
	e := newEngine(t, m, lookup)
	require.Len(t, m.tools, 1)

	out, err := e.Invoke(context.Background(), "task-1", "look")
	require.NoError(t, err)
	assert.Equal(t, "found it", out.Content)
	assert.Equal(t, []string{`{"id":"x"}`}, lookup.calls)

	last := m.inputs[1][len(m.inputs[1])-1]
	assert.Equal(t, schema.Tool, last.Role)
	assert.Equal(t, "c1", last.ToolCallID)
	assert.Equal(t, "get_task ok", last.Content)
}

func TestToolErrorsAreFedBack(t *testing.T) {
	broken := &fakeTool{name: "get_task", err: fmt.Errorf("db down")}
	m := &scriptedModel{replies: []*schema.Message{
		callTool("c1", "get_task", `{}`),
		callTool("c2", "nope", `{}`),
		answer("gave up"),
	}}
	e := newEngine(t, m, broken)

	out, err := e.Invoke(context.Background(), "task-1", "look")
	require.NoError(t, err)
	assert.Equal(t, "gave up", out.Content)
	assert.Equal(t, "error: db down", m.inputs[1][len(m.inputs[1])-1].Content)
	assert.Contains(t, m.inputs[2][len(m.inputs[2])-1].Content, `unknown tool "nope"`)
}

func TestMaxIterations(t *testing.T) {
	loop := &fakeTool{name: "list_tasks"}
	var replies []*schema.Message
	for i := 0; i < 10; i++ {
		replies = append(replies, callTool(fmt.Sprintf("c%d", i), "list_tasks", `{}`))
	}
	e := newEngine(t, &scriptedModel{replies: replies}, loop)

	_, err := e.Invoke(context.Background(), "task-1", "spin")
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Len(t, loop.calls, 4)
}

func TestSuspendRespondResume(t *testing.T) {
	ctx := context.Background()
	update := &fakeTool{name: "update_task"}
	m := &scriptedModel{replies: []*schema.Message{
		callTool("c1", "update_task", `{"status":"done"}`),
		answer("updated"),
	}}
	e := newEngine(t, m, gated(t, update, "update_task"))

	out, err := e.Invoke(ctx, "task-1", "finish")
	require.NoError(t, err)
	require.True(t, out.Suspended())
	assert.Equal(t, "update_task", out.Interrupt.Capability)
	assert.Empty(t, update.calls)

	s, err := e.SuspendedState(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Nil(t, s.Response)
	assert.Equal(t, "update_task", s.Request.Capability)

	_, err = e.Invoke(ctx, "task-1", "again")
	assert.ErrorIs(t, err, ErrSuspended)

	require.NoError(t, e.Respond(ctx, "task-1", approval.Response{Type: approval.ResponseAccept}))
	s, err = e.SuspendedState(ctx, "task-1")
	require.NoError(t, err)
	require.NotNil(t, s.Response)
	assert.Equal(t, approval.ResponseAccept, s.Response.Type)

	out, err = e.Resume(ctx, "task-1", *s.Response)
	require.NoError(t, err)
	assert.Equal(t, "updated", out.Content)
	assert.Equal(t, []string{`{"status":"done"}`}, update.calls)

	s, err = e.SuspendedState(ctx, "task-1")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestResumeDenyDoesNotRun(t *testing.T) {
	ctx := context.Background()
	update := &fakeTool{name: "update_task"}
	m := &scriptedModel{replies: []*schema.Message{
		callTool("c1", "update_task", `{"status":"done"}`),
		answer("ok, leaving it"),
	}}
	e := newEngine(t, m, gated(t, update, "update_task"))

	_, err := e.Invoke(ctx, "task-1", "finish")
	require.NoError(t, err)

	out, err := e.Resume(ctx, "task-1", approval.Response{Type: approval.ResponseDeny, Text: "leave it open"})
	require.NoError(t, err)
	assert.Equal(t, "ok, leaving it", out.Content)
	assert.Empty(t, update.calls)
	assert.Equal(t, "leave it open", m.inputs[1][len(m.inputs[1])-1].Content)
}

func TestResumeRequiresSuspension(t *testing.T) {
	e := newEngine(t, &scriptedModel{})
	_, err := e.Resume(context.Background(), "task-x", approval.Response{Type: approval.ResponseAccept})
	assert.ErrorIs(t, err, ErrNotSuspended)
	assert.ErrorIs(t, e.Respond(context.Background(), "task-x", approval.Response{Type: approval.ResponseAccept}), ErrNotSuspended)
}

func TestActivityHook(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{
		callTool("c1", "list_tasks", `{}`),
		answer("done"),
	}}
	e := newEngine(t, m, &fakeTool{name: "list_tasks"})

	steps := 0
	ctx := WithActivity(context.Background(), func(context.Context) { steps++ })
	_, err := e.Invoke(ctx, "task-1", "go")
	require.NoError(t, err)
	assert.Equal(t, 3, steps, "two model turns and one tool call")
}

func TestStream(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{answer("hello world")}}
	e := newEngine(t, m)

	var deltas []string
	var last Chunk
	for chunk, err := range e.Stream(context.Background(), "task-1", "hi") {
		require.NoError(t, err)
		if chunk.Delta != "" {
			deltas = append(deltas, chunk.Delta)
		}
		last = chunk
	}
	assert.Equal(t, []string{"hello", " world"}, deltas)
	assert.True(t, last.Done)
	assert.Equal(t, "hello world", last.Content)
}

func TestStreamEarlyStop(t *testing.T) {
	m := &scriptedModel{replies: []*schema.Message{answer("hello world")}}
	e := newEngine(t, m)

	n := 0
	for range e.Stream(context.Background(), "task-1", "hi") {
		n++
		break
	}
	assert.Equal(t, 1, n)
}

// recorder collects "component:name:phase" for every callback.
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(info *callbacks.RunInfo, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, fmt.Sprintf("%s:%s:%s", info.Component, info.Name, phase))
}

func (r *recorder) handler() callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			r.add(info, "start")
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			r.add(info, "end")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, _ error) context.Context {
			r.add(info, "error")
			return ctx
		}).
		Build()
}

func TestCallbacksReportModelAndTools(t *testing.T) {
	rec := &recorder{}
	broken := &fakeTool{name: "add_memory", err: errors.New("disk full")}
	m := &scriptedModel{replies: []*schema.Message{
		callTool("c1", "get_task", `{"id":"x"}`),
		callTool("c2", "add_memory", `{"content":"x"}`),
		answer("done"),
	}}
	e, err := NewEngine(context.Background(), m, []tool.InvokableTool{&fakeTool{name: "get_task"}, broken}, newThreadStore(t), Config{
		ModelName: "scripted",
		Handlers:  []callbacks.Handler{rec.handler()},
	})
	require.NoError(t, err)

	_, err = e.Invoke(context.Background(), "task-1", "go")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ChatModel:scripted:start", "ChatModel:scripted:end",
		"Tool:get_task:start", "Tool:get_task:end",
		"ChatModel:scripted:start", "ChatModel:scripted:end",
		"Tool:add_memory:start", "Tool:add_memory:error",
		"ChatModel:scripted:start", "ChatModel:scripted:end",
	}, rec.got)
}

func TestCallbacksSkipSuspension(t *testing.T) {
	rec := &recorder{}
	m := &scriptedModel{replies: []*schema.Message{callTool("c1", "create_task", `{"title":"x"}`)}}
	e, err := NewEngine(context.Background(), m, []tool.InvokableTool{gated(t, &fakeTool{name: "create_task"}, "create_task")}, newThreadStore(t), Config{
		ModelName: "scripted",
		Handlers:  []callbacks.Handler{rec.handler()},
	})
	require.NoError(t, err)

	out, err := e.Invoke(context.Background(), "task-1", "go")
	require.NoError(t, err)
	require.True(t, out.Suspended())
	assert.Equal(t, []string{"ChatModel:scripted:start", "ChatModel:scripted:end", "Tool:create_task:start"}, rec.got)
}
