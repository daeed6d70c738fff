package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/steward/internal/approval"
)

const defaultMaxIterations = 20

// Config tunes the engine.
type Config struct {
	Instruction   string
	MaxIterations int
	// ModelName labels model callbacks.
	ModelName string
	// Handlers receive model and tool callbacks.
	Handlers []callbacks.Handler
}

// Engine implements Runtime over an eino tool-calling chat model.
type Engine struct {
	model   model.ToolCallingChatModel
	tools   map[string]tool.InvokableTool
	threads *ThreadStore
	cfg     Config

	locks sync.Map // thread id -> *sync.Mutex
}

var _ Runtime = (*Engine)(nil)

var errStopped = errors.New("stream consumer stopped")

// NewEngine binds tools to chatModel.
func NewEngine(ctx context.Context, chatModel model.ToolCallingChatModel, tools []tool.InvokableTool, threads *ThreadStore, cfg Config) (*Engine, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}

	byName := make(map[string]tool.InvokableTool, len(tools))
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		byName[info.Name] = t
		infos = append(infos, info)
	}

	bound := chatModel
	if len(infos) > 0 {
		var err error
		bound, err = chatModel.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
	}

	return &Engine{model: bound, tools: byName, threads: threads, cfg: cfg}, nil
}

func (e *Engine) lock(threadID string) func() {
	v, _ := e.locks.LoadOrStore(threadID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Invoke appends input to the thread and runs it to completion or suspension.
func (e *Engine) Invoke(ctx context.Context, threadID, input string) (*Output, error) {
	return e.invoke(ctx, threadID, input, nil)
}

// Stream is Invoke with incremental model output.
func (e *Engine) Stream(ctx context.Context, threadID, input string) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		stopped := false
		emit := func(c Chunk) bool {
			if !stopped && !yield(c, nil) {
				stopped = true
			}
			return !stopped
		}

		out, err := e.invoke(ctx, threadID, input, emit)
		if stopped || errors.Is(err, errStopped) {
			return
		}
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		yield(Chunk{Content: out.Content, Interrupt: out.Interrupt, Done: true}, nil)
	}
}

func (e *Engine) invoke(ctx context.Context, threadID, input string, emit func(Chunk) bool) (*Output, error) {
	defer e.lock(threadID)()

	th, err := e.threads.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if th.Pending != nil {
		return nil, fmt.Errorf("%s: %w", threadID, ErrSuspended)
	}
	if len(th.Messages) == 0 && e.cfg.Instruction != "" {
		th.Messages = append(th.Messages, schema.SystemMessage(e.cfg.Instruction))
	}
	th.Messages = append(th.Messages, schema.UserMessage(input))

	return e.run(ctx, th, emit)
}

// SuspendedState reports the interrupt a thread is parked on.
func (e *Engine) SuspendedState(ctx context.Context, threadID string) (*Suspension, error) {
	th, err := e.threads.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if th.Pending == nil {
		return nil, nil
	}
	return &Suspension{
		ThreadID:    threadID,
		Request:     th.Pending.Request,
		Response:    th.Response,
		SuspendedAt: th.Pending.At,
	}, nil
}

// Respond records resp on a suspended thread.
func (e *Engine) Respond(ctx context.Context, threadID string, resp approval.Response) error {
	defer e.lock(threadID)()

	th, err := e.threads.Load(ctx, threadID)
	if err != nil {
		return err
	}
	if th.Pending == nil {
		return fmt.Errorf("%s: %w", threadID, ErrNotSuspended)
	}
	th.Response = &resp
	return e.threads.Save(ctx, th)
}

// Resume re-enters the interrupted tool call with resp, then continues the loop.
func (e *Engine) Resume(ctx context.Context, threadID string, resp approval.Response) (*Output, error) {
	defer e.lock(threadID)()

	th, err := e.threads.Load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if th.Pending == nil {
		return nil, fmt.Errorf("%s: %w", threadID, ErrNotSuspended)
	}

	calls := th.Pending.Calls
	th.Pending = nil
	th.Response = nil

	out, err := e.runCalls(ctx, th, calls, &resp, nil)
	if err != nil || out != nil {
		return out, err
	}
	return e.run(ctx, th, nil)
}

// run alternates model turns and tool calls until the model answers without
// calling a tool, a tool interrupts, or the iteration cap is hit.
func (e *Engine) run(ctx context.Context, th *Thread, emit func(Chunk) bool) (*Output, error) {
	for i := 0; i < e.cfg.MaxIterations; i++ {
		Touch(ctx)

		msg, err := e.generate(ctx, th.Messages, emit)
		if err != nil {
			if saveErr := e.threads.Save(ctx, th); saveErr != nil {
				slog.Warn("save thread after model error", "thread", th.ID, "error", saveErr)
			}
			return nil, err
		}
		th.Messages = append(th.Messages, msg)

		if len(msg.ToolCalls) == 0 {
			if err := e.threads.Save(ctx, th); err != nil {
				return nil, err
			}
			return &Output{Content: msg.Content}, nil
		}

		out, err := e.runCalls(ctx, th, msg.ToolCalls, nil, emit)
		if err != nil || out != nil {
			return out, err
		}
	}
	if err := e.threads.Save(ctx, th); err != nil {
		slog.Warn("save thread at iteration cap", "thread", th.ID, "error", err)
	}
	return nil, fmt.Errorf("%s: %w (%d)", th.ID, ErrMaxIterations, e.cfg.MaxIterations)
}

// withCallbacks scopes ctx to one component run. Components that do not
// report their own callbacks get them from the engine; see manual.
func (e *Engine) withCallbacks(ctx context.Context, name string, c components.Component) context.Context {
	if len(e.cfg.Handlers) == 0 {
		return ctx
	}
	return callbacks.InitCallbacks(ctx, &callbacks.RunInfo{Name: name, Component: c}, e.cfg.Handlers...)
}

// manual reports whether the engine must emit callbacks for component v.
func (e *Engine) manual(v any) bool {
	return len(e.cfg.Handlers) > 0 && !components.IsCallbacksEnabled(v)
}

func (e *Engine) generate(ctx context.Context, messages []*schema.Message, emit func(Chunk) bool) (*schema.Message, error) {
	ctx = e.withCallbacks(ctx, e.cfg.ModelName, components.ComponentOfChatModel)
	manual := e.manual(e.model)
	if manual {
		ctx = callbacks.OnStart(ctx, &model.CallbackInput{Messages: messages})
	}

	msg, err := e.generateMessage(ctx, messages, emit)
	if manual {
		if err != nil {
			callbacks.OnError(ctx, err)
		} else {
			callbacks.OnEnd(ctx, &model.CallbackOutput{Message: msg})
		}
	}
	return msg, err
}

func (e *Engine) generateMessage(ctx context.Context, messages []*schema.Message, emit func(Chunk) bool) (*schema.Message, error) {
	if emit == nil {
		msg, err := e.model.Generate(ctx, messages)
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		return msg, nil
	}

	sr, err := e.model.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stream recv: %w", err)
		}
		chunks = append(chunks, chunk)
		if chunk.Content != "" && !emit(Chunk{Delta: chunk.Content}) {
			return nil, errStopped
		}
	}
	if len(chunks) == 0 {
		return nil, errors.New("stream: empty response")
	}
	msg, err := schema.ConcatMessages(chunks)
	if err != nil {
		return nil, fmt.Errorf("stream concat: %w", err)
	}
	return msg, nil
}

// runCalls executes calls in order. resp, when set, is handed to the first
// call only: that is the call the thread was suspended on. A non-nil Output
// means a call interrupted and the thread is now suspended.
func (e *Engine) runCalls(ctx context.Context, th *Thread, calls []schema.ToolCall, resp *approval.Response, emit func(Chunk) bool) (*Output, error) {
	for i, call := range calls {
		Touch(ctx)
		if emit != nil && !emit(Chunk{ToolCall: call.Function.Name}) {
			return nil, errStopped
		}

		callCtx := ctx
		if i == 0 && resp != nil {
			callCtx = approval.WithResponse(ctx, *resp)
		}

		result, err := e.callTool(callCtx, call)
		if ie, ok := approval.AsInterrupt(err); ok {
			th.Pending = &Pending{Request: ie.Request, Calls: calls[i:], At: nowUTC()}
			th.Response = nil
			if err := e.threads.Save(ctx, th); err != nil {
				return nil, err
			}
			return &Output{Interrupt: &ie.Request}, nil
		}
		if err != nil {
			slog.Debug("tool call failed", "thread", th.ID, "tool", call.Function.Name, "error", err)
			result = fmt.Sprintf("error: %v", err)
		}
		th.Messages = append(th.Messages, schema.ToolMessage(result, call.ID))
	}
	return nil, e.threads.Save(ctx, th)
}

func (e *Engine) callTool(ctx context.Context, call schema.ToolCall) (string, error) {
	t, ok := e.tools[call.Function.Name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", call.Function.Name)
	}
	args := call.Function.Arguments
	if args == "" {
		args = "{}"
	}

	ctx = e.withCallbacks(ctx, call.Function.Name, components.ComponentOfTool)
	if !e.manual(t) {
		return t.InvokableRun(ctx, args)
	}

	ctx = callbacks.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: args})
	out, err := t.InvokableRun(ctx, args)
	if _, suspended := approval.AsInterrupt(err); suspended {
		return out, err
	}
	if err != nil {
		callbacks.OnError(ctx, err)
		return out, err
	}
	callbacks.OnEnd(ctx, &tool.CallbackOutput{Response: out})
	return out, nil
}
