// Package graph runs the per-task action graph: a tool-calling model loop
// whose threads can be suspended at an approval point and resumed later.
package graph

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/dohr-michael/steward/internal/approval"
)

var (
	ErrNotSuspended  = errors.New("thread is not suspended")
	ErrSuspended     = errors.New("thread is suspended awaiting a response")
	ErrMaxIterations = errors.New("graph exceeded maximum iterations")
)

// Output is the result of driving a thread until it finishes or suspends.
type Output struct {
	Content   string
	Interrupt *approval.Request
}

// Suspended reports whether the thread stopped at an interrupt.
func (o *Output) Suspended() bool {
	return o != nil && o.Interrupt != nil
}

// Chunk is a partial output of Stream. The last chunk has Done set.
type Chunk struct {
	Delta     string            `json:"delta,omitempty"`
	ToolCall  string            `json:"tool_call,omitempty"`
	Content   string            `json:"content,omitempty"`
	Interrupt *approval.Request `json:"interrupt,omitempty"`
	Done      bool              `json:"done,omitempty"`
}

// Suspension is the interrupt a thread is parked on, plus the human reply
// once one has been recorded.
type Suspension struct {
	ThreadID    string             `json:"thread_id"`
	Request     approval.Request   `json:"request"`
	Response    *approval.Response `json:"response,omitempty"`
	SuspendedAt time.Time          `json:"suspended_at"`
}

// Runtime is the action-graph contract the worker depends on. Threads are
// independent and keep their conversation state across suspend and resume.
type Runtime interface {
	Invoke(ctx context.Context, threadID, input string) (*Output, error)
	Stream(ctx context.Context, threadID, input string) iter.Seq2[Chunk, error]
	// SuspendedState returns nil when the thread is not suspended.
	SuspendedState(ctx context.Context, threadID string) (*Suspension, error)
	Resume(ctx context.Context, threadID string, resp approval.Response) (*Output, error)
	// Respond records a reply on a suspended thread for a later Resume.
	Respond(ctx context.Context, threadID string, resp approval.Response) error
}

type activityKey struct{}

// WithActivity installs a hook called at every graph step.
func WithActivity(ctx context.Context, fn func(context.Context)) context.Context {
	return context.WithValue(ctx, activityKey{}, fn)
}

// Touch signals progress to the hook installed by WithActivity, if any.
func Touch(ctx context.Context) {
	if fn, ok := ctx.Value(activityKey{}).(func(context.Context)); ok && fn != nil {
		fn(ctx)
	}
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
