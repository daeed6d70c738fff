// Package callbacks provides Eino callback handlers that bridge to the event bus.
package callbacks

import (
	"context"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/dohr-michael/steward/internal/events"
)

const maxPayload = 1000

// NewEventBusHandler creates a callback handler that publishes model and tool
// activity to the bus, scoped to the task carried by the context.
func NewEventBusHandler(bus *events.Bus) callbacks.Handler {
	publish := func(ctx context.Context, payload events.EventPayload) {
		bus.Publish(events.NewTaskEvent(events.SourceGraph, events.TaskIDFromContext(ctx), payload))
	}

	modelHandler := &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			p := events.ModelCallPayload{Phase: events.PhaseStarted, Model: info.Name}
			if input != nil {
				p.MessageCount = len(input.Messages)
			}
			publish(ctx, p)
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			p := events.ModelCallPayload{Phase: events.PhaseCompleted, Model: info.Name}
			if output != nil && output.Message != nil && output.Message.ResponseMeta != nil && output.Message.ResponseMeta.Usage != nil {
				p.TokensInput = output.Message.ResponseMeta.Usage.PromptTokens
				p.TokensOutput = output.Message.ResponseMeta.Usage.CompletionTokens
			}
			publish(ctx, p)
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publish(ctx, events.ModelCallPayload{Phase: events.PhaseFailed, Model: info.Name, Error: err.Error()})
			return ctx
		},
	}

	toolHandler := &ub.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *tool.CallbackInput) context.Context {
			p := events.ToolCallPayload{Phase: events.PhaseStarted, Name: info.Name}
			if input != nil {
				p.Arguments = truncatePayload(input.ArgumentsInJSON, maxPayload)
			}
			publish(ctx, p)
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *tool.CallbackOutput) context.Context {
			p := events.ToolCallPayload{Phase: events.PhaseCompleted, Name: info.Name}
			if output != nil {
				p.Result = truncatePayload(output.Response, maxPayload)
			}
			publish(ctx, p)
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publish(ctx, events.ToolCallPayload{Phase: events.PhaseFailed, Name: info.Name, Error: err.Error()})
			return ctx
		},
	}

	return ub.NewHandlerHelper().
		ChatModel(modelHandler).
		Tool(toolHandler).
		Handler()
}

func truncatePayload(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
