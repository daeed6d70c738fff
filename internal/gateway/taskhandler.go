package gateway

import (
	"context"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/gateway/ws"
	"github.com/dohr-michael/steward/internal/tasks"
)

// WSTaskHandler implements ws.TaskHandler over the task service.
type WSTaskHandler struct {
	svc *tasks.Service
}

var _ ws.TaskHandler = (*WSTaskHandler)(nil)

// NewWSTaskHandler creates a new WS task handler.
func NewWSTaskHandler(svc *tasks.Service) *WSTaskHandler {
	return &WSTaskHandler{svc: svc}
}

// Create inserts a NEW task.
func (h *WSTaskHandler) Create(ctx context.Context, in tasks.NewTask) (*tasks.Task, error) {
	return h.svc.Create(ctx, in)
}

// Get returns a task with its comments.
func (h *WSTaskHandler) Get(ctx context.Context, id string) (*tasks.Task, error) {
	return h.svc.Store().Get(ctx, id)
}

// List returns tasks matching filter.
func (h *WSTaskHandler) List(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error) {
	return h.svc.Store().List(ctx, filter)
}

// Respond answers an escalated or waiting task.
func (h *WSTaskHandler) Respond(ctx context.Context, id string, resp approval.Response) (*tasks.Task, error) {
	return h.svc.Respond(ctx, id, resp)
}

// Retry requeues a failed or waiting task.
func (h *WSTaskHandler) Retry(ctx context.Context, id string) (*tasks.Task, error) {
	return h.svc.Retry(ctx, id)
}
