// Package ws streams bus events to WebSocket clients and accepts task
// requests (creation, human responses) over the same connection.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/tasks"
)

// TaskHandler serves the task methods of the protocol.
type TaskHandler interface {
	Create(ctx context.Context, in tasks.NewTask) (*tasks.Task, error)
	Get(ctx context.Context, id string) (*tasks.Task, error)
	List(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error)
	Respond(ctx context.Context, id string, resp approval.Response) (*tasks.Task, error)
	Retry(ctx context.Context, id string) (*tasks.Task, error)
}

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu     sync.Mutex
	taskID string // when set, only this task's events (and task-less ones) are sent
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	tasks       TaskHandler
	origins     []string
	unsubscribe func()
}

// NewHub creates a new WebSocket hub connected to an event bus.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
	}

	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.TaskID, e)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(e.TaskID, data)
	})

	return h
}

// SetTaskHandler enables the task methods.
func (h *Hub) SetTaskHandler(th TaskHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tasks = th
}

func (h *Hub) taskHandler() TaskHandler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.tasks
}

// broadcast sends data to every client interested in taskID.
func (h *Hub) broadcast(taskID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.wants(taskID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (c *Client) wants(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskID == "" || taskID == "" || c.taskID == taskID
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// SetOriginPatterns restricts cross-origin upgrades to the given host
// patterns (e.g. "localhost:5173"). Without patterns any origin is accepted.
func (h *Hub) SetOriginPatterns(patterns []string) {
	h.origins = patterns
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{OriginPatterns: h.origins}
	if len(h.origins) == 0 {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
		taskID: r.URL.Query().Get("task_id"),
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		switch frame.Type {
		case FrameTypeRequest:
			c.handleRequest(ctx, frame)
		default:
			slog.Debug("ws unknown frame type", "type", frame.Type)
		}
	}
}

type idParams struct {
	ID string `json:"id"`
}

type respondParams struct {
	ID       string            `json:"id"`
	Response approval.Response `json:"response"`
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	if Method(frame.Method) == MethodSubscribe {
		var p struct {
			TaskID string `json:"task_id"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &p); err != nil {
				c.sendError(frame.ID, "invalid params")
				return
			}
		}
		c.mu.Lock()
		c.taskID = p.TaskID
		c.mu.Unlock()
		c.sendOK(frame.ID, map[string]string{"task_id": p.TaskID})
		return
	}

	th := c.hub.taskHandler()
	if th == nil {
		c.sendError(frame.ID, "task system not available")
		return
	}

	var (
		result any
		err    error
	)
	switch Method(frame.Method) {
	case MethodCreateTask:
		var p tasks.NewTask
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		result, err = th.Create(ctx, p)

	case MethodGetTask:
		var p idParams
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		result, err = th.Get(ctx, p.ID)

	case MethodListTasks:
		var p tasks.ListFilter
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &p); err != nil {
				c.sendError(frame.ID, "invalid params")
				return
			}
		}
		result, err = th.List(ctx, p)

	case MethodRespond:
		var p respondParams
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		result, err = th.Respond(ctx, p.ID, p.Response)

	case MethodRetryTask:
		var p idParams
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		result, err = th.Retry(ctx, p.ID)

	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
		return
	}

	if err != nil {
		c.sendError(frame.ID, err.Error())
		return
	}
	c.sendOK(frame.ID, result)
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(id string, payload any) {
	c.sendFrame(NewResponseFrame(id, true, payload, ""))
}

func (c *Client) sendError(id string, errMsg string) {
	c.sendFrame(NewResponseFrame(id, false, nil, errMsg))
}

func (c *Client) sendFrame(f Frame, err error) {
	if err != nil {
		slog.Error("ws build response", "error", err)
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
