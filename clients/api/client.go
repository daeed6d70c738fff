// Package api is a client for the Steward gateway HTTP API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/graph"
	"github.com/dohr-michael/steward/internal/scheduler"
	"github.com/dohr-michael/steward/internal/tasks"
)

// ErrUnavailable means the gateway could not be reached.
var ErrUnavailable = errors.New("gateway unavailable")

// Error is a non-2xx answer from the gateway.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway: %s (%d)", e.Message, e.Status)
}

// Client talks to one gateway.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the gateway at baseURL (e.g. http://127.0.0.1:18420).
// Processing a task can take minutes, so no overall timeout is set; pass a
// deadline through ctx instead.
func New(baseURL string) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{},
	}
}

// BaseURL returns the gateway address.
func (c *Client) BaseURL() string { return c.base }

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(data))
		}
		return &Error{Status: resp.StatusCode, Message: eb.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Health checks the gateway is up.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil, nil)
}

// Agent returns the worker liveness record.
func (c *Client) Agent(ctx context.Context) (scheduler.Record, error) {
	var rec scheduler.Record
	err := c.do(ctx, http.MethodGet, "/api/agent", nil, &rec)
	return rec, err
}

// ListTasks lists tasks, newest activity first.
func (c *Client) ListTasks(ctx context.Context, filter tasks.ListFilter) ([]*tasks.Task, error) {
	q := url.Values{}
	for _, st := range filter.Statuses {
		q.Add("status", string(st))
	}
	if filter.Tag != "" {
		q.Set("tag", filter.Tag)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	path := "/api/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var list []*tasks.Task
	err := c.do(ctx, http.MethodGet, path, nil, &list)
	return list, err
}

// GetTask returns a task with its comments.
func (c *Client) GetTask(ctx context.Context, id string) (*tasks.Task, error) {
	var t tasks.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask queues a NEW task.
func (c *Client) CreateTask(ctx context.Context, in tasks.NewTask) (*tasks.Task, error) {
	var t tasks.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// PendingApproval returns what an escalated task is waiting on.
func (c *Client) PendingApproval(ctx context.Context, id string) (*graph.Suspension, error) {
	var s graph.Suspension
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id)+"/approval", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Respond answers an escalated or waiting task.
func (c *Client) Respond(ctx context.Context, id string, resp approval.Response) (*tasks.Task, error) {
	var t tasks.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/respond", resp, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Retry requeues a failed or waiting task.
func (c *Client) Retry(ctx context.Context, id string) (*tasks.Task, error) {
	var t tasks.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/retry", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ProcessResult is the outcome of a forced run.
type ProcessResult struct {
	Task  *tasks.Task `json:"task"`
	Error string      `json:"error,omitempty"`
}

// Process forces the worker to run a task now.
func (c *Client) Process(ctx context.Context, id string) (*ProcessResult, error) {
	var res ProcessResult
	if err := c.do(ctx, http.MethodPost, "/api/tasks/"+url.PathEscape(id)+"/process", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// TaskEvents returns the last limit logged events of a task.
func (c *Client) TaskEvents(ctx context.Context, id string, limit int) ([]events.Event, error) {
	var list []events.Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/tasks/%s/events?limit=%d", url.PathEscape(id), limit), nil, &list)
	return list, err
}
