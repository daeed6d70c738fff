// Package gateway exposes the admin and human-response HTTP API and the
// WebSocket notification stream.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/events"
	"github.com/dohr-michael/steward/internal/gateway/ws"
	"github.com/dohr-michael/steward/internal/graph"
	"github.com/dohr-michael/steward/internal/permissions"
	"github.com/dohr-michael/steward/internal/scheduler"
	"github.com/dohr-michael/steward/internal/tasks"
)

const defaultEventLimit = 50

// Agent is the worker surface the gateway drives.
type Agent interface {
	ForceProcess(ctx context.Context, id string) error
	Status(ctx context.Context) (scheduler.Record, error)
}

// EventLog reads persisted per-task events.
type EventLog interface {
	Read(taskID string, limit int) ([]events.Event, error)
}

// Deps are the services behind the API. EventLog may be nil.
type Deps struct {
	Bus         *events.Bus
	Tasks       *tasks.Service
	Agent       Agent
	Permissions *permissions.Engine
	EventLog    EventLog
}

// Server is the Steward gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	deps       Deps
}

// Option configures a Server.
type Option func(*options)

type options struct {
	allowedOrigins []string
}

// WithAllowedOrigins lets browser apps served from origins (e.g.
// "http://localhost:5173") call the API and open the event stream.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *options) { o.allowedOrigins = append(o.allowedOrigins, origins...) }
}

// NewServer creates a new gateway server.
func NewServer(deps Deps, host string, port int, opts ...Option) *Server {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	hub := ws.NewHub(deps.Bus)
	hub.SetTaskHandler(NewWSTaskHandler(deps.Tasks))

	s := &Server{hub: hub, deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	if len(o.allowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: o.allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"*"},
		}).Handler)
		hub.SetOriginPatterns(originHosts(o.allowedOrigins))
	}

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/agent", s.handleAgent)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleCreateTask)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetTask)
			r.Get("/approval", s.handlePendingApproval)
			r.Get("/events", s.handleTaskEvents)
			r.Post("/process", s.handleProcessTask)
			r.Post("/respond", s.handleRespond)
			r.Post("/retry", s.handleRetry)
		})
	})

	r.Get("/api/permissions", s.handleListRules)
	r.Post("/api/permissions", s.handleAddRule)
	r.Delete("/api/permissions", s.handleRemoveRule)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("steward gateway listening", "addr", ln.Addr().String())
	err = s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Agent.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEvents serves the in-memory event history. ?task_id= and repeated
// ?type= narrow it.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := events.Filter{TaskID: q.Get("task_id")}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, events.EventType(t))
	}
	history := s.deps.Bus.HistoryFor(filter, queryLimit(r, defaultEventLimit))
	if history == nil {
		history = []events.Event{}
	}
	writeJSON(w, http.StatusOK, history)
}

// originHosts turns origins into the host patterns the WebSocket upgrade
// checks against.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if _, rest, ok := strings.Cut(o, "://"); ok {
			o = rest
		}
		hosts = append(hosts, strings.TrimRight(o, "/"))
	}
	return hosts
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tasks.ErrInvalidID),
		errors.Is(err, tasks.ErrEmptyTitle),
		errors.Is(err, permissions.ErrInvalidPattern),
		errors.Is(err, permissions.ErrUnknownList),
		errors.Is(err, approval.ErrEmptyResponse),
		errors.Is(err, approval.ErrEditArgs),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, permissions.ErrRuleNotFound),
		errors.Is(err, graph.ErrNotSuspended):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrInvalidTransition),
		errors.Is(err, scheduler.ErrBusy):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		slog.Error("gateway request failed", "error", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", errBadRequest, err)
	}
	return nil
}

func queryLimit(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return def
}
