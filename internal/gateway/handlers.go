package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dohr-michael/steward/internal/approval"
	"github.com/dohr-michael/steward/internal/permissions"
	"github.com/dohr-michael/steward/internal/tasks"
)

// handleListTasks accepts ?status=NEW,FAILED&tag=x&limit=n. status may repeat.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := tasks.ListFilter{Tag: q.Get("tag"), Limit: queryLimit(r, 0)}
	for _, raw := range q["status"] {
		for _, name := range strings.Split(raw, ",") {
			if name = strings.TrimSpace(name); name == "" {
				continue
			}
			st, err := tasks.ParseStatus(name)
			if err != nil {
				writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	list, err := s.deps.Tasks.Store().List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []*tasks.Task{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var in tasks.NewTask
	if err := decodeBody(r, &in); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.deps.Tasks.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Tasks.Store().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handlePendingApproval(w http.ResponseWriter, r *http.Request) {
	susp, err := s.deps.Tasks.PendingApproval(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, susp)
}

func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := tasks.ValidateID(id); err != nil {
		writeError(w, err)
		return
	}
	if s.deps.EventLog == nil {
		http.Error(w, "event log not available", http.StatusServiceUnavailable)
		return
	}
	list, err := s.deps.EventLog.Read(id, queryLimit(r, defaultEventLimit))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type processResult struct {
	Task  *tasks.Task `json:"task"`
	Error string      `json:"error,omitempty"`
}

// handleProcessTask runs a task to its next resting status before answering.
// Processing survives a client disconnect.
func (s *Server) handleProcessTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := context.WithoutCancel(r.Context())

	procErr := s.deps.Agent.ForceProcess(ctx, id)
	if procErr != nil && statusFor(procErr) != http.StatusInternalServerError {
		writeError(w, procErr)
		return
	}

	t, err := s.deps.Tasks.Store().Get(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	res := processResult{Task: t}
	if procErr != nil {
		res.Error = procErr.Error()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var resp approval.Response
	if err := decodeBody(r, &resp); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.deps.Tasks.Respond(r.Context(), chi.URLParam(r, "id"), resp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Tasks.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type ruleRequest struct {
	List    string `json:"list"`
	Pattern string `json:"pattern"`
}

type ruleResponse struct {
	List string `json:"list"`
	Rule string `json:"rule"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	doc := s.deps.Permissions.Rules()
	if doc.Allow == nil {
		doc.Allow = []string{}
	}
	if doc.Deny == nil {
		doc.Deny = []string{}
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	rule, err := s.deps.Permissions.AddRule(r.Context(), permissions.List(req.List), req.Pattern)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ruleResponse{List: req.List, Rule: rule.String()})
}

// handleRemoveRule takes ?list=allow&pattern=... since DELETE bodies are unreliable.
func (s *Server) handleRemoveRule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, pattern := q.Get("list"), q.Get("pattern")
	if err := s.deps.Permissions.RemoveRule(r.Context(), permissions.List(list), pattern); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
