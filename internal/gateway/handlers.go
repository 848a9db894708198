package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/basket/crewctl/internal/persistence"
)

// dashboardAgent is the identity recorded for mutations made from the web UI.
const dashboardAgent = "dashboard"

func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	snap, err := s.cfg.Store.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("board snapshot failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	results, err := s.cfg.Store.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad limit")
			return
		}
		limit = n
	}
	feed, err := s.cfg.Store.Feed(r.Context(), limit, r.URL.Query().Get("agent"))
	if err != nil {
		s.logger.Error("feed query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if feed == nil {
		feed = []persistence.Activity{}
	}
	writeJSON(w, http.StatusOK, feed)
}

// handleTask routes /api/task/{id} and /api/task/{id}/{action}.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/task/")
	idPart, action := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		idPart, action = rest[:i], rest[i+1:]
	}
	id, okID := parseID(idPart)
	if !okID {
		writeError(w, http.StatusBadRequest, "bad task id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleTaskDetail(w, r, id)
	case action == "blockers" && r.Method == http.MethodGet:
		s.handleTaskBlockers(w, r, id)
	case r.Method == http.MethodPost:
		s.handleTaskAction(w, r, id, action)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTaskDetail returns the task with its attached messages. A missing
// task is a 200 with a null task, so pollers can distinguish "gone" from
// transport errors.
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request, id int64) {
	task, err := s.cfg.Store.GetTask(r.Context(), id)
	if err != nil {
		s.logger.Error("task fetch failed", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if task == nil {
		writeJSON(w, http.StatusOK, map[string]any{"task": nil})
		return
	}

	msgs, err := s.cfg.Store.TaskMessages(r.Context(), id)
	if err != nil {
		s.logger.Error("task messages fetch failed", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if msgs == nil {
		msgs = []persistence.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task, "messages": msgs})
}

func (s *Server) handleTaskBlockers(w http.ResponseWriter, r *http.Request, id int64) {
	blockers, err := s.cfg.Store.Blockers(r.Context(), id)
	if err != nil {
		s.logger.Error("blockers fetch failed", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if blockers == nil {
		blockers = []persistence.Task{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"blockers": blockers})
}

type taskActionBody struct {
	Agent  string `json:"agent"`
	Note   string `json:"note"`
	Reason string `json:"reason"`
}

// handleTaskAction applies a dashboard mutation. The body may name the acting
// agent; without one the mutation is attributed to the dashboard itself.
// Force is implied because the dashboard acts on tasks it does not own.
func (s *Server) handleTaskAction(w http.ResponseWriter, r *http.Request, id int64, action string) {
	var body taskActionBody
	if r.Body != nil {
		// An empty body is fine; only decode what is there.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	agent := body.Agent
	if agent == "" {
		agent = dashboardAgent
	}

	ctx := r.Context()
	var res persistence.Result
	var err error
	switch action {
	case "complete":
		res, err = s.cfg.Store.Complete(ctx, id, agent, body.Note, true)
	case "delete":
		res, err = s.cfg.Store.Cancel(ctx, id, agent)
	case "approve":
		res, err = s.cfg.Store.Approve(ctx, id, agent, body.Note)
	case "reject":
		res, err = s.cfg.Store.Reject(ctx, id, agent, body.Reason)
	case "reset":
		res, err = s.cfg.Store.Reset(ctx, id, agent, true)
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	if err != nil {
		s.logger.Error("task action failed", "task_id", id, "action", action, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeResult(w, res)
}
