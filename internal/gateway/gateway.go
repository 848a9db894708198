// Package gateway serves the crew dashboard: a token-authenticated HTTP API
// over the store, plus SSE and WebSocket streams that tell clients when the
// board moves.
package gateway

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/basket/crewctl/internal/bus"
	otelpkg "github.com/basket/crewctl/internal/otel"
	"github.com/basket/crewctl/internal/persistence"
)

//go:embed static/index.html
var staticFS embed.FS

// Config holds the dependencies for the dashboard server.
type Config struct {
	Store  *persistence.Store
	Bus    *bus.Bus
	Logger *slog.Logger

	// Metrics may be nil; instruments are skipped when absent.
	Metrics *otelpkg.Metrics

	// AuthToken guards every /api route. Empty disables the API entirely;
	// the server never runs open.
	AuthToken string
}

// Server is the dashboard HTTP server.
type Server struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a dashboard server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/board", s.handleBoard)
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/feed", s.handleFeed)
	mux.HandleFunc("/api/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("/api/task/", s.handleTask)
	return s.withRequestMetrics(mux)
}

// authorize accepts the token as a Bearer header or a ?token= query
// parameter. The query form exists for EventSource, which cannot set headers.
func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return false
	}
	presented := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		presented = strings.TrimPrefix(h, "Bearer ")
	} else {
		presented = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(s.cfg.AuthToken)) == 1
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		http.Error(w, "dashboard unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, err := s.cfg.Store.LatestTaskChange(r.Context()); err != nil {
		dbOK = false
	}
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{"ok": dbOK})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeResult maps an engine result onto HTTP: idempotent repeats are 200
// like first-time successes, gating failures are 409, unknown ids 404.
func (s *Server) writeResult(w http.ResponseWriter, res persistence.Result) {
	switch res.Code {
	case persistence.CodeOK, persistence.CodeAlreadyDone:
		body := map[string]any{"ok": true}
		if res.Info != "" {
			body["info"] = res.Info
		}
		if res.TaskID != 0 {
			body["id"] = res.TaskID
		}
		writeJSON(w, http.StatusOK, body)
	case persistence.CodeConflict:
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.EngineConflicts.Add(context.Background(), 1)
		}
		writeError(w, http.StatusConflict, res.Info)
	case persistence.CodeNotFound:
		writeError(w, http.StatusNotFound, res.Info)
	default:
		writeError(w, http.StatusBadRequest, res.Info)
	}
}

func (s *Server) withRequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(r.Context(),
				time.Since(start).Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", routeLabel(r.URL.Path)),
				))
		}
	})
}

// routeLabel collapses per-task paths so metric cardinality stays bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/api/task/") {
		rest := strings.TrimPrefix(path, "/api/task/")
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/api/task/{id}/" + rest[i+1:]
		}
		return "/api/task/{id}"
	}
	return path
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
