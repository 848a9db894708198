package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/basket/crewctl/internal/bus"
)

// heartbeatEvent is one SSE frame on /api/heartbeat.
type heartbeatEvent struct {
	Type   string `json:"type"` // "hello", "refresh" or "ping"
	Latest string `json:"latest,omitempty"`
	TS     int64  `json:"ts,omitempty"`
}

// handleHeartbeat streams board-refresh signals as SSE. Clients re-fetch
// /api/board on each "refresh" frame; "ping" frames keep intermediaries from
// closing idle connections.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.Bus == nil {
		http.Error(w, "streaming not available: event bus not configured", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveStreams.Add(r.Context(), 1)
		defer s.cfg.Metrics.ActiveStreams.Add(context.Background(), -1)
	}

	sub := s.cfg.Bus.Subscribe(bus.TopicBoardRefresh)
	defer s.cfg.Bus.Unsubscribe(sub)

	if !writeSSE(w, flusher, heartbeatEvent{Type: "hello", TS: time.Now().Unix()}) {
		return
	}

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("heartbeat client disconnected")
			return

		case <-keepalive.C:
			if !writeSSE(w, flusher, heartbeatEvent{Type: "ping", TS: time.Now().Unix()}) {
				return
			}

		case event, ok := <-sub.Ch():
			if !ok {
				return
			}
			refresh, ok := event.Payload.(bus.BoardRefreshEvent)
			if !ok {
				continue
			}
			if !writeSSE(w, flusher, heartbeatEvent{Type: "refresh", Latest: refresh.Latest, TS: refresh.TS}) {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev heartbeatEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
