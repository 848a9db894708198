package gateway

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/basket/crewctl/internal/bus"
)

// wsNotification is one JSON frame pushed to WebSocket clients.
type wsNotification struct {
	Topic  string `json:"topic"`
	TaskID int64  `json:"task_id,omitempty"`
	Action string `json:"action,omitempty"`
	Agent  string `json:"agent,omitempty"`
	Status string `json:"status,omitempty"`
	Latest string `json:"latest,omitempty"`
}

// handleWS pushes board events over a WebSocket. It carries the same signals
// as the SSE heartbeat plus per-task change detail, for clients that want
// finer granularity than "something changed".
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.Bus == nil {
		http.Error(w, "streaming not available: event bus not configured", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ActiveStreams.Add(r.Context(), 1)
		defer s.cfg.Metrics.ActiveStreams.Add(context.Background(), -1)
	}

	// Subscribe to everything; filter to the topics clients understand.
	sub := s.cfg.Bus.Subscribe("")
	defer s.cfg.Bus.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Ch():
			if !ok {
				return
			}
			var note wsNotification
			switch payload := event.Payload.(type) {
			case bus.TaskChangedEvent:
				note = wsNotification{
					Topic:  event.Topic,
					TaskID: payload.TaskID,
					Action: payload.Action,
					Agent:  payload.Agent,
					Status: payload.NewStatus,
				}
			case bus.BoardRefreshEvent:
				note = wsNotification{Topic: event.Topic, Latest: payload.Latest}
			default:
				if event.Topic != bus.TopicMessageSent && event.Topic != bus.TopicAgentChanged {
					continue
				}
				note = wsNotification{Topic: event.Topic}
			}
			if err := wsjson.Write(ctx, conn, note); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
