package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voxroad/internal/observe"
)

// Event is one session lifecycle notification carried over the event feed.
type Event struct {
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans session events out to websocket subscribers. The car-mode client
// connects with role=emit and publishes its state transitions; UIs connect
// with role=watch and receive every event for their session.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Publish delivers the event to all current subscribers of its session. Slow
// subscribers are skipped rather than blocked on.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber for sessionID. The returned cancel
// function removes the subscription and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	ch := make(chan Event, 32)
	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		set, ok := h.subs[sessionID]
		if !ok {
			return
		}
		if _, live := set[ch]; !live {
			return
		}
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, sessionID)
		}
		close(ch)
	}
	return ch, cancel
}

// handleEvents upgrades the connection and runs either the emitter or the
// watcher loop, selected by the role query parameter.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		s.reject(r.Context(), w, "events", validationError("session_id is required"))
		return
	}
	role := r.URL.Query().Get("role")
	if role != "emit" && role != "watch" {
		s.reject(r.Context(), w, "events", validationError("role must be emit or watch"))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("event feed upgrade failed", "error", err)
		return
	}

	switch role {
	case "emit":
		s.runEmitter(r.Context(), conn, sessionID)
	case "watch":
		s.runWatcher(r.Context(), conn, sessionID)
	}
}

// runEmitter reads events from the connection and publishes them to the hub.
func (s *Server) runEmitter(ctx context.Context, conn *websocket.Conn, sessionID string) {
	defer conn.Close(websocket.StatusNormalClosure, "session closed")

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	for {
		var ev Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			return
		}
		ev.SessionID = sessionID
		s.hub.Publish(ev)
	}
}

// runWatcher forwards hub events for the session to the connection.
func (s *Server) runWatcher(ctx context.Context, conn *websocket.Conn, sessionID string) {
	defer conn.Close(websocket.StatusNormalClosure, "session closed")

	events, cancel := s.hub.Subscribe(sessionID)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				return
			}
		}
	}
}
