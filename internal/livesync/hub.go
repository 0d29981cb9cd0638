// Package livesync pushes change pings to connected clients so their view
// of a project can be refreshed without polling. Pings carry only the
// identity of what changed; clients re-fetch state through the API.
package livesync

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fableforge/internal/logging"
)

// Event is one change ping. Kind names what changed (project, stage, job,
// notification); Scope and ScopeID address the subscription it belongs to.
type Event struct {
	Scope   string    `json:"scope"`
	ScopeID string    `json:"scope_id"`
	Kind    string    `json:"kind"`
	Stage   string    `json:"stage,omitempty"`
	At      time.Time `json:"at"`
}

const (
	ScopeProject = "project"
	ScopeAccount = "account"

	writeTimeout = 5 * time.Second
	sendBuffer   = 16
)

type subscriber struct {
	scope   string
	scopeID string
	send    chan Event
}

// Hub fans events out to websocket subscribers. A subscriber that cannot
// keep up is dropped rather than allowed to block the publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		subscribers: make(map[*subscriber]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Publish delivers the event to every subscriber whose scope matches.
func (h *Hub) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		if sub.scope != event.Scope || sub.scopeID != event.ScopeID {
			continue
		}
		select {
		case sub.send <- event:
		default:
			// Slow consumer: close its channel and let the writer exit.
			delete(h.subscribers, sub)
			close(sub.send)
		}
	}
}

// SubscriberCount reports how many connections are attached to the scope.
func (h *Hub) SubscriberCount(scope, scopeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	count := 0
	for sub := range h.subscribers {
		if sub.scope == scope && sub.scopeID == scopeID {
			count++
		}
	}
	return count
}

// ServeScope upgrades the request and streams events for the scope until
// the client disconnects or the context ends.
func (h *Hub) ServeScope(ctx context.Context, w http.ResponseWriter, r *http.Request, scope, scopeID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}

	sub := &subscriber{scope: scope, scopeID: scopeID, send: make(chan Event, sendBuffer)}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	defer func() {
		h.remove(sub)
		conn.Close()
	}()

	// Reader goroutine only drains control frames and detects disconnect.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case event, ok := <-sub.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("websocket write failed",
					logging.String("scope", scope),
					logging.String("scope_id", scopeID),
					logging.Error(err))
				return
			}
		}
	}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub.send)
	}
}
