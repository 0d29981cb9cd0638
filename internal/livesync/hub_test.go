package livesync

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T, hub *Hub, scope, scopeID string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeScope(r.Context(), w, r, scope, scopeID)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, scope, scopeID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(scope, scopeID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers for %s/%s", want, scope, scopeID)
}

func TestPublishReachesMatchingScope(t *testing.T) {
	hub := NewHub(nil)
	server := newTestServer(t, hub, ScopeProject, "proj-1")
	conn := dial(t, server)
	waitForSubscribers(t, hub, ScopeProject, "proj-1", 1)

	hub.Publish(Event{Scope: ScopeProject, ScopeID: "proj-1", Kind: "stage", Stage: "script"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Kind != "stage" || event.Stage != "script" || event.ScopeID != "proj-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.At.IsZero() {
		t.Fatal("expected publish to stamp the event time")
	}
}

func TestPublishSkipsOtherScopes(t *testing.T) {
	hub := NewHub(nil)
	server := newTestServer(t, hub, ScopeProject, "proj-1")
	conn := dial(t, server)
	waitForSubscribers(t, hub, ScopeProject, "proj-1", 1)

	hub.Publish(Event{Scope: ScopeProject, ScopeID: "proj-2", Kind: "stage"})
	hub.Publish(Event{Scope: ScopeAccount, ScopeID: "proj-1", Kind: "notification"})
	hub.Publish(Event{Scope: ScopeProject, ScopeID: "proj-1", Kind: "job"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if event.Kind != "job" {
		t.Fatalf("expected only the matching event, got %+v", event)
	}
}

func TestDisconnectRemovesSubscriber(t *testing.T) {
	hub := NewHub(nil)
	server := newTestServer(t, hub, ScopeAccount, "acct-1")
	conn := dial(t, server)
	waitForSubscribers(t, hub, ScopeAccount, "acct-1", 1)

	conn.Close()
	waitForSubscribers(t, hub, ScopeAccount, "acct-1", 0)
}
