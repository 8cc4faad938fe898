package live

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sourceful/sel/pkg/sel/site"
)

func TestNewHubInitializesState(t *testing.T) {
	h := NewHub(zerolog.Nop())
	if h.clients == nil {
		t.Fatal("expected an initialized clients map")
	}
	if h.events == nil {
		t.Fatal("expected an initialized events channel")
	}
}

func TestHubBroadcastsPublishedEventsToConnectedClients(t *testing.T) {
	h := NewHub(zerolog.Nop())
	go h.Run()
	defer h.Stop()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // give the hub time to register the client

	h.Publish(site.Event{Kind: "rule_triggered", RuleID: "rule_1", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast message: %v", err)
	}

	var got site.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	if got.Kind != "rule_triggered" || got.RuleID != "rule_1" {
		t.Fatalf("got %+v, want kind=rule_triggered rule_id=rule_1", got)
	}
}

func TestHubDropsEventsWithNoConnectedClients(t *testing.T) {
	h := NewHub(zerolog.Nop())
	go h.Run()
	defer h.Stop()

	// No clients connected; Publish/broadcast must not block or panic.
	h.Publish(site.Event{Kind: "schedule_triggered", RuleID: "rule_2", Timestamp: time.Now()})
	time.Sleep(20 * time.Millisecond)
}

func TestHandleWebSocketRejectsConnectionsPastMaxClients(t *testing.T) {
	h := NewHub(zerolog.Nop())
	h.maxClients = 1
	go h.Run()
	defer h.Stop()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("first dial failed: %v", err)
	}
	defer first.Close()
	time.Sleep(50 * time.Millisecond)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected the second connection to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("got response %+v, want 503", resp)
	}
}

func TestHubRemovesClientOnDisconnect(t *testing.T) {
	h := NewHub(zerolog.Nop())
	go h.Run()
	defer h.Stop()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	h.clientsMutex.RLock()
	before := len(h.clients)
	h.clientsMutex.RUnlock()
	if before != 1 {
		t.Fatalf("expected 1 connected client, got %d", before)
	}

	conn.Close()
	time.Sleep(100 * time.Millisecond)

	h.clientsMutex.RLock()
	after := len(h.clients)
	h.clientsMutex.RUnlock()
	if after != 0 {
		t.Fatalf("expected 0 clients after disconnect, got %d", after)
	}
}
