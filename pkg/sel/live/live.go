// Package live broadcasts site.Event occurrences to connected websocket
// observers, adapted from pkg/descry/dashboard's upgrader/clients/
// broadcast-channel shape but trimmed to a single event feed — no HTML
// dashboard, no alert manager, no playback API.
package live

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sourceful/sel/pkg/sel/site"
)

// Hub fans out Events to every connected websocket client.
type Hub struct {
	upgrader     websocket.Upgrader
	log          zerolog.Logger
	clientsMutex sync.RWMutex
	clients      map[*websocket.Conn]bool
	maxClients   int
	events       chan site.Event
	stop         chan struct{}
}

// NewHub returns a Hub ready to be wired to an http.ServeMux via
// HandleWebSocket and started with Run.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:        log,
		clients:    make(map[*websocket.Conn]bool),
		maxClients: 100,
		events:     make(chan site.Event, 100),
		stop:       make(chan struct{}),
	}
}

// Publish enqueues event for broadcast, dropping it if the internal buffer
// is full rather than blocking the caller.
func (h *Hub) Publish(event site.Event) {
	select {
	case h.events <- event:
	default:
	}
}

// Run drains the publish queue and fans each event out to all clients,
// until Stop is called. Run blocks; call it in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case event := <-h.events:
			h.broadcast(event)
		case <-h.stop:
			return
		}
	}
}

// Stop halts Run.
func (h *Hub) Stop() {
	close(h.stop)
}

func (h *Hub) broadcast(event site.Event) {
	h.clientsMutex.RLock()
	if len(h.clients) == 0 {
		h.clientsMutex.RUnlock()
		return
	}
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clientsMutex.RUnlock()

	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Str("component", "sel-live").Err(err).Msg("failed to marshal event")
		return
	}

	for _, client := range clients {
		if err := client.WriteMessage(websocket.TextMessage, data); err != nil {
			h.clientsMutex.Lock()
			delete(h.clients, client)
			h.clientsMutex.Unlock()
			client.Close()
		}
	}
}

// HandleWebSocket upgrades r to a websocket connection and registers it as
// an observer until it disconnects.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.clientsMutex.RLock()
	count := len(h.clients)
	h.clientsMutex.RUnlock()
	if count >= h.maxClients {
		http.Error(w, "maximum clients reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Str("component", "sel-live").Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.clientsMutex.Lock()
	h.clients[conn] = true
	h.clientsMutex.Unlock()

	defer func() {
		h.clientsMutex.Lock()
		delete(h.clients, conn)
		h.clientsMutex.Unlock()
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
