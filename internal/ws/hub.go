// Package ws pushes live stream diagnosis results to WebSocket subscribers.
package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

// Hub fans stream results out to the clients subscribed to each stream id.
type Hub struct {
	// clients maps stream_id -> set of connections
	clients map[string]map[*websocket.Conn]bool
	mu      sync.RWMutex
	log     zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*websocket.Conn]bool),
		log:     log.With().Str("component", "ws").Logger(),
	}
}

// Register adds a connection subscribed to one stream.
func (h *Hub) Register(streamID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[streamID] == nil {
		h.clients[streamID] = make(map[*websocket.Conn]bool)
	}
	h.clients[streamID][conn] = true
	h.log.Debug().Str("stream_id", streamID).Int("subscribers", len(h.clients[streamID])).Msg("client registered")
}

// Unregister removes a connection.
func (h *Hub) Unregister(streamID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.clients[streamID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.clients, streamID)
		}
	}
}

// HasClients reports whether anyone is subscribed to the stream.
func (h *Hub) HasClients(streamID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.clients[streamID]
	return ok && len(conns) > 0
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, conns := range h.clients {
		count += len(conns)
	}
	return count
}

// BroadcastResult pushes one diagnosis result to the stream's subscribers.
// Marshaling is skipped when nobody is listening.
func (h *Hub) BroadcastResult(msg *ResultMessage) {
	if !h.HasClients(msg.StreamID) {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Msg("could not encode result message")
		return
	}
	h.broadcast(msg.StreamID, data)
}

// broadcast writes raw bytes to every subscriber; slow or broken
// connections are dropped rather than stalling the stream.
func (h *Hub) broadcast(streamID string, message []byte) {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients[streamID]))
	for conn := range h.clients[streamID] {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			h.log.Debug().Err(err).Str("stream_id", streamID).Msg("dropping subscriber")
			h.Unregister(streamID, conn)
			conn.Close()
		}
	}
}
