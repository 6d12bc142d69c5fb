package ws

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The API carries no authentication; origin checks would only
		// give a false sense of isolation here.
		return true
	},
}

// Handler upgrades HTTP requests on /ws/streams/{id} and subscribes the
// connection to that stream's results.
type Handler struct {
	hub *Hub
	log zerolog.Logger
}

// NewHandler creates a WebSocket upgrade handler over the hub.
func NewHandler(hub *Hub, log zerolog.Logger) *Handler {
	return &Handler{hub: hub, log: log.With().Str("component", "ws").Logger()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	streamID := chi.URLParam(r, "id")
	if streamID == "" {
		http.Error(w, "stream id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	h.log.Debug().Str("stream_id", streamID).Str("remote", r.RemoteAddr).Msg("subscriber connected")

	h.hub.Register(streamID, conn)
	go h.readPump(streamID, conn)
}

// readPump keeps the connection alive with pings and detects disconnects.
// Subscribers are not expected to send anything.
func (h *Handler) readPump(streamID string, conn *websocket.Conn) {
	defer func() {
		h.hub.Unregister(streamID, conn)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingInterval)
	done := make(chan struct{})
	defer func() {
		ticker.Stop()
		close(done)
	}()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("stream_id", streamID).Msg("subscriber read error")
			}
			return
		}
	}
}
