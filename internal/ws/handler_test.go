package ws

import (
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	r := chi.NewRouter()
	r.Get("/ws/streams/{id}", NewHandler(hub, zerolog.Nop()).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/streams/s1"
}

func TestHandlerSubscribeAndDisconnect(t *testing.T) {
	hub, url := newTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	require.Eventually(t, func() bool {
		return hub.HasClients("s1")
	}, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool {
		return !hub.HasClients("s1")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerDrainsPumpGoroutines(t *testing.T) {
	hub, url := newTestServer(t)

	base := runtime.NumGoroutine()
	for i := 0; i < 5; i++ {
		conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		if resp != nil {
			resp.Body.Close()
		}
		require.Eventually(t, func() bool {
			return hub.ClientCount() == 1
		}, time.Second, 10*time.Millisecond)

		conn.Close()
		require.Eventually(t, func() bool {
			return hub.ClientCount() == 0
		}, 2*time.Second, 10*time.Millisecond)
	}

	// Both the read pump and its ping goroutine must be gone for every
	// closed subscriber; allow a little slack for the server's own
	// connection teardown.
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= base+2
	}, 2*time.Second, 50*time.Millisecond)
}
