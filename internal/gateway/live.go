package gateway

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/technosupport/ts-anpr/internal/data"
	"github.com/technosupport/ts-anpr/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // operator consoles connect from anywhere on the LAN
	},
}

// Hub fans each ingested event out to connected operator consoles. A
// client that cannot keep up is dropped rather than allowed to stall
// the broadcast.
type Hub struct {
	mu      sync.Mutex
	clients map[chan *data.PlateEvent]struct{}
	log     zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[chan *data.PlateEvent]struct{}),
		log:     log.With().Str("component", "live").Logger(),
	}
}

func (h *Hub) Broadcast(ev *data.PlateEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// Slow consumer; it will be reaped by its writer loop.
		}
	}
}

func (h *Hub) register() chan *data.PlateEvent {
	ch := make(chan *data.PlateEvent, 16)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	metrics.LiveClients.Inc()
	return ch
}

func (h *Hub) unregister(ch chan *data.PlateEvent) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	metrics.LiveClients.Dec()
}

// Live upgrades to WebSocket and streams events as they are ingested.
// Auth happens in the router middleware before we get here.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	metrics.QueryTotal.WithLabelValues("live").Inc()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ch := h.hub.register()
	defer h.hub.unregister(ch)

	// Reader goroutine: we never expect client messages, but reading is
	// what surfaces the close frame.
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
		case <-done:
			return
		case ev := <-ch:
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
