package events

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/minhtuanle/crypto-strike-bot/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans events out to in-process subscribers and connected websocket
// clients (the GUI). Publishing never blocks the core: slow subscribers
// lose events rather than stalling a lane.
type Hub struct {
	mu      sync.Mutex
	subs    []chan Event
	clients map[*websocket.Conn]bool

	broadcast chan Event
	log       *logger.Logger
}

// NewHub creates a hub. Call Run to start the broadcast loop.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Event, 256),
		log:       log,
	}
}

// Subscribe returns a buffered channel of events for an in-process
// consumer. The consumer must drain it; overflow events are dropped.
func (h *Hub) Subscribe() <-chan Event {
	ch := make(chan Event, 128)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch
}

// Publish enqueues an event for distribution.
func (h *Hub) Publish(e Event) {
	select {
	case h.broadcast <- e:
	default:
		h.log.Warning("events: broadcast queue full, dropping %s event", e.EventKind())
	}
}

// Run distributes events until the broadcast channel is closed.
func (h *Hub) Run() {
	for e := range h.broadcast {
		h.mu.Lock()
		for _, sub := range h.subs {
			select {
			case sub <- e:
			default:
			}
		}

		if len(h.clients) > 0 {
			payload, err := marshalEvent(e)
			if err == nil {
				for client := range h.clients {
					if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
						client.Close()
						delete(h.clients, client)
					}
				}
			}
		}
		h.mu.Unlock()
	}
}

// Close stops the broadcast loop.
func (h *Hub) Close() {
	close(h.broadcast)
}

// ServeWS upgrades an HTTP request to a websocket event stream.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("events: websocket upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

func marshalEvent(e Event) ([]byte, error) {
	wrapper := struct {
		Kind string `json:"kind"`
		Data Event  `json:"data"`
	}{Kind: e.EventKind(), Data: e}
	return json.Marshal(wrapper)
}
