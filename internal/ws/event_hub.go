package ws

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"surveil/internal/pipeline"
)

// sendBuffer is the number of queued messages a client may fall behind by
const sendBuffer = 64

// client is one WebSocket connection. Only its write pump writes to conn.
type client struct {
	conn         *websocket.Conn
	cameraFilter string // Empty string means every camera
	send         chan []byte
}

// EventHub broadcasts pipeline events to every connected WebSocket client
type EventHub struct {
	clients map[*client]bool
	mu      sync.RWMutex
}

// NewEventHub creates a new event hub
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*client]bool),
	}
}

func (h *EventHub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	log.Printf("[WS] Client registered (filter: %q, total: %d)", c.cameraFilter, len(h.clients))
}

// unregister removes the client and closes its queue. Safe to call twice.
func (h *EventHub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		log.Printf("[WS] Client unregistered (total: %d)", len(h.clients))
	}
}

// Broadcast queues a message for every client interested in cameraID.
// Clients whose queue is full are dropped.
func (h *EventHub) Broadcast(cameraID string, message []byte) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if c.cameraFilter != "" && c.cameraFilter != cameraID {
			continue
		}
		select {
		case c.send <- message:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		log.Printf("[WS] Dropping slow client")
		h.unregister(c)
	}
}

// OnEvent encodes the event as JSON and broadcasts it
func (h *EventHub) OnEvent(event pipeline.Event) {
	if h.ClientCount() == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[WS] Error marshaling event: %v", err)
		return
	}
	h.Broadcast(event.CameraID, data)
}

// ClientCount returns the total number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// Ensure EventHub implements EventHandler
var _ pipeline.EventHandler = (*EventHub)(nil)
