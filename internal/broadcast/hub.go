// Package broadcast fans out broker lifecycle events to admin-side WebSocket
// subscribers (e.g. a status dashboard). It is independent of the agent
// connection registry: agents never see these events, only operators
// watching the broker from the admin API.
package broadcast

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// bufferSize is the per-hub broadcast channel depth, allowing bursts of
// lifecycle events to queue briefly before a slow subscriber is dropped.
const bufferSize = 256

// Event types published over the hub.
const (
	EventAgentStatus  = "agent_status"
	EventAgentPending = "new_pending_agent"
)

// Status values carried on an EventAgentStatus event.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Subscriber is one admin WebSocket connection.
type Subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub manages admin subscribers and fans out published events to all of
// them. Modeled on the dashboard hub's register/unregister/broadcast loop,
// generalized from dashboard state frames to typed broker lifecycle events.
type Hub struct {
	mu         sync.RWMutex
	subs       map[*Subscriber]bool
	register   chan *Subscriber
	unregister chan *Subscriber
	broadcast  chan []byte
}

// NewHub constructs a Hub. Call Run in its own goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		subs:       make(map[*Subscriber]bool),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		broadcast:  make(chan []byte, bufferSize),
	}
}

// Run is the hub's main loop. It never returns; call it from a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subs[sub] = true
			h.mu.Unlock()

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.subs {
				select {
				case sub.send <- message:
				default:
					close(sub.send)
					delete(h.subs, sub)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Join wraps conn as a Subscriber, registers it, and spawns its read/write
// pumps. The caller's goroutine returns once the connection closes.
func (h *Hub) Join(conn *websocket.Conn) {
	sub := &Subscriber{hub: h, conn: conn, send: make(chan []byte, bufferSize)}
	h.register <- sub

	go sub.writePump()
	sub.readPump()
}

// Publish fans out a flat JSON object to every subscriber: fields merged
// with a "type" key set to eventType, matching the wire shape documented
// for each event (e.g. {"type": "agent_status", "agent_id": ..., "status":
// ...}). A marshal failure is silently dropped: broadcast events are
// best-effort observability, never part of the write/read contract.
func (h *Hub) Publish(eventType string, fields map[string]string) {
	envelope := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		envelope[k] = v
	}
	envelope["type"] = eventType

	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	h.broadcast <- payload
}

// SubscriberCount reports the number of currently connected admin
// subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (s *Subscriber) readPump() {
	defer func() {
		s.hub.unregister <- s
		s.conn.Close()
	}()

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
		// Admin subscribers are receive-only; inbound frames are discarded.
	}
}

func (s *Subscriber) writePump() {
	defer s.conn.Close()

	for message := range s.send {
		if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	s.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
