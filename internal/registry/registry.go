// Package registry is the in-process map of live sockets and their bound
// agents, modeled on the teacher's mcp.ConnectionManager (map + RWMutex +
// connect/disconnect callbacks) but keyed by connection_id instead of
// agent_id, with an explicit agent-binding field and the auto-bind rule
// the broker's dispatcher relies on at accept time.
package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
)

const sendBufferSize = 64

// Allowlist reports whether agentID is permitted to bind. A nil Allowlist
// means allow-all.
type Allowlist func(agentID string) bool

// Conn wraps one live WebSocket with its registry-assigned connection id
// and bound agent id (empty until assigned). Sends are queued and written by
// the single WritePump goroutine, so frames never interleave on the wire.
type Conn struct {
	ConnectionID string
	AgentID      string // empty until bound

	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex
}

func newConn(connectionID string, ws *websocket.Conn) *Conn {
	return &Conn{
		ConnectionID: connectionID,
		conn:         ws,
		send:         make(chan []byte, sendBufferSize),
	}
}

// SendJSON marshals v and queues it for delivery on this socket's writer
// goroutine.
func (c *Conn) SendJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("registry: marshal message: %w", err)
	}
	select {
	case c.send <- data:
		return nil
	default:
		return fmt.Errorf("registry: send buffer full for %s", c.ConnectionID)
	}
}

// WritePump drains the send channel to the underlying socket until it is
// closed, matching the teacher's Client.writePump loop.
func (c *Conn) WritePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, message)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Registry tracks live sockets by connection_id and their agent bindings.
type Registry struct {
	mu          sync.RWMutex
	conns       map[string]*Conn
	store       storeOps
	onConnect   func(connectionID, agentID string)
	onPending   func(connectionID string)
	onDisconnect func(connectionID, agentID string)
}

// storeOps is the Store surface the registry drives directly.
type storeOps interface {
	RegisterConnection(connectionID, ipAddress string) error
	BindConnection(connectionID, agentID string) error
	RejectConnection(connectionID string) error
	Disconnect(connectionID string) error
	AgentExists(agentID string) (bool, error)
	TouchLastSeen(agentID string) error
}

// New constructs a Registry backed by store.
func New(store storeOps) *Registry {
	return &Registry{
		conns: make(map[string]*Conn),
		store: store,
	}
}

// OnConnect registers the callback fired after a connection is bound to an
// agent (either by auto-bind or administrative assignment).
func (r *Registry) OnConnect(fn func(connectionID, agentID string)) { r.onConnect = fn }

// OnPending registers the callback fired when a connection is accepted but
// left unbound (no matching agent row).
func (r *Registry) OnPending(fn func(connectionID string)) { r.onPending = fn }

// OnDisconnect registers the callback fired when a bound connection is torn
// down.
func (r *Registry) OnDisconnect(fn func(connectionID, agentID string)) { r.onDisconnect = fn }

// Accept registers a newly-opened WebSocket under connectionID, performing
// the auto-bind rule: if an agent row already exists with agent_id ==
// connectionID, the connection is immediately marked assigned and bound to
// that agent; otherwise it is left pending with no in-memory binding.
//
// When allow is non-nil and the candidate agent id is not permitted, the
// connection is rejected and the caller should close the socket.
func (r *Registry) Accept(connectionID, ipAddress string, ws *websocket.Conn, allow Allowlist) (*Conn, error) {
	if err := r.store.RegisterConnection(connectionID, ipAddress); err != nil {
		return nil, fmt.Errorf("registry: register connection: %w", err)
	}

	c := newConn(connectionID, ws)

	exists, err := r.store.AgentExists(connectionID)
	if err != nil {
		return nil, fmt.Errorf("registry: check agent existence: %w", err)
	}

	if exists {
		if allow != nil && !allow(connectionID) {
			if err := r.store.RejectConnection(connectionID); err != nil {
				return nil, fmt.Errorf("registry: reject connection: %w", err)
			}
			return nil, errRejected(connectionID)
		}

		if err := r.store.BindConnection(connectionID, connectionID); err != nil {
			return nil, fmt.Errorf("registry: auto-bind: %w", err)
		}
		if err := r.store.TouchLastSeen(connectionID); err != nil {
			return nil, fmt.Errorf("registry: touch last seen: %w", err)
		}
		c.AgentID = connectionID

		r.mu.Lock()
		r.conns[connectionID] = c
		r.mu.Unlock()

		if r.onConnect != nil {
			r.onConnect(connectionID, connectionID)
		}
		return c, nil
	}

	r.mu.Lock()
	r.conns[connectionID] = c
	r.mu.Unlock()

	if r.onPending != nil {
		r.onPending(connectionID)
	}
	return c, nil
}

// Assign binds an already-accepted connection to agentID, used by the
// AdminAPI's explicit assign action. Idempotent: assigning an already-bound
// pair is a no-op at the Store layer.
func (r *Registry) Assign(connectionID, agentID string) error {
	if err := r.store.BindConnection(connectionID, agentID); err != nil {
		return fmt.Errorf("registry: assign: %w", err)
	}

	r.mu.Lock()
	if c, ok := r.conns[connectionID]; ok {
		c.AgentID = agentID
	}
	r.mu.Unlock()

	if r.onConnect != nil {
		r.onConnect(connectionID, agentID)
	}
	return nil
}

// Remove tears down a connection: closes its send channel and clears the
// binding in the Store.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	c, ok := r.conns[connectionID]
	if ok {
		delete(r.conns, connectionID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	close(c.send)

	if err := r.store.Disconnect(connectionID); err != nil {
		return
	}

	if c.AgentID != "" && r.onDisconnect != nil {
		r.onDisconnect(connectionID, c.AgentID)
	}
}

// Get returns the live connection for connectionID, if any.
func (r *Registry) Get(connectionID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connectionID]
	return c, ok
}

// AgentIDFor returns the agent bound to connectionID, or "" if unbound.
func (r *Registry) AgentIDFor(connectionID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.conns[connectionID]; ok {
		return c.AgentID
	}
	return ""
}

// All returns a snapshot of every live connection.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

type rejectedError struct {
	connectionID string
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("registry: connection %s rejected: not allowlisted", e.connectionID)
}

func errRejected(connectionID string) error { return &rejectedError{connectionID: connectionID} }

// IsRejected reports whether err denotes an allowlist rejection.
func IsRejected(err error) bool {
	_, ok := err.(*rejectedError)
	return ok
}
