// Package registry tracks live WebSocket connections by opaque identifier and
// performs best-effort directed sends to them.
package registry

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Conn is a registered connection. All writes to the underlying socket go
// through the connection's mutex so concurrent sends stay ordered per peer.
type Conn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

// ID returns the connection identifier supplied at registration.
func (c *Conn) ID() string { return c.id }

// Send marshals payload and writes it as a single text frame.
func (c *Conn) Send(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Registry maps connection identifiers to live connections.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*Conn
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "registry"),
		conns:  make(map[string]*Conn),
	}
}

// Register binds id to ws and returns the registered connection. If id is
// already registered the previous socket is closed and replaced; its
// disconnect path then unregisters as a no-op because the identifier has
// been taken over.
func (r *Registry) Register(id string, ws *websocket.Conn) *Conn {
	c := &Conn{id: id, ws: ws}

	r.mu.Lock()
	if existing, ok := r.conns[id]; ok {
		r.logger.Warn("connection reconnect: closing previous socket", "conn_id", id)
		_ = existing.ws.Close()
	}
	r.conns[id] = c
	r.mu.Unlock()

	return c
}

// Unregister removes the registration for c's identifier and reports whether
// c was the current registration. It returns false without touching the table
// when the identifier is unknown or has since been re-registered by a newer
// connection, so a stale connection's cleanup can tell it lost a takeover. It
// is safe to call while sends for the same identifier are in flight.
func (r *Registry) Unregister(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[c.id]; ok && cur == c {
		delete(r.conns, c.id)
		return true
	}
	return false
}

// SendTo writes payload to the connection registered under id. Unknown ids
// and transport write failures are dropped: delivery is fire-and-forget and
// callers must not assume it happened.
func (r *Registry) SendTo(id string, payload any) {
	r.mu.RLock()
	c, ok := r.conns[id]
	r.mu.RUnlock()

	if !ok {
		r.logger.Debug("dropping send to unknown connection", "conn_id", id)
		return
	}
	if err := c.Send(payload); err != nil {
		r.logger.Debug("send failed", "conn_id", id, "error", err)
	}
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
