package registry

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsPingInterval is how often the server sends WebSocket ping frames.
	wsPingInterval = 30 * time.Second
	// wsPongWait is the maximum time to wait for a pong from the peer.
	wsPongWait = 60 * time.Second
)

// StartKeepalive sets up WebSocket-level ping/pong on the connection. It sets
// a read deadline, installs a pong handler, and starts a goroutine that sends
// periodic pings, serialized with regular writes through the connection's
// mutex. The returned cancel function stops the ping goroutine.
func (c *Conn) StartKeepalive() (cancel func()) {
	_ = c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.mu.Lock()
				err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
				c.mu.Unlock()
				if err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}
