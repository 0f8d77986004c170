package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/entrycal/entrycal/server/realtime"
)

// conn adapts a gorilla websocket connection to realtime.Conn. Writes are
// serialized through a mutex because broadcasts and the session's own
// replies run on different goroutines, and every write carries a deadline
// so a dead peer fails the send instead of blocking it.
type conn struct {
	mu           sync.Mutex
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func newConn(ws *websocket.Conn, writeTimeout time.Duration) *conn {
	return &conn{ws: ws, writeTimeout: writeTimeout}
}

func (c *conn) Send(msg *realtime.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(msg)
}

func (c *conn) Close() error {
	return c.ws.Close()
}

// ping sends a websocket ping control frame.
func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// closeWithPolicyViolation tells the peer it is not allowed to subscribe,
// then drops the connection.
func (c *conn) closeWithPolicyViolation(reason string) {
	c.mu.Lock()
	data := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, data, time.Now().Add(c.writeTimeout))
	c.mu.Unlock()
	_ = c.ws.Close()
}
