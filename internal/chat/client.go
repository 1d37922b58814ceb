package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 2048                // Maximum event frame size allowed from peer.
	sendBuffer     = 256                 // Outbound frames queued per connection.
)

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// mu guards send and closed. Frames are queued from pump and loop
	// goroutines while teardown can close the channel at any moment, so
	// the flag must be checked and the send attempted under one lock.
	mu     sync.Mutex
	send   chan []byte
	closed bool

	// user is the authenticated identity from the upgrade. The registry
	// association still comes from the explicit join event.
	user string
}

func newClient(hub *Hub, conn *websocket.Conn, user string) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		user: user,
	}
}

// trySend queues a frame for the write pump without blocking and reports
// whether it was queued. False means the client is torn down or its buffer
// is full; the frame is dropped rather than wedging the caller.
func (c *Client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend tears down the outbound side exactly once. Idempotent and safe
// from any goroutine; a full-buffer drop and the disconnect teardown may
// both land here for the same client.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// readPump pumps frames from the websocket connection to the hub. One per
// connection; inbound events for a connection are handled in arrival order.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read", "user", c.user, "error", err)
			}
			break
		}
		c.hub.HandleEvent(c, raw)
	}
}

// writePump pumps frames from the hub to the websocket connection and keeps
// it alive with pings. One frame per websocket message so clients can parse
// each event envelope on its own.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
