package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/velar/ringline/internal/signaling/call"
)

const (
	// writeWait is the deadline for a single frame write
	writeWait = 10 * time.Second
	// pongWait is how long we wait for a pong before dropping the connection
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait
	pingPeriod = (pongWait * 9) / 10
	// maxInboundBytes bounds frames read from the client. Inbound frames
	// only feed liveness; signaling comes in over HTTP.
	maxInboundBytes = 4096
	// sendQueueSize is the per-client outbound buffer
	sendQueueSize = 64
)

// Client is one participant's websocket connection. Outbound payloads
// are enqueued on send and written by a single pump goroutine, so
// delivery order matches enqueue order.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	pid  call.ParticipantID

	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient wraps an upgraded connection for the given participant
func NewClient(hub *Hub, conn *websocket.Conn, pid call.ParticipantID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		pid:    pid,
		send:   make(chan []byte, sendQueueSize),
		closed: make(chan struct{}),
	}
}

// ParticipantID returns the identity bound to this connection
func (c *Client) ParticipantID() call.ParticipantID {
	return c.pid
}

// Run registers the client and services the connection until it drops.
// Blocks until the read side closes.
func (c *Client) Run() {
	c.hub.Register(c)
	go c.writePump()
	c.readPump()
}

// Enqueue queues one payload for delivery
func (c *Client) Enqueue(data []byte) error {
	select {
	case <-c.closed:
		return ErrNotConnected
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close tears down the connection; safe to call more than once
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}

// readPump drains inbound frames. Clients have nothing to say on this
// channel beyond keepalives, but any frame counts as liveness.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxInboundBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.activity(c.pid)
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("[WS] Read error", "participant", c.pid, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.activity(c.pid)
	}
}

// writePump is the sole writer on the connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("[WS] Write error", "participant", c.pid, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}
