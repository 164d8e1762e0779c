// Package ws is the outbound delivery transport: one websocket per
// participant, with a per-connection FIFO send queue. The relay enqueues
// here; actual media never touches this process.
package ws

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/velar/ringline/internal/signaling/call"
)

// Transport-level errors reported back to the relay
var (
	// ErrNotConnected indicates the participant has no live websocket
	ErrNotConnected = errors.New("participant not connected")
	// ErrSendQueueFull indicates the client is too slow to drain its queue
	ErrSendQueueFull = errors.New("send queue full")
)

// Hub tracks connected participants and routes outbound payloads to
// their connections. It implements the relay's Transport.
type Hub struct {
	mu      sync.RWMutex
	clients map[call.ParticipantID]*Client

	// onActivity is called whenever a participant's connection shows
	// life (inbound frame, pong). Wired to session liveness.
	onActivity func(pid call.ParticipantID)
	// onDisconnect is called after a participant's connection is gone
	onDisconnect func(pid call.ParticipantID)
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{clients: make(map[call.ParticipantID]*Client)}
}

// SetOnActivity sets the liveness callback
func (h *Hub) SetOnActivity(fn func(pid call.ParticipantID)) {
	h.onActivity = fn
}

// SetOnDisconnect sets the disconnect callback
func (h *Hub) SetOnDisconnect(fn func(pid call.ParticipantID)) {
	h.onDisconnect = fn
}

// Register attaches a client, replacing any previous connection for the
// same participant (last writer wins; the old socket is closed).
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.pid]
	h.clients[c.pid] = c
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	slog.Info("[WS] Client registered", "participant", c.pid)
}

// Unregister detaches a client if it is still the current connection
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current := h.clients[c.pid] == c
	if current {
		delete(h.clients, c.pid)
	}
	h.mu.Unlock()

	if !current {
		return
	}
	slog.Info("[WS] Client unregistered", "participant", c.pid)
	if h.onDisconnect != nil {
		h.onDisconnect(c.pid)
	}
}

// Deliver enqueues a payload for one participant. Enqueue order is the
// delivery order for that participant. A slow client that cannot drain
// its queue is disconnected rather than blocking the caller.
func (h *Hub) Deliver(pid call.ParticipantID, data []byte) error {
	h.mu.RLock()
	c := h.clients[pid]
	h.mu.RUnlock()

	if c == nil {
		return ErrNotConnected
	}
	if err := c.Enqueue(data); err != nil {
		slog.Warn("[WS] Dropping slow client", "participant", pid)
		c.Close()
		return err
	}
	return nil
}

// Connected reports whether the participant has a live connection
func (h *Hub) Connected(pid call.ParticipantID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[pid]
	return ok
}

// Len returns the number of connected participants
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[call.ParticipantID]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}

func (h *Hub) activity(pid call.ParticipantID) {
	if h.onActivity != nil {
		h.onActivity(pid)
	}
}
