// Package realtime provides in-session notification delivery over WebSocket.
package realtime

import (
	"log/slog"
	"sync"
)

// Message is the envelope pushed to connected sessions.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub tracks active sessions per recipient and pushes messages to them.
// A recipient may hold several sessions at once; a publish reaches all of
// them.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	closed  bool
}

// NewHub creates a new hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		close(c.send)
		return
	}

	set, ok := h.clients[c.recipient]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.recipient] = set
	}
	set[c] = struct{}{}

	slog.Debug("realtime session connected", "recipient", c.recipient, "sessions", len(set))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.clients[c.recipient]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}

	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.recipient)
	}

	slog.Debug("realtime session disconnected", "recipient", c.recipient, "sessions", len(set))
}

// Publish pushes a message to every active session of the recipient. It
// returns the number of sessions that accepted the message; zero means
// the recipient is offline or every session buffer is full.
func (h *Hub) Publish(recipient string, msg Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.clients[recipient] {
		select {
		case c.send <- msg:
			delivered++
		default:
			// Session buffer full, drop rather than block the publisher.
		}
	}
	return delivered
}

// Online reports whether the recipient has at least one active session.
func (h *Hub) Online(recipient string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[recipient]) > 0
}

// Sessions returns the total number of active sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}

// Close disconnects every session. Further registrations are rejected.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for recipient, set := range h.clients {
		for c := range set {
			close(c.send)
		}
		delete(h.clients, recipient)
	}

	slog.Info("realtime hub closed")
}
