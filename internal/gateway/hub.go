// Package gateway streams signal and hydration events to WebSocket
// clients on /ws/stream.
package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Hub manages WebSocket clients and fans events out to them.
type Hub struct {
	Log *slog.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
}

// NewHub creates an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		Log:     log,
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
	}
}

// Broadcast envelopes data on a channel and sends it to every client.
// Slow clients drop messages rather than blocking the sender. The last
// envelope per channel is retained and replayed to new clients.
func (h *Hub) Broadcast(channel string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	now := time.Now().UTC()

	h.mu.Lock()
	h.latest[channel] = latestEntry{Data: payload, TS: now}
	h.seq++
	seq := h.seq
	h.mu.Unlock()

	envelope, err := json.Marshal(map[string]any{
		"channel": channel,
		"data":    json.RawMessage(payload),
		"ts":      now.Format(time.RFC3339Nano),
		"seq":     seq,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- envelope:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}
