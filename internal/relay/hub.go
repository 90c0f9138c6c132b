// Package relay broadcasts session events to websocket renderers and accepts
// their control commands.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/rbright/parley/internal/events"
)

const clientBuffer = 64

// envelope is the wire form of one event. Seq lets renderers detect drops.
type envelope struct {
	Seq uint64 `json:"seq"`
	events.Event
}

// Hub fans events out to subscribers. Slow subscribers lose messages rather
// than block the session.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	seq     uint64
	state   []byte
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[chan []byte]struct{})}
}

// Subscribe registers a client. The latest state event, if any, is queued
// first so late joiners render the current state.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	if h.state != nil {
		ch <- h.state
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish is an events.Listener.
func (h *Hub) Publish(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	payload, err := json.Marshal(envelope{Seq: h.seq, Event: ev})
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("relay event marshal failed", "type", string(ev.Type), "error", err.Error())
		}
		return
	}
	if ev.Type == events.TypeState {
		h.state = payload
	}

	for ch := range h.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		delete(h.clients, ch)
		close(ch)
	}
}
