package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/clipcoach/internal/session"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast drops the message for clients whose buffer is full.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Publish forwards a session event to every subscriber.
func (h *Hub) Publish(evt session.Event) {
	h.broadcastEvent(newSessionEvent(evt))
}

func (h *Hub) BroadcastAutoChanged(auto bool) {
	h.broadcastEvent(AutoChangedEvent{
		Event: newEvent("auto-changed", time.Now().UTC()),
		Auto:  auto,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Warn("event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}
