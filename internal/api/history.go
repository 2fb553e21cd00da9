package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/energizer-project/chatforwarder/internal/events"
)

// History keeps the most recent received messages in memory.
type History struct {
	mu    sync.Mutex
	items []events.MessageReceived
	next  int
	full  bool
}

// NewHistory creates a history holding up to size messages.
func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{items: make([]events.MessageReceived, size)}
}

// Add appends m, evicting the oldest message when full.
func (h *History) Add(m events.MessageReceived) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.next] = m
	h.next = (h.next + 1) % len(h.items)
	if h.next == 0 {
		h.full = true
	}
}

// Len returns the number of stored messages.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.items)
	}
	return h.next
}

// Cap returns the maximum number of stored messages.
func (h *History) Cap() int {
	return len(h.items)
}

// Recent returns up to limit messages, oldest first.
func (h *History) Recent(limit int) []events.MessageReceived {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.full {
		n = len(h.items)
	}
	if limit <= 0 || limit > n {
		limit = n
	}

	out := make([]events.MessageReceived, 0, limit)
	start := h.next - limit
	for i := 0; i < limit; i++ {
		idx := (start + i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

// Subscribe adds every received message on bus to the history.
func (h *History) Subscribe(bus *events.Bus) {
	bus.Subscribe(events.EventMessageReceived, "api.history", func(ctx context.Context, e events.Event) error {
		m, ok := e.Payload.(events.MessageReceived)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		h.Add(m)
		return nil
	})
}
