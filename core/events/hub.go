package events

import (
	"sync"
)

const defaultSubscriberBuffer = 64

// Hub is an Emitter that relays events to live subscribers. Slow subscribers
// drop events rather than blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan Event
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a new listener. The returned cancel function removes the
// listener and closes its channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, defaultSubscriberBuffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Emit implements Emitter.
func (h *Hub) Emit(evt Event) {
	if evt == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribers reports the number of registered listeners.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
