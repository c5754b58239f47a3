package pipeline

import (
	"sync"

	"github.com/google/uuid"
)

// hub fans values out to subscribers without blocking the publisher. A
// subscriber that falls behind misses values.
type hub[T any] struct {
	mu     sync.Mutex
	subs   map[string]chan T
	closed bool
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[string]chan T)}
}

func (h *hub[T]) subscribe(buffer int) (string, <-chan T) {
	id := uuid.NewString()
	ch := make(chan T, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subs[id] = ch
	return id, ch
}

func (h *hub[T]) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

func (h *hub[T]) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}
