// Package stream provides a small multi-consumer broadcast hub.
//
// Delivery is non-blocking with bounded per-subscriber buffers: a slow
// consumer drops values rather than stalling the publisher. Backpressure
// handling is explicitly out of scope.
package stream

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription is one consumer's handle on a hub. Values arrive on C; the
// channel is closed when the subscription is cancelled or the hub closes.
type Subscription[T any] struct {
	// C receives broadcast values.
	C <-chan T

	id  uuid.UUID
	hub *Hub[T]
}

// Cancel removes the subscription and closes C. Idempotent.
func (s *Subscription[T]) Cancel() {
	s.hub.cancel(s.id)
}

// Hub broadcasts values to any number of subscribers.
type Hub[T any] struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]chan T
	buffer  int
	closed  bool
	dropped int64
}

// NewHub creates a hub whose subscribers each buffer up to size values.
func NewHub[T any](size int) *Hub[T] {
	if size < 1 {
		size = 1
	}
	return &Hub[T]{
		subs:   make(map[uuid.UUID]chan T),
		buffer: size,
	}
}

// Subscribe registers a new consumer. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	ch := make(chan T, h.buffer)
	id := uuid.New()

	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subs[id] = ch
	}
	h.mu.Unlock()

	return &Subscription[T]{C: ch, id: id, hub: h}
}

// Publish broadcasts v to every subscriber without blocking. Values are
// dropped for subscribers whose buffers are full. Publishing to a closed
// hub is a no-op.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
			h.dropped++
		}
	}
}

// Close closes every subscriber channel and marks the hub closed. Idempotent.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// Dropped returns the number of values discarded due to full buffers.
func (h *Hub[T]) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

func (h *Hub[T]) cancel(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(ch)
}
