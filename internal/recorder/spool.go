package recorder

import (
	"sync"
)

// Spool is a thread-safe ring buffer that doubles its capacity when full.
// It absorbs inbound bursts so the stream subscription channels never back
// up while a database flush is in progress.
type Spool[T any] struct {
	mu       sync.Mutex
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// Stats
	enqueued int64
	dequeued int64
	grows    int
}

// NewSpool creates a spool with the given initial capacity.
func NewSpool[T any](initialCapacity int) *Spool[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	return &Spool[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
}

// Put adds an item, growing the spool if it is full.
// Returns false if the spool is closed.
func (s *Spool[T]) Put(item T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if s.count == s.capacity {
		s.grow()
	}

	s.buf[s.tail] = item
	s.tail = (s.tail + 1) % s.capacity
	s.count++
	s.enqueued++
	return true
}

// Drain removes and returns up to max items, oldest first.
// A max of 0 or less drains everything.
func (s *Spool[T]) Drain(max int) []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil
	}

	n := s.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := 0; i < n; i++ {
		result[i] = s.buf[s.head]
		var zero T
		s.buf[s.head] = zero // Clear reference for GC
		s.head = (s.head + 1) % s.capacity
		s.count--
		s.dequeued++
	}

	return result
}

// Close closes the spool. After closing, Put returns false.
// Items already spooled remain drainable.
func (s *Spool[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Len returns the current number of spooled items.
func (s *Spool[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Cap returns the current capacity.
func (s *Spool[T]) Cap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity
}

// Stats returns spool statistics.
func (s *Spool[T]) Stats() SpoolStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SpoolStats{
		Pending:  s.count,
		Capacity: s.capacity,
		Enqueued: s.enqueued,
		Dequeued: s.dequeued,
		Grows:    s.grows,
	}
}

// SpoolStats contains spool statistics.
type SpoolStats struct {
	Pending  int
	Capacity int
	Enqueued int64
	Dequeued int64
	Grows    int
}

// grow doubles the capacity. Must be called with lock held.
func (s *Spool[T]) grow() {
	newCapacity := s.capacity * 2
	newBuf := make([]T, newCapacity)

	if s.count > 0 {
		if s.head < s.tail {
			copy(newBuf, s.buf[s.head:s.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, s.buf[s.head:])
			copy(newBuf[n:], s.buf[:s.tail])
		}
	}

	s.buf = newBuf
	s.head = 0
	s.tail = s.count
	s.capacity = newCapacity
	s.grows++
}
