// Package ringbuf provides a fixed-capacity FIFO ring buffer. When the ring
// is full a Push evicts the oldest element. All methods are safe for
// concurrent use: the pipeline appends while display and session code read.
package ringbuf

import "sync"

// Ring is a bounded FIFO of T values with explicit eviction.
type Ring[T any] struct {
	mu   sync.RWMutex
	buf  []T
	pos  int // next write position
	size int
}

// New creates a ring holding at most capacity elements. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest element when the ring is full.
// It returns the evicted element and true if an eviction happened.
func (r *Ring[T]) Push(v T) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var old T
	evicted := false
	if r.size == len(r.buf) {
		old = r.buf[r.pos]
		evicted = true
	} else {
		r.size++
	}
	r.buf[r.pos] = v
	r.pos = (r.pos + 1) % len(r.buf)
	return old, evicted
}

// Snapshot returns a copy of the contents, oldest first.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[r.index(i)]
	}
	return out
}

// Last returns the newest element, or false if the ring is empty.
func (r *Ring[T]) Last() (T, bool) {
	return r.FromEnd(0)
}

// FromEnd returns the element n positions back from the newest
// (0 = newest, 1 = the one before it).
func (r *Ring[T]) FromEnd(n int) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if n < 0 || n >= r.size {
		return zero, false
	}
	return r.buf[r.index(r.size-1-n)], true
}

// LastTwo returns the two newest elements as (previous, newest). ok is
// false when fewer than two elements are stored. Both are read under a
// single lock so a concurrent Push cannot split the pair.
func (r *Ring[T]) LastTwo() (prev, cur T, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.size < 2 {
		return prev, cur, false
	}
	return r.buf[r.index(r.size-2)], r.buf[r.index(r.size-1)], true
}

// Reset drops every element. The eviction counter is kept.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.pos = 0
	r.size = 0
}

// Len returns the current number of elements.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// index converts a logical index (0 = oldest) to a physical one.
// Caller holds the lock.
func (r *Ring[T]) index(logical int) int {
	start := r.pos - r.size
	if start < 0 {
		start += len(r.buf)
	}
	return (start + logical) % len(r.buf)
}
