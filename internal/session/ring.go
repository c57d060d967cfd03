package session

import "github.com/eapache/queue"

// Ring is a fixed-capacity FIFO. Pushing onto a full ring evicts the oldest
// element. It is not safe for concurrent use.
type Ring[T any] struct {
	q   *queue.Queue
	cap int
}

// NewRing creates a ring holding at most capacity elements. A capacity below
// one is treated as one.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{q: queue.New(), cap: capacity}
}

// Push appends v, dropping the oldest elements until the ring fits its capacity.
func (r *Ring[T]) Push(v T) {
	r.q.Add(v)
	for r.q.Length() > r.cap {
		r.q.Remove()
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return r.q.Length()
}

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int {
	return r.cap
}

// At returns the i-th element, oldest first. Negative indices count back
// from the newest element. It panics when i is out of range.
func (r *Ring[T]) At(i int) T {
	return r.q.Get(i).(T)
}

// Items returns a copy of the buffered elements, oldest first.
func (r *Ring[T]) Items() []T {
	out := make([]T, r.q.Length())
	for i := range out {
		out[i] = r.q.Get(i).(T)
	}
	return out
}

// Clear drops every element.
func (r *Ring[T]) Clear() {
	r.q = queue.New()
}
