package metrics

import "sync"

// Ring is a thread-safe fixed-capacity buffer that evicts its oldest entry
// once full.
type Ring[T any] struct {
	data  []T
	size  int
	start int
	end   int
	full  bool
	mu    sync.RWMutex
}

// NewRing creates a ring holding at most size entries. A size below one is
// treated as one.
func NewRing[T any](size int) *Ring[T] {
	if size < 1 {
		size = 1
	}
	return &Ring[T]{
		data: make([]T, size),
		size: size,
	}
}

// Push appends v, overwriting the oldest entry when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.data[r.end] = v
	r.end = (r.end + 1) % r.size

	if r.full {
		r.start = (r.start + 1) % r.size
	}
	if r.end == r.start {
		r.full = true
	}
}

// Items returns the entries oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.data[(r.start+i)%r.size])
	}
	return out
}

// Last returns the newest entry.
func (r *Ring[T]) Last() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero T
	if r.lenLocked() == 0 {
		return zero, false
	}
	return r.data[(r.end-1+r.size)%r.size], true
}

// Len returns the number of entries held.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.size
}

func (r *Ring[T]) lenLocked() int {
	if r.full {
		return r.size
	}
	if r.end >= r.start {
		return r.end - r.start
	}
	return r.size - r.start + r.end
}

// Reset clears the ring.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.data {
		r.data[i] = zero
	}
	r.start = 0
	r.end = 0
	r.full = false
}
