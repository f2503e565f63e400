package statez

import "sync"

// ring is a thread-safe bounded buffer that evicts its oldest entry when
// full. It backs both the asynchronous error history and undo history.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T
	size  int
	head  int
	count int
}

// newRing creates a ring with the given capacity.
// If size is 0 or negative, the ring is disabled and newRing returns nil.
func newRing[T any](size int) *ring[T] {
	if size <= 0 {
		return nil
	}
	return &ring[T]{
		items: make([]T, size),
		size:  size,
	}
}

// push appends v, evicting the oldest entry when the ring is full.
// It reports whether an entry was evicted.
func (r *ring[T]) push(v T) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := r.count == r.size
	r.items[r.head] = v
	r.head = (r.head + 1) % r.size
	if !evicted {
		r.count++
	}
	return evicted
}

// pop removes and returns the newest entry.
func (r *ring[T]) pop() (T, bool) {
	var zero T
	if r == nil {
		return zero, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return zero, false
	}
	r.head = (r.head - 1 + r.size) % r.size
	v := r.items[r.head]
	r.items[r.head] = zero
	r.count--
	return v, true
}

// len returns the number of entries held.
func (r *ring[T]) len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// clear removes all entries.
func (r *ring[T]) clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.count = 0
}

// reset replaces the contents with values, oldest first. Only the newest
// entries are kept when values exceeds the capacity.
func (r *ring[T]) reset(values []T) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	if len(values) > r.size {
		values = values[len(values)-r.size:]
	}
	copy(r.items, values)
	r.count = len(values)
	r.head = r.count % r.size
}

// all returns all entries, oldest first.
func (r *ring[T]) all() []T {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	result := make([]T, r.count)
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		result[i] = r.items[(start+i)%r.size]
	}
	return result
}
