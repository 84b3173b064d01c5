// Package ringbuf provides a fixed-capacity overwrite ring. Pushing into a
// full ring evicts the oldest element. It has a single owner and no locking.
package ringbuf

// Ring holds the most recent Cap() values in insertion order.
// Storage is rounded up to a power of two for bitwise modulo; the logical
// capacity stays exactly what was requested.
type Ring[T any] struct {
	buf   []T
	mask  uint64
	limit uint64

	head uint64 // next write position
	tail uint64 // oldest retained position

	evicted uint64
}

// New creates a ring holding up to capacity values. Minimum capacity is 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	size := nextPow2(capacity)
	return &Ring[T]{
		buf:   make([]T, size),
		mask:  uint64(size - 1),
		limit: uint64(capacity),
	}
}

// Push appends v, evicting the oldest value when the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.head-r.tail >= r.limit {
		var zero T
		r.buf[r.tail&r.mask] = zero
		r.tail++
		r.evicted++
	}
	r.buf[r.head&r.mask] = v
	r.head++
}

// At returns the i-th retained value, 0 being the oldest.
func (r *Ring[T]) At(i int) T {
	return r.buf[(r.tail+uint64(i))&r.mask]
}

// Last returns the most recently pushed value.
func (r *Ring[T]) Last() (T, bool) {
	if r.head == r.tail {
		var zero T
		return zero, false
	}
	return r.buf[(r.head-1)&r.mask], true
}

// Slice returns a copy of the retained values, oldest first.
func (r *Ring[T]) Slice() []T {
	out := make([]T, 0, r.Len())
	for i := r.tail; i < r.head; i++ {
		out = append(out, r.buf[i&r.mask])
	}
	return out
}

// Len returns the number of retained values.
func (r *Ring[T]) Len() int {
	return int(r.head - r.tail)
}

// Cap returns the logical capacity.
func (r *Ring[T]) Cap() int {
	return int(r.limit)
}

// Evicted returns how many values have been pushed out so far.
func (r *Ring[T]) Evicted() uint64 {
	return r.evicted
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
