package pipeline

// boundedQueue keeps the newest cap values in insertion order
type boundedQueue[T any] struct {
	items []T
	cap   int
}

func newBoundedQueue[T any](capacity int) *boundedQueue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &boundedQueue[T]{items: make([]T, 0, capacity), cap: capacity}
}

// Push appends v, evicting the oldest value when full
func (q *boundedQueue[T]) Push(v T) {
	if len(q.items) == q.cap {
		copy(q.items, q.items[1:])
		q.items[len(q.items)-1] = v
		return
	}
	q.items = append(q.items, v)
}

func (q *boundedQueue[T]) Len() int { return len(q.items) }

// FromEnd returns the k-th most recent value, k=1 being the newest
func (q *boundedQueue[T]) FromEnd(k int) T {
	return q.items[len(q.items)-k]
}

// Values returns a copy, oldest first
func (q *boundedQueue[T]) Values() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

// Tail returns a copy of the newest n values, oldest first
func (q *boundedQueue[T]) Tail(n int) []T {
	if n > len(q.items) {
		n = len(q.items)
	}
	out := make([]T, n)
	copy(out, q.items[len(q.items)-n:])
	return out
}

func (q *boundedQueue[T]) Clear() {
	q.items = q.items[:0]
}
