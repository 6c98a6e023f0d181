package cache

import "time"

// entry is one cached value together with its absolute deadline.
// index is the entry's position in the deadline heap.
type entry[T any] struct {
	key      string
	value    T
	deadline time.Time
	index    int
}

// expiredAt reports whether the entry's deadline has passed at now.
func (e *entry[T]) expiredAt(now time.Time) bool {
	return !e.deadline.After(now)
}

// deadlineHeap orders entries by deadline, earliest first.
// It implements container/heap.Interface.
type deadlineHeap[T any] []*entry[T]

func (h deadlineHeap[T]) Len() int { return len(h) }

func (h deadlineHeap[T]) Less(i, j int) bool {
	return h[i].deadline.Before(h[j].deadline)
}

func (h deadlineHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap[T]) Push(x any) {
	e := x.(*entry[T])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *deadlineHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
