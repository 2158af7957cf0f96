package queue

import (
	"sync"
)

// Queue is a generic thread-safe FIFO that holds each item at most once.
// Pushing an item that is already queued keeps its original position.
type Queue[T comparable] struct {
	mu    sync.Mutex
	items []T
	index map[T]struct{}
}

// New creates a new empty queue.
func New[T comparable]() *Queue[T] {
	return &Queue[T]{
		items: make([]T, 0),
		index: make(map[T]struct{}),
	}
}

// Push appends the items not already queued.
func (q *Queue[T]) Push(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range items {
		if _, ok := q.index[item]; ok {
			continue
		}
		q.index[item] = struct{}{}
		q.items = append(q.items, item)
	}
}

// Len returns the number of items in the queue.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear removes all items from the queue.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.items[:0]
	q.index = make(map[T]struct{})
}

// GetAndEmpty returns all items and clears the queue.
func (q *Queue[T]) GetAndEmpty() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := q.items
	q.items = make([]T, 0, cap(q.items))
	q.index = make(map[T]struct{})
	return result
}
