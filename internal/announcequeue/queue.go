// Package announcequeue holds blobs waiting to be announced.
//
// Queue is a double ended queue of pending entries plus a staging list of hashes that
// are submitted between announce cycles. Every operation takes the lock given to New.
// The lock is usually shared with the owner of the queue, so it must not be held by the
// caller while calling a Queue method.
package announcequeue

import "sync"

// Queue is an ordered list of pending entries and an unordered list of staged hashes.
type Queue[T any] struct {
	mu     sync.Locker
	items  deque[T]
	staged []string
}

// New returns an empty Queue that synchronizes with mu.
func New[T any](mu sync.Locker) *Queue[T] {
	return &Queue[T]{mu: mu}
}

// PushFront inserts items at the front of the queue.
// Items keep their relative order, so items[0] is popped first.
// It returns the length of the queue after the insert.
func (q *Queue[T]) PushFront(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := len(items) - 1; i >= 0; i-- {
		q.items.pushFront(items[i])
	}
	return q.items.len()
}

// PushBack appends items at the end of the queue.
// It returns the length of the queue after the insert.
func (q *Queue[T]) PushBack(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range items {
		q.items.pushBack(it)
	}
	return q.items.len()
}

// PopFront removes and returns the first item of the queue.
func (q *Queue[T]) PopFront() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.popFront()
}

// Len returns the number of items in the queue. Staged hashes are not counted.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.len()
}

// Stage appends hashes to the staging list without touching the queue.
func (q *Queue[T]) Stage(hashes ...string) {
	q.mu.Lock()
	q.staged = append(q.staged, hashes...)
	q.mu.Unlock()
}

// DrainStaged empties the staging list and returns its contents.
// Hashes are returned last in first out: the most recently staged hash comes first.
func (q *Queue[T]) DrainStaged() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.staged) == 0 {
		return nil
	}
	hashes := make([]string, 0, len(q.staged))
	for len(q.staged) > 0 {
		last := len(q.staged) - 1
		hashes = append(hashes, q.staged[last])
		q.staged = q.staged[:last]
	}
	q.staged = nil
	return hashes
}

// StagedLen returns the number of staged hashes.
func (q *Queue[T]) StagedLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.staged)
}
