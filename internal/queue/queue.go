// Package queue implements the worker's peer-install work queue: a FIFO
// augmented with a presence set so a duplicate (domain, pubkey) pair is
// silently dropped while already queued.
package queue

import (
	"context"
	"sync"

	"wgkex/internal/model"
)

// Item identifies one peer-install job.
type Item struct {
	Domain model.Domain
	Pubkey model.PublicKey
}

// UniqueQueue is a FIFO of Items that refuses to enqueue an Item already
// present and not yet taken. Safe for concurrent producers and a single
// (or multiple) consumer.
type UniqueQueue struct {
	mu       sync.Mutex
	notEmpty chan struct{}
	order    []Item
	present  map[Item]struct{}
}

// New returns an empty UniqueQueue.
func New() *UniqueQueue {
	return &UniqueQueue{
		notEmpty: make(chan struct{}, 1),
		present:  map[Item]struct{}{},
	}
}

// Enqueue adds item unless it is already queued; returns true if it was
// added.
func (q *UniqueQueue) Enqueue(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.present[item]; ok {
		return false
	}
	q.present[item] = struct{}{}
	q.order = append(q.order, item)

	select {
	case q.notEmpty <- struct{}{}:
	default:
	}
	return true
}

// TryTake removes and returns the oldest item without blocking. ok is
// false if the queue was empty.
func (q *UniqueQueue) TryTake() (item Item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked()
}

func (q *UniqueQueue) takeLocked() (Item, bool) {
	if len(q.order) == 0 {
		return Item{}, false
	}
	item := q.order[0]
	q.order = q.order[1:]
	delete(q.present, item)
	return item, true
}

// Take blocks until an item is available or ctx is done.
func (q *UniqueQueue) Take(ctx context.Context) (Item, bool) {
	for {
		if item, ok := q.TryTake(); ok {
			return item, true
		}
		select {
		case <-q.notEmpty:
			continue
		case <-ctx.Done():
			return Item{}, false
		}
	}
}

// Len reports the current queue depth.
func (q *UniqueQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}
