// Package memory provides the in-process work queue feeding the worker pool.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/reposync/internal/catalog"
)

// ErrClosed is returned by queue operations after Close.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded multi-producer multi-consumer queue with
// context-aware operations. It tracks every item from Enqueue until Done so
// Drain can wait for processing, not just dequeueing.
type Queue struct {
	ch   chan catalog.QueueItem
	done chan struct{}

	mu      sync.Mutex
	closed  bool
	nextSeq uint64
	pending map[uint64]struct{}
	changed chan struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:      make(chan catalog.QueueItem, capacity),
		done:    make(chan struct{}),
		pending: make(map[uint64]struct{}),
		changed: make(chan struct{}),
	}
}

// Enqueue assigns the item a sequence number and pushes it, blocking while
// the queue is full or until the context ends.
func (q *Queue) Enqueue(ctx context.Context, item catalog.QueueItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.nextSeq++
	item.Seq = q.nextSeq
	q.pending[item.Seq] = struct{}{}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.Done(item)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (catalog.QueueItem, error) {
	select {
	case <-ctx.Done():
		return catalog.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return catalog.QueueItem{}, ErrClosed
	case item := <-q.ch:
		return item, nil
	}
}

// Done marks a dequeued item as fully processed.
func (q *Queue) Done(item catalog.QueueItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[item.Seq]; !ok {
		return
	}
	delete(q.pending, item.Seq)
	q.notifyLocked()
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Drain blocks until every item enqueued before the call has been marked
// Done. Items enqueued afterwards are not waited for.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	barrier := q.nextSeq
	q.mu.Unlock()
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		waiting := false
		for seq := range q.pending {
			if seq <= barrier {
				waiting = true
				break
			}
		}
		changed := q.changed
		q.mu.Unlock()
		if !waiting {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain canceled: %w", ctx.Err())
		case <-changed:
		}
	}
}

// Len reports the number of items waiting to be dequeued.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Pending reports the number of items enqueued but not yet Done.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops the queue. Blocked callers return ErrClosed and queued items
// are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
	q.pending = make(map[uint64]struct{})
	q.notifyLocked()
}
