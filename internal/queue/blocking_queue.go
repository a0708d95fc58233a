package queue

import (
	"context"
	"sync/atomic"
	"time"
)

// BlockingQueue is an unbounded FIFO whose Put never blocks and whose Take
// blocks until an item is available.
//
// Any number of producers may call Put concurrently; Take and Poll are meant
// for a single consumer.
type BlockingQueue[T any] struct {
	q      Queue[T]
	signal chan struct{}
	closed atomic.Bool
}

// NewBlockingQueue creates an empty BlockingQueue.
func NewBlockingQueue[T any]() *BlockingQueue[T] {
	return &BlockingQueue[T]{
		q:      NewLockFreeQueue[T](),
		signal: make(chan struct{}, 1),
	}
}

// Put appends item to the queue. It returns false if the queue is closed.
func (b *BlockingQueue[T]) Put(item T) bool {
	if b.closed.Load() {
		return false
	}

	b.q.Enqueue(item)
	select {
	case b.signal <- struct{}{}:
	default:
	}

	return true
}

// Take removes the head item, waiting until one is available or ctx is done.
func (b *BlockingQueue[T]) Take(ctx context.Context) (T, bool) {
	for {
		if item, ok := b.q.Dequeue(); ok {
			return item, true
		}

		select {
		case <-b.signal:
		case <-ctx.Done():
			var zero T
			return zero, false
		}
	}
}

// Poll removes the head item, waiting at most timeout for one to arrive.
func (b *BlockingQueue[T]) Poll(timeout time.Duration) (T, bool) {
	if item, ok := b.q.Dequeue(); ok {
		return item, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-b.signal:
			if item, ok := b.q.Dequeue(); ok {
				return item, true
			}
		case <-timer.C:
			return b.q.Dequeue()
		}
	}
}

// Close rejects further Puts. Items already queued stay available.
func (b *BlockingQueue[T]) Close() {
	b.closed.Store(true)
}

// Len returns the number of queued items.
func (b *BlockingQueue[T]) Len() int {
	return b.q.Length()
}
