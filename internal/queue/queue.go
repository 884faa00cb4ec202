package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	ring "github.com/eapache/queue"
)

var (
	// ErrClosed is returned by operations on a closed queue
	ErrClosed = errors.New("queue: closed")
)

// Queue is an unbounded multi-producer multi-consumer FIFO.
// Take blocks until an item arrives, the context is cancelled,
// the timeout elapses or the queue is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	items  *ring.Queue
	signal chan struct{}
	done   chan struct{}
	closed bool
}

// New creates an empty queue
func New[T any]() *Queue[T] {
	return &Queue[T]{
		items:  ring.New(),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Add appends item to the back of the queue
func (q *Queue[T]) Add(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items.Add(item)
	q.mu.Unlock()

	q.notify()
	return nil
}

// TrimFront removes items from the front while more than max remain and
// returns how many were dropped.
func (q *Queue[T]) TrimFront(max int) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for q.items.Length() > max {
		q.items.Remove()
		dropped++
	}
	return dropped
}

// TryTake removes the front item without blocking
func (q *Queue[T]) TryTake() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// Take removes the front item, waiting up to timeout for one to arrive.
// A timeout <= 0 waits until ctx is done. ok is false when nothing arrived
// in time; err is set when ctx was cancelled or the queue closed.
func (q *Queue[T]) Take(ctx context.Context, timeout time.Duration) (item T, ok bool, err error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return item, false, ErrClosed
		}
		item, ok = q.popLocked()
		remaining := q.items.Length()
		q.mu.Unlock()

		if ok {
			// pass the wakeup on to the next waiting consumer
			if remaining > 0 {
				q.notify()
			}
			return item, true, nil
		}

		select {
		case <-q.signal:
		case <-q.done:
			return item, false, ErrClosed
		case <-ctx.Done():
			return item, false, ctx.Err()
		case <-expired:
			return item, false, nil
		}
	}
}

// Clear drops every queued item and returns how many were removed
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.items.Length()
	q.items = ring.New()
	return n
}

// Len returns the number of queued items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Snapshot returns the queued items front to back without removing them
func (q *Queue[T]) Snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]T, 0, q.items.Length())
	for i := 0; i < q.items.Length(); i++ {
		items = append(items, q.items.Get(i).(T))
	}
	return items
}

// Close wakes all waiting consumers and rejects further adds. Queued items are dropped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.items = ring.New()
	close(q.done)
}

// IsClosed reports whether Close has been called
func (q *Queue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.items.Length() == 0 {
		return zero, false
	}
	return q.items.Remove().(T), true
}

func (q *Queue[T]) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
