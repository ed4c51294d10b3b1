package router

import (
	"context"
	"sync"
)

// growPercent is the fill level at which a Queue doubles its ring.
const growPercent = 70

// Queue is a FIFO of notifications for consumers that read at their own
// pace. The ring doubles when it passes growPercent full. A bounded queue
// stops growing at its limit and evicts the oldest item for each new one.
// Send never blocks.
type Queue[T any] struct {
	mu     sync.Mutex
	ready  *sync.Cond
	ring   []T
	head   int
	size   int
	limit  int // 0 = unbounded
	closed bool

	stats QueueStats
}

// QueueStats contains queue statistics.
type QueueStats struct {
	Len     int
	Cap     int
	Pushed  int64
	Popped  int64
	Evicted int64
	Grows   int
}

// NewQueue creates an unbounded queue.
func NewQueue[T any](initialCapacity int) *Queue[T] {
	return NewBoundedQueue[T](initialCapacity, 0)
}

// NewBoundedQueue creates a queue holding at most limit items. limit <= 0
// means unbounded.
func NewBoundedQueue[T any](initialCapacity, limit int) *Queue[T] {
	initialCapacity = max(initialCapacity, 1)
	if limit > 0 {
		initialCapacity = min(initialCapacity, limit)
	}
	q := &Queue[T]{
		ring:  make([]T, initialCapacity),
		limit: max(limit, 0),
	}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Send appends item, evicting the oldest when a bounded queue is full.
// Returns false once the queue is closed.
func (q *Queue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if (q.size+1)*100 >= len(q.ring)*growPercent && q.canGrow() {
		q.resize(min(len(q.ring)*2, q.maxCap()))
	}
	if q.size == len(q.ring) {
		q.take()
		q.stats.Popped--
		q.stats.Evicted++
	}

	q.ring[(q.head+q.size)%len(q.ring)] = item
	q.size++
	q.stats.Pushed++
	q.ready.Signal()
	return true
}

// Receive blocks until an item is available. ok is false when ctx is done
// or the queue is closed and empty.
func (q *Queue[T]) Receive(ctx context.Context) (item T, ok bool) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.ready.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size == 0 && !q.closed && ctx.Err() == nil {
		q.ready.Wait()
	}
	if q.size == 0 {
		return item, false
	}
	return q.take(), true
}

// TryReceive returns the oldest item without blocking.
func (q *Queue[T]) TryReceive() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return item, false
	}
	return q.take(), true
}

// Drain removes up to n items, oldest first. n <= 0 drains everything.
func (q *Queue[T]) Drain(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || n > q.size {
		n = q.size
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	for i := range out {
		out[i] = q.take()
	}
	return out
}

// Close stops accepting items. Pending items can still be received.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.ready.Broadcast()
	q.mu.Unlock()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Len = q.size
	s.Cap = len(q.ring)
	return s
}

// take pops the head. Caller holds mu and size > 0.
func (q *Queue[T]) take() T {
	item := q.ring[q.head]
	var zero T
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.stats.Popped++
	return item
}

func (q *Queue[T]) canGrow() bool {
	return q.limit == 0 || len(q.ring) < q.limit
}

func (q *Queue[T]) maxCap() int {
	if q.limit == 0 {
		return int(^uint(0) >> 1)
	}
	return q.limit
}

// resize moves the items into a ring of capacity n, head first. Caller holds mu.
func (q *Queue[T]) resize(n int) {
	ring := make([]T, n)
	for i := range q.size {
		ring[i] = q.ring[(q.head+i)%len(q.ring)]
	}
	q.ring = ring
	q.head = 0
	q.stats.Grows++
}
