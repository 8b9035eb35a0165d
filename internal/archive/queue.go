package archive

import (
	"context"
	"sync"
)

// Queue is a FIFO ring buffer that doubles its capacity once it is 70% full,
// up to a fixed ceiling. Send never blocks.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	head   int
	tail   int
	count  int
	limit  int // 0 means unbounded
	closed bool

	sent    int64
	taken   int64
	dropped int64
	resizes int
}

// QueueStats reports queue counters.
type QueueStats struct {
	Len      int   `json:"len"`
	Capacity int   `json:"capacity"`
	Sent     int64 `json:"sent"`
	Taken    int64 `json:"taken"`
	Dropped  int64 `json:"dropped"`
	Resizes  int   `json:"resizes"`
}

// NewQueue creates a queue with the given initial capacity. limit caps
// growth; zero or negative means no cap.
func NewQueue[T any](initial, limit int) *Queue[T] {
	if initial < 1 {
		initial = 1
	}
	if limit > 0 && limit < initial {
		limit = initial
	}
	if limit < 0 {
		limit = 0
	}
	q := &Queue[T]{
		buf:   make([]T, initial),
		limit: limit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends item. It returns false when the queue is closed or full at
// its ceiling.
func (q *Queue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := max(len(q.buf)*70/100, 1)
	if q.count+1 >= threshold {
		q.grow()
	}
	if q.count == len(q.buf) {
		q.dropped++
		return false
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	q.sent++

	q.cond.Signal()
	return true
}

// Receive blocks until an item is available, the queue is closed and
// drained, or ctx ends.
func (q *Queue[T]) Receive(ctx context.Context) (T, bool) {
	var zero T
	if !q.wait(ctx) {
		return zero, false
	}
	defer q.mu.Unlock()
	return q.pop(), true
}

// Batch blocks like Receive, then removes up to n items (all when n <= 0).
// A nil result means the queue is closed and drained or ctx ended.
func (q *Queue[T]) Batch(ctx context.Context, n int) []T {
	if !q.wait(ctx) {
		return nil
	}
	defer q.mu.Unlock()
	return q.take(n)
}

// Drain removes up to n items without blocking (all when n <= 0).
func (q *Queue[T]) Drain(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count == 0 {
		return nil
	}
	return q.take(n)
}

// Close stops accepting items and wakes blocked receivers. Items already
// queued can still be taken.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns a snapshot of the counters.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Len:      q.count,
		Capacity: len(q.buf),
		Sent:     q.sent,
		Taken:    q.taken,
		Dropped:  q.dropped,
		Resizes:  q.resizes,
	}
}

// wait returns with q.mu held and at least one item queued, or returns
// false with q.mu released.
func (q *Queue[T]) wait(ctx context.Context) bool {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	for q.count == 0 && !q.closed && ctx.Err() == nil {
		q.cond.Wait()
	}
	if q.count == 0 || ctx.Err() != nil {
		q.mu.Unlock()
		return false
	}
	return true
}

// take must be called with q.mu held and q.count > 0.
func (q *Queue[T]) take(n int) []T {
	if n <= 0 || n > q.count {
		n = q.count
	}
	out := make([]T, n)
	for i := range out {
		out[i] = q.pop()
	}
	return out
}

func (q *Queue[T]) pop() T {
	var zero T
	item := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	q.taken++
	return item
}

// grow doubles the ring, bounded by the limit. Caller holds q.mu.
func (q *Queue[T]) grow() {
	size := len(q.buf) * 2
	if q.limit > 0 && size > q.limit {
		size = q.limit
	}
	if size <= len(q.buf) {
		return
	}

	buf := make([]T, size)
	if q.count > 0 {
		if q.head < q.tail {
			copy(buf, q.buf[q.head:q.tail])
		} else {
			n := copy(buf, q.buf[q.head:])
			copy(buf[n:], q.buf[:q.tail])
		}
	}

	q.buf = buf
	q.head = 0
	q.tail = q.count
	q.resizes++
}
