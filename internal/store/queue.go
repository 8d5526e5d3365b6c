package store

import (
	"sync"
)

// workQueue is a thread-safe FIFO queue that automatically doubles its
// capacity when it reaches 70% full. It is the only channel between callers
// and the writer's worker goroutine, so enqueue order is execution order.
type workQueue[T any] struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []T
	head     int // read position
	tail     int // write position
	count    int
	capacity int
	closed   bool

	// Stats
	totalEnqueued int64
	totalDequeued int64
	resizeCount   int
}

// newWorkQueue creates a queue with the given initial capacity.
func newWorkQueue[T any](initialCapacity int) *workQueue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &workQueue[T]{
		buf:      make([]T, initialCapacity),
		capacity: initialCapacity,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds an item. Grows the queue if at 70% capacity.
// Returns false if the queue is closed.
func (q *workQueue[T]) Enqueue(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := (q.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.buf[q.tail] = item
	q.tail = (q.tail + 1) % q.capacity
	q.count++
	q.totalEnqueued++

	q.cond.Signal()
	return true
}

// Dequeue removes and returns the oldest item. Blocks until an item is
// available or the queue is closed. After close, remaining items are still
// drained in order; only then does Dequeue report done.
func (q *workQueue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}

	if q.count == 0 && q.closed {
		var zero T
		return zero, false
	}

	item := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // Clear reference for GC
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.totalDequeued++

	return item, true
}

// Close closes the queue. After closing, Enqueue returns false.
func (q *workQueue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the current number of queued items.
func (q *workQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats returns queue counters.
func (q *workQueue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:         q.count,
		Capacity:      q.capacity,
		TotalEnqueued: q.totalEnqueued,
		TotalDequeued: q.totalDequeued,
		ResizeCount:   q.resizeCount,
	}
}

// QueueStats contains work queue counters.
type QueueStats struct {
	Depth         int
	Capacity      int
	TotalEnqueued int64
	TotalDequeued int64
	ResizeCount   int
}

// grow doubles the queue capacity. Must be called with lock held.
func (q *workQueue[T]) grow() {
	newCapacity := q.capacity * 2
	newBuf := make([]T, newCapacity)

	if q.count > 0 {
		if q.head < q.tail {
			copy(newBuf, q.buf[q.head:q.tail])
		} else {
			n := copy(newBuf, q.buf[q.head:])
			copy(newBuf[n:], q.buf[:q.tail])
		}
	}

	q.buf = newBuf
	q.head = 0
	q.tail = q.count
	q.capacity = newCapacity
	q.resizeCount++
}
