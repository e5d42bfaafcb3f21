package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node is a single element of the queue
type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Queue is an unbounded multi-producer single-consumer queue. Producers append
// to a linked list with atomic operations, a single consumer goroutine drains
// the list into the channel returned by Recv.
//
// Items pushed by one producer are received in the order they were pushed.
// Items of concurrent producers are interleaved in the order their appends
// completed.
type Queue[T any] struct {
	head     atomic.Pointer[node[T]]
	tail     atomic.Pointer[node[T]]
	out      chan T
	consumer sync.WaitGroup
	closed   atomic.Bool
	size     atomic.Int64

	// wakes the consumer, producers signal while holding mu so no wake-up is lost
	mu   sync.Mutex
	cond *sync.Cond
}

// NewQueue creates a queue and starts its consumer.
func NewQueue[T any]() *Queue[T] {
	sentinel := &node[T]{}

	q := &Queue[T]{
		out: make(chan T),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	q.consumer.Add(1)
	go q.consume()

	return q
}

// Push appends value. It returns false if the queue is closed.
// Push never blocks on the consumer.
func (q *Queue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}
	var spins uint8

	for {
		tailNode := q.tail.Load()
		next := tailNode.next.Load()
		if next == nil {
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// another producer may already have advanced the tail
				q.tail.CompareAndSwap(tailNode, newNode)
				q.size.Add(1)

				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help a producer that appended but has not moved the tail yet
			q.tail.CompareAndSwap(tailNode, next)
		}

		// spin briefly under contention, then yield
		if spins < 10 {
			spins++
			for i := 0; i < 1<<spins; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume moves items from the list to the output channel until the queue is
// closed and drained
func (q *Queue[T]) consume() {
	defer q.consumer.Done()
	defer close(q.out)

	for {
		drained := false
		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			drained = true

			value := next.value
			q.head.Store(next)
			q.size.Add(-1)
			q.out <- value

			var zero T
			next.value = zero
		}

		if !drained && q.closed.Load() {
			return
		}

		if !drained {
			q.mu.Lock()
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Recv returns the channel the queued items are delivered on. It is closed
// once the queue was closed and every item was delivered.
func (q *Queue[T]) Recv() <-chan T {
	return q.out
}

// Close stops accepting new items. Queued items are still delivered.
func (q *Queue[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// IsClosed reports whether Close was called.
func (q *Queue[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len returns the number of queued items not yet handed to the consumer channel.
func (q *Queue[T]) Len() int {
	return int(q.size.Load())
}
