package strategy

import "sync"

// requestQueue is a thread-safe unbounded FIFO queue of requests.
//
// Unbounded so that Send never blocks behind a slow handler. Any goroutine
// may enqueue; a single worker dequeues.
//
// The signal channel (buffered, size 1) lets the worker wait with select
// alongside context cancellation instead of blocking on a condition variable.
type requestQueue struct {
	mu     sync.Mutex
	items  []Request
	closed bool
	signal chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		items:  make([]Request, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds req to the back of the queue.
// Returns false if the queue is closed.
func (q *requestQueue) Enqueue(req Request) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, req)

	// Non-blocking: the size-1 buffer coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front request without blocking.
// Returns (nil, false) if the queue is empty or closed.
func (q *requestQueue) TryDequeue() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.items) == 0 {
		return nil, false
	}

	req := q.items[0]

	// Nil the slot so the backing array does not pin finished requests.
	q.items[0] = nil

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return req, true
}

// Wait returns a channel that signals when requests may be available.
// The channel is closed when the queue is closed.
func (q *requestQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *requestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue and returns whatever was still queued, in order.
// Wakes the worker by closing the signal channel. Subsequent calls return nil.
func (q *requestQueue) Close() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.signal)

	rest := q.items
	q.items = nil
	return rest
}
