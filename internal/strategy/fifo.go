package strategy

import (
	"context"
	"sync"
)

// DefaultCapacity is the channel-fifo buffer used when none is configured.
const DefaultCapacity = 64

// Fifo returns the default strategy: one unbounded queue drained by a
// single worker, so requests run strictly one at a time in submission order.
func Fifo() Factory {
	return func(scope Scope) Strategy {
		f := &fifo{
			scope: scope,
			queue: newRequestQueue(),
		}
		go f.loop()
		return f
	}
}

type fifo struct {
	scope Scope
	queue *requestQueue
}

func (f *fifo) Name() string { return NameFifo }

func (f *fifo) ParallelProcessing() bool { return false }

func (f *fifo) QueueIntent(ctx context.Context, req Request) error {
	if !f.queue.Enqueue(req) {
		return ErrClosed
	}
	return nil
}

func (f *fifo) Close() []Request {
	return f.queue.Close()
}

// loop is the single worker. It exits when the queue closes or the scope
// context ends.
func (f *fifo) loop() {
	ctx := f.scope.Context()
	for {
		if req, ok := f.queue.TryDequeue(); ok {
			execute(f.scope, req)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case _, ok := <-f.queue.Wait():
			if !ok {
				return
			}
		}
	}
}

// ChannelFifo is Fifo over a bounded channel. QueueIntent blocks while the
// buffer is full, which gives callers of Emit backpressure.
// A capacity <= 0 selects DefaultCapacity.
func ChannelFifo(capacity int) Factory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return func(scope Scope) Strategy {
		f := &channelFifo{
			scope:    scope,
			requests: make(chan Request, capacity),
			closing:  make(chan struct{}),
		}
		go f.loop()
		return f
	}
}

type channelFifo struct {
	scope    Scope
	requests chan Request

	// mu orders senders against Close so nothing lands in the channel
	// after it has been drained.
	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

func (f *channelFifo) Name() string { return NameChannelFifo }

func (f *channelFifo) ParallelProcessing() bool { return false }

func (f *channelFifo) QueueIntent(ctx context.Context, req Request) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return ErrClosed
	}

	select {
	case f.requests <- req:
		return nil
	case <-f.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *channelFifo) Close() []Request {
	var rest []Request
	f.closeOnce.Do(func() {
		// Release blocked senders before taking the write lock.
		close(f.closing)

		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()

		// The worker may still pick up one request racing the drain. It then
		// runs with a cancelled context and is reported as cancelled.
		for {
			select {
			case req := <-f.requests:
				rest = append(rest, req)
			default:
				return
			}
		}
	})
	return rest
}

func (f *channelFifo) loop() {
	ctx := f.scope.Context()
	for {
		// Prefer shutdown over queued work once closing.
		select {
		case <-f.closing:
			return
		default:
		}

		select {
		case req := <-f.requests:
			execute(f.scope, req)
		case <-f.closing:
			return
		case <-ctx.Done():
			return
		}
	}
}
