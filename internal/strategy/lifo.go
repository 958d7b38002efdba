package strategy

import (
	"context"
	"sync"
	"sync/atomic"

	"code.hybscloud.com/iox"

	"github.com/roach88/fluxo/internal/job"
)

// Lifo cancels the previous unfinished request the moment a new one
// arrives and starts the new one right away. The cancelled request may
// still be unwinding while its successor runs, so ParallelProcessing is true.
func Lifo() Factory {
	return func(scope Scope) Strategy {
		return &lifo{scope: scope}
	}
}

type lifo struct {
	scope  Scope
	last   atomic.Pointer[job.Job]
	closed atomic.Bool
}

func (l *lifo) Name() string { return NameLifo }

func (l *lifo) ParallelProcessing() bool { return true }

func (l *lifo) QueueIntent(ctx context.Context, req Request) error {
	if l.closed.Load() {
		return ErrClosed
	}

	next := req.Job()

	// Each job is cancelled by exactly the request that displaced it.
	var bo iox.Backoff
	for {
		prev := l.last.Load()
		if l.last.CompareAndSwap(prev, next) {
			if prev != nil {
				prev.Cancel()
			}
			break
		}
		bo.Wait()
	}

	go execute(l.scope, req)
	return nil
}

func (l *lifo) Close() []Request {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if prev := l.last.Swap(nil); prev != nil {
		prev.Cancel()
	}
	return nil
}

// ChannelLifo is the strict Lifo variant. A single worker runs requests;
// a new request cancels the running one, and only once that has fully
// returned does the worker start the newest pending request. Requests
// superseded while pending are reported as undelivered.
func ChannelLifo() Factory {
	return func(scope Scope) Strategy {
		l := &channelLifo{
			scope:  scope,
			signal: make(chan struct{}, 1),
			stop:   make(chan struct{}),
		}
		go l.loop()
		return l
	}
}

type channelLifo struct {
	scope Scope

	mu      sync.Mutex
	pending Request
	current *job.Job
	closed  bool

	signal   chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func (l *channelLifo) Name() string { return NameChannelLifo }

func (l *channelLifo) ParallelProcessing() bool { return false }

func (l *channelLifo) QueueIntent(ctx context.Context, req Request) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	superseded := l.pending
	l.pending = req
	running := l.current
	l.mu.Unlock()

	if superseded != nil {
		l.scope.Undelivered(superseded)
	}
	if running != nil {
		running.Cancel()
	}

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return nil
}

func (l *channelLifo) Close() []Request {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	rest := l.pending
	l.pending = nil
	running := l.current
	l.mu.Unlock()

	l.stopOnce.Do(func() { close(l.stop) })
	if running != nil {
		running.Cancel()
	}

	if rest == nil {
		return nil
	}
	return []Request{rest}
}

func (l *channelLifo) loop() {
	ctx := l.scope.Context()
	for {
		select {
		case <-l.signal:
		case <-l.stop:
			return
		case <-ctx.Done():
			return
		}

		l.mu.Lock()
		req := l.pending
		l.pending = nil
		if req != nil {
			l.current = req.Job()
		}
		l.mu.Unlock()

		if req == nil {
			continue
		}

		// Runs to completion, cancelled or not, before the next one starts.
		execute(l.scope, req)

		l.mu.Lock()
		l.current = nil
		again := l.pending != nil
		l.mu.Unlock()

		if again {
			select {
			case l.signal <- struct{}{}:
			default:
			}
		}
	}
}
