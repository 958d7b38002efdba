package strategy

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Parallel runs every request in its own goroutine. limit > 0 caps how many
// execute at once; requests beyond the cap wait for a slot (and give up if
// cancelled while waiting). No ordering is guaranteed.
func Parallel(limit int) Factory {
	return func(scope Scope) Strategy {
		p := &parallel{scope: scope, limit: limit}
		if limit > 0 {
			p.sem = semaphore.NewWeighted(int64(limit))
		}
		return p
	}
}

type parallel struct {
	scope  Scope
	limit  int
	sem    *semaphore.Weighted
	closed atomic.Bool
}

func (p *parallel) Name() string { return NameParallel }

func (p *parallel) ParallelProcessing() bool { return true }

func (p *parallel) QueueIntent(ctx context.Context, req Request) error {
	if p.closed.Load() {
		return ErrClosed
	}
	go p.run(req)
	return nil
}

func (p *parallel) run(req Request) {
	if p.sem != nil {
		// A failed Acquire means the request was cancelled while waiting;
		// Execute sees the cancelled context and reports it.
		if err := p.sem.Acquire(req.Job().Context(), 1); err == nil {
			defer p.sem.Release(1)
		}
	}
	execute(p.scope, req)
}

func (p *parallel) Close() []Request {
	p.closed.Store(true)
	return nil
}

// Direct executes each request synchronously on the caller's goroutine,
// inside QueueIntent. Concurrent callers run concurrently.
func Direct() Factory {
	return func(scope Scope) Strategy {
		return &direct{scope: scope}
	}
}

type direct struct {
	scope  Scope
	closed atomic.Bool
}

func (d *direct) Name() string { return NameDirect }

func (d *direct) ParallelProcessing() bool { return true }

func (d *direct) QueueIntent(ctx context.Context, req Request) error {
	if d.closed.Load() {
		return ErrClosed
	}
	execute(d.scope, req)
	return nil
}

func (d *direct) Close() []Request {
	d.closed.Store(true)
	return nil
}
