// Package job provides the handle returned for queued intents, side jobs and
// bootstrap work.
//
// A Job owns a context derived from its parent. Cancelling a job only cancels
// that context: work stops at its next cooperative check, and the job is not
// done until the work function returns. Wait therefore observes the real end
// of the work, never just the cancellation request.
package job

import (
	"context"
	"sync"
	"sync/atomic"
)

// Job is a cancellable, awaitable unit of concurrent work.
//
// Thread-safety: all methods are safe for concurrent use.
type Job struct {
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	once      sync.Once
	err       error
	cancelled atomic.Bool
}

// New creates a job bound to parent. The job stays pending until Finish is
// called; use Go to run a function and finish automatically.
func New(parent context.Context) *Job {
	ctx, cancel := context.WithCancel(parent)
	return &Job{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Go starts fn in a new goroutine and finishes the job with its result.
func Go(parent context.Context, fn func(ctx context.Context) error) *Job {
	j := New(parent)
	go func() {
		j.Finish(fn(j.ctx))
	}()
	return j
}

// Completed returns a job that is already done with err.
func Completed(err error) *Job {
	j := New(context.Background())
	j.Finish(err)
	return j
}

// Context returns the job's context. It is cancelled by Cancel, by the
// parent, or once the job finishes.
func (j *Job) Context() context.Context {
	return j.ctx
}

// Cancel requests cancellation. Idempotent.
func (j *Job) Cancel() {
	if j.IsDone() {
		return
	}
	j.cancelled.Store(true)
	j.cancel()
}

// IsCancelled reports whether Cancel was called, or the parent context was
// cancelled, before the job finished.
func (j *Job) IsCancelled() bool {
	if j.cancelled.Load() {
		return true
	}
	select {
	case <-j.done:
		return false
	default:
		return j.ctx.Err() != nil
	}
}

// Finish completes the job with err. Only the first call has an effect;
// it reports whether this call completed the job.
func (j *Job) Finish(err error) bool {
	finished := false
	j.once.Do(func() {
		j.err = err
		finished = true
		close(j.done)
		j.cancel()
	})
	return finished
}

// Done returns a channel closed when the job has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// IsDone reports whether the job has finished.
func (j *Job) IsDone() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

// Err returns the job result. It is nil while the job is running.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// Wait blocks until the job finishes or ctx is done.
// Returns the job's error, or ctx.Err() if ctx ended first.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelAndWait cancels the job and waits for its work to unwind.
func (j *Job) CancelAndWait(ctx context.Context) error {
	j.Cancel()
	return j.Wait(ctx)
}

// Group tracks a dynamic set of jobs so they can be awaited together.
// Jobs are removed automatically when they finish.
type Group struct {
	mu   sync.Mutex
	jobs map[*Job]struct{}
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{jobs: make(map[*Job]struct{})}
}

// Add tracks j until it finishes.
func (g *Group) Add(j *Job) {
	g.mu.Lock()
	g.jobs[j] = struct{}{}
	g.mu.Unlock()

	go func() {
		<-j.Done()
		g.mu.Lock()
		delete(g.jobs, j)
		g.mu.Unlock()
	}()
}

// Len returns the number of unfinished jobs.
func (g *Group) Len() int {
	return len(g.snapshot())
}

// CancelAll cancels every tracked job.
func (g *Group) CancelAll() {
	for _, j := range g.snapshot() {
		j.Cancel()
	}
}

// Wait blocks until every job tracked at call time, and any added while
// waiting, has finished, or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	for {
		pending := g.snapshot()
		if len(pending) == 0 {
			return nil
		}
		for _, j := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			select {
			case <-j.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (g *Group) snapshot() []*Job {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Job, 0, len(g.jobs))
	for j := range g.jobs {
		if !j.IsDone() {
			out = append(out, j)
		}
	}
	return out
}
