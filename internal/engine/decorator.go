package engine

import (
	"context"

	"github.com/roach88/fluxo/internal/job"
)

// Container is the public surface of a store. Store implements it;
// Decorator forwards it so wrappers can override single methods.
type Container[I, S, E any] interface {
	Name() string
	Lifecycle() Lifecycle
	Start() error
	State() S
	Version() uint64
	Observe(ctx context.Context) <-chan S
	UpdateState(fn func(S) S) S
	Send(intent I) (*job.Job, error)
	SendAsync(ctx context.Context, intent I) (*job.Job, error)
	Emit(ctx context.Context, intent I) error
	Dispatch(ctx context.Context, intent I) error
	SideEffects(ctx context.Context) <-chan E
	PostSideEffect(ctx context.Context, e E) error
	CancelSideJob(key string) bool
	Wait(ctx context.Context) error
	Close() error
	CloseAndWait(ctx context.Context) error
	Done() <-chan struct{}
	Err() error
}

var _ Container[int, int, int] = (*Store[int, int, int])(nil)

// Decorator wraps a Container and forwards every call to it. Embed it and
// override the methods a wrapper changes.
//
//	type audited struct {
//		*engine.Decorator[Intent, State, Effect]
//	}
//
//	func (a audited) Send(i Intent) (*job.Job, error) {
//		log.Println("send", i)
//		return a.Decorator.Send(i)
//	}
type Decorator[I, S, E any] struct {
	Container[I, S, E]
}

// NewDecorator wraps inner.
func NewDecorator[I, S, E any](inner Container[I, S, E]) *Decorator[I, S, E] {
	return &Decorator[I, S, E]{Container: inner}
}

// Inner returns the wrapped container.
func (d *Decorator[I, S, E]) Inner() Container[I, S, E] {
	return d.Container
}
