package engine

import (
	"context"
	"sync/atomic"

	"github.com/roach88/fluxo/internal/job"
)

type scopeKind int

const (
	scopeIntent scopeKind = iota
	scopeSideJob
	scopeBootstrap
)

func (k scopeKind) String() string {
	switch k {
	case scopeIntent:
		return "intent"
	case scopeSideJob:
		return "side job"
	default:
		return "bootstrap"
	}
}

// Scope is the handle a handler, side job or bootstrapper uses to act on
// its store. A scope belongs to one invocation; with debug checks on,
// using it after that invocation returned is reported as a misuse.
type Scope[I, S, E any] struct {
	store     *Store[I, S, E]
	ctx       context.Context
	kind      scopeKind
	requestID string
	name      string
	finished  atomic.Bool
}

func newScope[I, S, E any](s *Store[I, S, E], ctx context.Context, kind scopeKind, requestID, name string) *Scope[I, S, E] {
	return &Scope[I, S, E]{
		store:     s,
		ctx:       ctx,
		kind:      kind,
		requestID: requestID,
		name:      name,
	}
}

// Context returns the invocation context. It is cancelled when the store
// closes, when Lifo supersedes the intent, or when a side job restarts.
func (sc *Scope[I, S, E]) Context() context.Context {
	return sc.ctx
}

// RequestID returns the id correlating this invocation's events.
func (sc *Scope[I, S, E]) RequestID() string {
	return sc.requestID
}

// StoreName returns the owning store's name.
func (sc *Scope[I, S, E]) StoreName() string {
	return sc.store.name
}

// State returns the store's current state.
func (sc *Scope[I, S, E]) State() S {
	return sc.store.State()
}

// UpdateState atomically transforms the store's state and returns the
// installed value. fn must be pure.
func (sc *Scope[I, S, E]) UpdateState(fn func(S) S) S {
	sc.checkLive("UpdateState")
	return sc.store.updateState(sc.ctx, sc.requestID, sc.name, fn)
}

// PostSideEffect emits e on the side-effect bus. An effect that reaches no
// consumer is reported undelivered to interceptors and does not fail the
// caller. Errors are returned for a closed store or a cancelled context.
func (sc *Scope[I, S, E]) PostSideEffect(e E) error {
	if err := sc.checkLive("PostSideEffect"); err != nil {
		return err
	}
	return sc.store.postSideEffect(sc.ctx, sc.requestID, e)
}

// SideJob launches fn under key. A running job with the same key is
// cancelled and fn starts only after it has returned, with restart set to
// Restarted.
func (sc *Scope[I, S, E]) SideJob(key string, fn SideJobFunc[I, S, E]) (*job.Job, error) {
	if err := sc.checkLive("SideJob"); err != nil {
		return nil, err
	}
	return sc.store.launchSideJob(sc.requestID, key, fn)
}

// CancelSideJob cancels the side job running under key. It reports
// whether one was found.
func (sc *Scope[I, S, E]) CancelSideJob(key string) bool {
	return sc.store.CancelSideJob(key)
}

// Send queues a follow-up intent from inside the store.
func (sc *Scope[I, S, E]) Send(intent I) (*job.Job, error) {
	return sc.store.enqueue(sc.ctx, intent, true)
}

func (sc *Scope[I, S, E]) finish() {
	sc.finished.Store(true)
}

func (sc *Scope[I, S, E]) checkLive(op string) error {
	if !sc.store.settings.DebugChecks || !sc.finished.Load() {
		return nil
	}
	err := newDebugError(sc.store.name, sc.name, op+" called after the "+sc.kind.String()+" returned")
	sc.store.reportDebug(sc.ctx, sc.name, err.Message)
	return err
}
