package engine

import (
	"context"
	"reflect"
	"sync"

	"code.hybscloud.com/iox"

	"github.com/roach88/fluxo/internal/intercept"
)

// stateBox is one immutable state snapshot. Versions start at 1 and grow
// by one per successful transition.
type stateBox[S any] struct {
	value   S
	version uint64
}

// State returns the current state.
func (s *Store[I, S, E]) State() S {
	return s.state.Load().value
}

// Version returns the number of the current state snapshot.
func (s *Store[I, S, E]) Version() uint64 {
	return s.state.Load().version
}

// UpdateState applies fn to the current state and installs the result.
//
// fn may run more than once under contention and must be pure. Concurrent
// updates never lose each other: each retry sees the latest state.
func (s *Store[I, S, E]) UpdateState(fn func(S) S) S {
	return s.updateState(s.ctx, "", "", fn)
}

func (s *Store[I, S, E]) updateState(ctx context.Context, requestID, intent string, fn func(S) S) S {
	var bo iox.Backoff
	for {
		cur := s.state.Load()
		next := fn(cur.value)

		if s.settings.DebugChecks {
			if again := fn(cur.value); !reflect.DeepEqual(next, again) {
				s.reportDebug(ctx, intent, "state transform is not pure: two runs on the same state disagree")
			}
		}

		box := &stateBox[S]{value: next, version: cur.version + 1}
		if s.state.CompareAndSwap(cur, box) {
			s.observers.publish(box)
			s.notify(ctx, intercept.Event{
				Type:      intercept.EventStateChanged,
				RequestID: requestID,
				Intent:    intent,
				Value:     next,
				Data:      map[string]any{"version": box.version},
			})
			return next
		}
		bo.Wait()
	}
}

// Observe returns a conflated stream of states. The current state is
// delivered first; a slow reader sees only the newest state, never an
// older one after a newer one. The channel closes when ctx ends or the
// store is closed.
func (s *Store[I, S, E]) Observe(ctx context.Context) <-chan S {
	o := &observer[S]{ch: make(chan S, 1)}
	id, ok := s.observers.add(o)
	o.offer(s.state.Load())
	if !ok {
		o.close()
		return o.ch
	}

	go func() {
		select {
		case <-ctx.Done():
			s.observers.remove(id)
		case <-s.done:
		}
	}()
	return o.ch
}

func (s *Store[I, S, E]) reportDebug(ctx context.Context, intent, message string) {
	err := newDebugError(s.name, intent, message)
	s.notify(ctx, intercept.Event{Type: intercept.EventStoreError, Intent: intent, Err: err})
	s.handleException(ctx, err)
}

type observer[S any] struct {
	mu     sync.Mutex
	ch     chan S
	last   uint64
	closed bool
}

// offer replaces any unread state with box unless box is older than what
// this observer already got.
func (o *observer[S]) offer(box *stateBox[S]) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || box.version <= o.last {
		return
	}
	select {
	case <-o.ch:
	default:
	}
	o.ch <- box.value
	o.last = box.version
}

func (o *observer[S]) close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
}

type observerSet[S any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*observer[S]
	next   uint64
	closed bool
}

func newObserverSet[S any]() *observerSet[S] {
	return &observerSet[S]{subs: make(map[uint64]*observer[S])}
}

func (set *observerSet[S]) add(o *observer[S]) (uint64, bool) {
	set.mu.Lock()
	defer set.mu.Unlock()
	if set.closed {
		return 0, false
	}
	set.next++
	set.subs[set.next] = o
	return set.next, true
}

func (set *observerSet[S]) remove(id uint64) {
	set.mu.Lock()
	o, ok := set.subs[id]
	delete(set.subs, id)
	set.mu.Unlock()
	if ok {
		o.close()
	}
}

func (set *observerSet[S]) publish(box *stateBox[S]) {
	set.mu.RLock()
	defer set.mu.RUnlock()
	for _, o := range set.subs {
		o.offer(box)
	}
}

func (set *observerSet[S]) closeAll() {
	set.mu.Lock()
	defer set.mu.Unlock()
	set.closed = true
	for id, o := range set.subs {
		o.close()
		delete(set.subs, id)
	}
}
