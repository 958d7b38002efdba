// Package effect delivers store side effects to subscribers.
//
// A Bus carries one-shot side effects from handlers to consumers. What
// happens when nobody is listening, or a buffer is full, is configurable:
// effects are either dropped and reported undelivered, or the poster waits.
// Payloads that must not be lost can be wrapped in Guaranteed.
package effect

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUndelivered is returned by Post when the effect reached no consumer.
	ErrUndelivered = errors.New("side effect undelivered")
	// ErrDisabled is returned by Post on a disabled bus.
	ErrDisabled = errors.New("side effects disabled")
	// ErrClosed is returned by Post after Close.
	ErrClosed = errors.New("side effect bus closed")
)

// Strategy selects how side effects reach subscribers.
type Strategy string

const (
	// Receive queues effects in one buffered channel; each effect goes to
	// exactly one of the competing subscribers. Effects posted before
	// anyone subscribes wait in the buffer.
	Receive Strategy = "receive"
	// Share broadcasts each effect to every current subscriber. With no
	// subscriber the effect is undelivered.
	Share Strategy = "share"
	// Disabled rejects every effect.
	Disabled Strategy = "disabled"
)

// Overflow selects what Post does when a buffer is full.
type Overflow string

const (
	// Drop reports the effect undelivered and returns immediately.
	Drop Overflow = "drop"
	// Suspend waits for room, honouring the caller's context.
	Suspend Overflow = "suspend"
)

// DefaultBufferSize is used when Config.BufferSize is not positive.
const DefaultBufferSize = 64

// Config configures a Bus.
type Config struct {
	Strategy   Strategy
	BufferSize int
	Overflow   Overflow
}

// Bus carries side effects of type E.
type Bus[E any] interface {
	// Post delivers e according to the bus strategy. It returns
	// ErrUndelivered, ErrDisabled, ErrClosed or a context error when e did
	// not reach a consumer.
	Post(ctx context.Context, e E) error

	// TryPost is Post that never waits: a full buffer makes e undelivered
	// whatever the overflow policy.
	TryPost(e E) error

	// Subscribe returns a channel of effects. For Share the channel is
	// closed when ctx is done or the bus closes. For Receive every
	// subscriber gets the same shared channel; ctx is not observed and the
	// channel closes only with the bus.
	Subscribe(ctx context.Context) <-chan E

	// Close stops the bus and returns effects that were buffered but never
	// consumed.
	Close() []E
}

// New creates a bus for cfg.
func New[E any](cfg Config) (Bus[E], error) {
	size := cfg.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	overflow := cfg.Overflow
	if overflow == "" {
		overflow = Drop
	}
	if overflow != Drop && overflow != Suspend {
		return nil, fmt.Errorf("unknown overflow policy %q", overflow)
	}

	switch cfg.Strategy {
	case "", Receive:
		return newReceiveBus[E](size, overflow), nil
	case Share:
		return newShareBus[E](size, overflow), nil
	case Disabled:
		return disabledBus[E]{}, nil
	default:
		return nil, fmt.Errorf("unknown side effect strategy %q", cfg.Strategy)
	}
}

// receiveBus is a single buffered channel shared by all subscribers.
type receiveBus[E any] struct {
	ch       chan E
	overflow Overflow

	// mu orders posters against Close so the channel can be closed safely.
	mu        sync.RWMutex
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

func newReceiveBus[E any](size int, overflow Overflow) *receiveBus[E] {
	return &receiveBus[E]{
		ch:       make(chan E, size),
		overflow: overflow,
		closing:  make(chan struct{}),
	}
}

func (b *receiveBus[E]) Post(ctx context.Context, e E) error {
	return b.post(ctx, e, b.overflow == Suspend)
}

func (b *receiveBus[E]) TryPost(e E) error {
	return b.post(context.Background(), e, false)
}

func (b *receiveBus[E]) post(ctx context.Context, e E, wait bool) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	select {
	case b.ch <- e:
		return nil
	default:
	}
	if !wait {
		return ErrUndelivered
	}

	select {
	case b.ch <- e:
		return nil
	case <-b.closing:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *receiveBus[E]) Subscribe(ctx context.Context) <-chan E {
	return b.ch
}

func (b *receiveBus[E]) Close() []E {
	var rest []E
	b.closeOnce.Do(func() {
		close(b.closing)

		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		for {
			select {
			case e := <-b.ch:
				rest = append(rest, e)
			default:
				close(b.ch)
				return
			}
		}
	})
	return rest
}

// shareBus gives every subscriber its own buffered channel.
type shareBus[E any] struct {
	size     int
	overflow Overflow

	// mu guards subs. Posters hold it shared; closing a subscriber channel
	// takes it exclusively, so no send can race the close.
	mu        sync.RWMutex
	subs      map[int]*subscriber[E]
	nextID    int
	closed    bool
	closing   chan struct{}
	closeOnce sync.Once
}

// subscriber is one Share consumer. done closes before ch is removed so a
// poster suspended on ch lets go of the shared lock.
type subscriber[E any] struct {
	ch       chan E
	done     chan struct{}
	stopOnce sync.Once
}

func (s *subscriber[E]) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *subscriber[E]) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func newShareBus[E any](size int, overflow Overflow) *shareBus[E] {
	return &shareBus[E]{
		size:     size,
		overflow: overflow,
		subs:     make(map[int]*subscriber[E]),
		closing:  make(chan struct{}),
	}
}

func (b *shareBus[E]) Post(ctx context.Context, e E) error {
	return b.post(ctx, e, b.overflow == Suspend)
}

func (b *shareBus[E]) TryPost(e E) error {
	return b.post(context.Background(), e, false)
}

func (b *shareBus[E]) post(ctx context.Context, e E, wait bool) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	delivered := 0
	for _, sub := range b.subs {
		if sub.stopped() {
			continue
		}
		select {
		case sub.ch <- e:
			delivered++
			continue
		default:
		}
		if !wait {
			continue
		}
		select {
		case sub.ch <- e:
			delivered++
		case <-sub.done:
		case <-b.closing:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if delivered == 0 {
		return ErrUndelivered
	}
	return nil
}

func (b *shareBus[E]) Subscribe(ctx context.Context) <-chan E {
	sub := &subscriber[E]{
		ch:   make(chan E, b.size),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.closing:
			return
		}
		sub.stop()

		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub.ch)
		}
	}()

	return sub.ch
}

// Close closes every subscriber. Effects still buffered in subscriber
// channels stay readable; only effects nobody will ever read are returned,
// which for Share is none.
func (b *shareBus[E]) Close() []E {
	b.closeOnce.Do(func() {
		close(b.closing)

		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for id, sub := range b.subs {
			delete(b.subs, id)
			sub.stop()
			close(sub.ch)
		}
	})
	return nil
}

type disabledBus[E any] struct{}

func (disabledBus[E]) Post(ctx context.Context, e E) error { return ErrDisabled }

func (disabledBus[E]) TryPost(e E) error { return ErrDisabled }

func (disabledBus[E]) Subscribe(ctx context.Context) <-chan E {
	ch := make(chan E)
	close(ch)
	return ch
}

func (disabledBus[E]) Close() []E { return nil }
