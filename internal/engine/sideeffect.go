package engine

import (
	"context"
	"errors"

	"github.com/roach88/fluxo/internal/effect"
	"github.com/roach88/fluxo/internal/intercept"
)

// PostSideEffect emits e from outside any handler.
func (s *Store[I, S, E]) PostSideEffect(ctx context.Context, e E) error {
	return s.postSideEffect(ctx, "", e)
}

func (s *Store[I, S, E]) postSideEffect(ctx context.Context, requestID string, e E) error {
	if s.isClosing() {
		err := newClosedError(s.name, intercept.NameOf(e))
		s.notifyEffect(ctx, intercept.EventSideEffectUndelivered, requestID, e, err)
		return err
	}

	// Guaranteed effects get a resend path bound to this store. Resend runs
	// on the consumer's goroutine, so the repost must not wait for room.
	effect.Bind(e, func() bool {
		if s.isClosing() {
			return false
		}
		posted, _ := s.settle(s.ctx, "", e, s.bus.TryPost(e))
		return posted
	})

	_, err := s.deliver(ctx, requestID, e)
	return err
}

// deliver posts e and reports whether a consumer can see it. Undelivered
// effects are reported to interceptors; only closure and cancellation are
// returned as errors.
func (s *Store[I, S, E]) deliver(ctx context.Context, requestID string, e E) (bool, error) {
	return s.settle(ctx, requestID, e, s.bus.Post(ctx, e))
}

// settle reports the outcome of a post.
func (s *Store[I, S, E]) settle(ctx context.Context, requestID string, e E, err error) (bool, error) {
	switch {
	case err == nil:
		s.notifyEffect(ctx, intercept.EventSideEffectEmitted, requestID, e, nil)
		return true, nil
	case errors.Is(err, effect.ErrUndelivered), errors.Is(err, effect.ErrDisabled):
		s.notifyEffect(ctx, intercept.EventSideEffectUndelivered, requestID, e, err)
		return false, nil
	case errors.Is(err, effect.ErrClosed):
		effect.Detach(e)
		err = newClosedError(s.name, intercept.NameOf(e))
		s.notifyEffect(ctx, intercept.EventSideEffectUndelivered, requestID, e, err)
		return false, err
	default:
		s.notifyEffect(ctx, intercept.EventSideEffectUndelivered, requestID, e, err)
		return false, err
	}
}

func (s *Store[I, S, E]) notifyEffect(ctx context.Context, t intercept.EventType, requestID string, e E, err error) {
	s.notify(ctx, intercept.Event{
		Type:      t,
		RequestID: requestID,
		Intent:    intercept.NameOf(e),
		Value:     e,
		Err:       err,
	})
}
