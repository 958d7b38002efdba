package engine

import (
	"context"

	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/job"
)

// RestartState tells a side job whether it replaced an earlier job with
// the same key.
type RestartState int

const (
	Initial RestartState = iota
	Restarted
)

func (r RestartState) String() string {
	if r == Restarted {
		return "restarted"
	}
	return "initial"
}

// SideJobFunc is long-running work launched from a handler. It outlives
// the handler and is cancelled on restart, CancelSideJob or store close.
type SideJobFunc[I, S, E any] func(ctx context.Context, scope *Scope[I, S, E], restart RestartState) error

type sideJob struct {
	key string
	job *job.Job
}

// CancelSideJob cancels the side job running under key. The entry is
// removed once the job has unwound, so a relaunch still waits for it.
func (s *Store[I, S, E]) CancelSideJob(key string) bool {
	v, ok := s.sideJobs.Load(key)
	if !ok {
		return false
	}
	v.(*sideJob).job.Cancel()
	return true
}

// SideJobs returns the keys of side jobs currently registered.
func (s *Store[I, S, E]) SideJobs() []string {
	var keys []string
	s.sideJobs.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	return keys
}

func (s *Store[I, S, E]) launchSideJob(requestID, key string, fn SideJobFunc[I, S, E]) (*job.Job, error) {
	if s.isClosing() {
		return nil, newClosedError(s.name, key)
	}

	j := job.New(s.ctx)
	entry := &sideJob{key: key, job: j}

	restart := Initial
	var prev *sideJob
	if old, loaded := s.sideJobs.Swap(key, entry); loaded {
		prev = old.(*sideJob)
		restart = Restarted
		prev.job.Cancel()
	}

	s.inflight.Add(j)
	s.notify(j.Context(), intercept.Event{
		Type:      intercept.EventSideJobQueued,
		RequestID: requestID,
		Key:       key,
		Data:      map[string]any{"restart": restart.String()},
	})

	go func() {
		if prev != nil {
			<-prev.job.Done()
		}
		err := s.runSideJob(j.Context(), requestID, key, fn, restart)
		s.sideJobs.CompareAndDelete(key, entry)
		j.Finish(err)
	}()
	return j, nil
}

func (s *Store[I, S, E]) runSideJob(ctx context.Context, requestID, key string, fn SideJobFunc[I, S, E], restart RestartState) error {
	cancelled := func(err error) error {
		s.notify(ctx, intercept.Event{
			Type:      intercept.EventSideJobCancel,
			RequestID: requestID,
			Key:       key,
			Err:       err,
		})
		return err
	}

	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}
	if s.sideJobSem != nil {
		if err := s.sideJobSem.Acquire(ctx, 1); err != nil {
			return cancelled(err)
		}
		defer s.sideJobSem.Release(1)
	}

	s.notify(ctx, intercept.Event{
		Type:      intercept.EventSideJobStart,
		RequestID: requestID,
		Key:       key,
		Data:      map[string]any{"restart": restart.String()},
	})

	scope := newScope(s, ctx, scopeSideJob, requestID, key)
	err := recoverInto(s.name, key, func() error {
		return fn(ctx, scope, restart)
	})
	scope.finish()

	switch {
	case err == nil:
		s.notify(ctx, intercept.Event{
			Type:      intercept.EventSideJobComplete,
			RequestID: requestID,
			Key:       key,
		})
		return nil
	case IsCancellation(err):
		return cancelled(err)
	}

	if !IsPanicError(err) {
		err = &StoreError{
			Code:    ErrCodeSideJobFailed,
			Message: "side job failed",
			Store:   s.name,
			Intent:  key,
			Err:     err,
		}
	}
	s.notify(ctx, intercept.Event{
		Type:      intercept.EventSideJobError,
		RequestID: requestID,
		Key:       key,
		Err:       err,
	})
	s.handleException(ctx, err)
	return err
}
