package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fluxo/internal/effect"
	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/job"
	"github.com/roach88/fluxo/internal/strategy"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func sum(state, n int) int { return state + n }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func closeStore[I, S, E any](t *testing.T, s *Store[I, S, E]) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.CloseAndWait(ctx)
	})
}

func TestStore_FifoFoldsIntentsInSubmissionOrder(t *testing.T) {
	ctx := testContext(t)
	s, err := NewReducer[int, []int, string](nil, func(state []int, n int) []int {
		return append(slices.Clone(state), n)
	})
	require.NoError(t, err)
	closeStore(t, s)

	var expected []int
	for i := 0; i < 50; i++ {
		_, err := s.Send(i)
		require.NoError(t, err)
		expected = append(expected, i)
	}
	require.NoError(t, s.Wait(ctx))

	assert.Equal(t, expected, s.State())
	assert.Equal(t, uint64(51), s.Version())
}

func TestStore_EventOrderForOneIntent(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()
	s, err := NewReducer[int, int, string](0, sum,
		WithName("counter"),
		WithInterceptors(rec),
		WithIDGenerator(NewFixedGenerator("req-1")),
	)
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Dispatch(ctx, 5))

	assert.Equal(t, []intercept.EventType{
		intercept.EventStoreStart,
		intercept.EventIntentQueued,
		intercept.EventIntentAccepted,
		intercept.EventStateChanged,
		intercept.EventIntentHandled,
	}, rec.Types())

	events := rec.Events()
	for i, e := range events {
		assert.Equal(t, "counter", e.Store)
		assert.Equal(t, int64(i+1), e.Seq, "seq must be dense and increasing")
	}
	handled := rec.Filter(intercept.EventIntentHandled)
	require.Len(t, handled, 1)
	assert.Equal(t, "req-1", handled[0].RequestID)
	assert.Equal(t, "int", handled[0].Intent)
}

func TestStore_ConcurrentUpdatesAreNotLost(t *testing.T) {
	ctx := testContext(t)
	s, err := NewContainer[int, string](0, WithIntentStrategy(strategy.Parallel(0)))
	require.NoError(t, err)
	closeStore(t, s)

	const goroutines = 16
	const perGoroutine = 200
	incr := func(v int) int { return v + 1 }

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if i%2 == 0 {
					s.UpdateState(incr)
					continue
				}
				_, err := s.Send(func(ctx context.Context, scope *Scope[Action[int, string], int, string]) error {
					scope.UpdateState(incr)
					return nil
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Wait(ctx))

	assert.Equal(t, goroutines*perGoroutine, s.State())
}

func TestStore_LifoCancelsSupersededIntent(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()
	started := make(chan string, 2)
	s, err := New[string, string, string]("", func(ctx context.Context, scope *Scope[string, string, string], intent string) error {
		started <- intent
		if intent == "first" {
			<-ctx.Done()
			return ctx.Err()
		}
		scope.UpdateState(func(string) string { return intent })
		return nil
	}, WithIntentStrategy(strategy.Lifo()), WithInterceptors(rec))
	require.NoError(t, err)
	closeStore(t, s)

	first, err := s.Send("first")
	require.NoError(t, err)
	assert.Equal(t, "first", <-started)

	second, err := s.Send("second")
	require.NoError(t, err)

	assert.ErrorIs(t, first.Wait(ctx), context.Canceled)
	assert.NoError(t, second.Wait(ctx))
	assert.Equal(t, "second", s.State())
	assert.Equal(t, 1, rec.Count(intercept.EventIntentCancelled))
	assert.Equal(t, 0, rec.Count(intercept.EventIntentError), "cancellation is not a failure")
}

func TestStore_CloseIsIdempotentAndFailsFastAfterwards(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()
	running := make(chan struct{})
	s, err := New[string, int, string](0, func(ctx context.Context, scope *Scope[string, int, string], intent string) error {
		if intent == "block" {
			close(running)
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}, WithInterceptors(rec))
	require.NoError(t, err)

	blocked, err := s.Send("block")
	require.NoError(t, err)
	<-running

	var queued []*job.Job
	for i := 0; i < 3; i++ {
		j, err := s.Send("later")
		require.NoError(t, err)
		queued = append(queued, j)
	}

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.NoError(t, s.CloseAndWait(ctx))
	require.NoError(t, s.CloseAndWait(ctx))

	assert.Equal(t, LifecycleClosed, s.Lifecycle())
	assert.ErrorIs(t, blocked.Err(), context.Canceled)
	assert.Equal(t, 3, rec.Count(intercept.EventIntentUndelivered))
	assert.Equal(t, 1, rec.Count(intercept.EventStoreClosing))
	assert.Equal(t, 1, rec.Count(intercept.EventStoreClosed))

	_, err = s.Send("after")
	require.Error(t, err)
	assert.True(t, IsClosedError(err))
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.False(t, errors.Is(err, context.Canceled), "closed must be distinguishable from cancellation")
	assert.True(t, IsClosedError(s.Start()))

	for _, j := range queued {
		assert.True(t, IsClosedError(j.Err()), "queued intent should be undelivered: %v", j.Err())
	}
}

func TestStore_EverySendAfterCloseReportsClosed(t *testing.T) {
	ctx := testContext(t)
	s, err := NewReducer[int, int, string](0, sum, WithLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, s.Emit(ctx, 1))
	require.NoError(t, s.CloseAndWait(ctx))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	for i := 0; i < 1000; i++ {
		_, err := s.Send(i)
		require.True(t, IsClosedError(err), "send %d: %v", i, err)
		require.False(t, errors.Is(err, context.Canceled), "send %d: %v", i, err)

		err = s.Emit(ctx, i)
		require.True(t, IsClosedError(err), "emit %d: %v", i, err)

		_, err = s.SendAsync(cancelled, i)
		require.True(t, IsClosedError(err), "send async %d: %v", i, err)
	}
}

func TestStore_CloseFromHandlerDoesNotDeadlock(t *testing.T) {
	ctx := testContext(t)
	s, err := NewContainer[int, string](0, WithIntentStrategy(strategy.ChannelFifo(4)))
	require.NoError(t, err)

	require.NoError(t, s.Dispatch(ctx, func(ctx context.Context, scope *Scope[Action[int, string], int, string]) error {
		return s.Close()
	}))
	require.NoError(t, s.CloseAndWait(ctx))
}

func TestStore_HandlerFailuresReachExceptionHandler(t *testing.T) {
	ctx := testContext(t)
	boom := errors.New("boom")

	var mu sync.Mutex
	var failures []error
	s, err := New[string, int, string](0, func(ctx context.Context, scope *Scope[string, int, string], intent string) error {
		switch intent {
		case "fail":
			return boom
		case "panic":
			panic("kaboom")
		}
		return nil
	}, WithExceptionHandler(func(ctx context.Context, err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}))
	require.NoError(t, err)
	closeStore(t, s)

	err = s.Dispatch(ctx, "fail")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeHandlerFailed, se.Code)

	err = s.Dispatch(ctx, "panic")
	assert.True(t, IsPanicError(err))
	assert.Contains(t, err.Error(), "kaboom")

	assert.NoError(t, s.Dispatch(ctx, "ok"), "store keeps running after failures")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 2)
	assert.ErrorIs(t, failures[0], boom)
	assert.True(t, IsPanicError(failures[1]))
}

func TestStore_CloseOnExceptions(t *testing.T) {
	ctx := testContext(t)
	boom := errors.New("boom")
	s, err := New[string, int, string](0, func(ctx context.Context, scope *Scope[string, int, string], intent string) error {
		return boom
	}, WithCloseOnExceptions(true), WithExceptionHandler(func(context.Context, error) {}))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Dispatch(ctx, "x"), boom)

	select {
	case <-s.Done():
	case <-ctx.Done():
		t.Fatal("store did not close after handler failure")
	}
	assert.ErrorIs(t, s.Err(), boom)
}

func TestStore_IntentFilterRejects(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()
	s, err := NewReducer[int, int, string](0, sum,
		WithInterceptors(rec),
		WithIntentFilter(func(state int, n int) bool { return n > 0 }),
	)
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Dispatch(ctx, -3))
	require.NoError(t, s.Dispatch(ctx, 4))

	assert.Equal(t, 4, s.State())
	assert.Equal(t, 1, rec.Count(intercept.EventIntentRejected))
}

func TestStore_MismatchedFilterIsRejectedAtConstruction(t *testing.T) {
	_, err := NewReducer[int, int, string](0, sum,
		WithIntentFilter(func(state string, n int) bool { return true }),
	)
	assert.ErrorContains(t, err, "intent filter")
}

func TestStore_BlockingBootstrapRunsBeforeIntents(t *testing.T) {
	ctx := testContext(t)
	var boot Bootstrapper[int, int, string] = func(ctx context.Context, scope *Scope[int, int, string]) error {
		time.Sleep(10 * time.Millisecond)
		scope.UpdateState(func(int) int { return 100 })
		return nil
	}
	s, err := NewReducer[int, int, string](0, func(state, n int) int { return state*2 + n }, WithBootstrapper(boot, true))
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Dispatch(ctx, 1))
	assert.Equal(t, 201, s.State())
}

func TestStore_FailedBootstrapClosesStore(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()
	var boot Bootstrapper[int, int, string] = func(ctx context.Context, scope *Scope[int, int, string]) error {
		return errors.New("no config")
	}
	s, err := NewReducer[int, int, string](0, sum,
		WithBootstrapper(boot, false),
		WithInterceptors(rec),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	require.NoError(t, s.Start())

	select {
	case <-s.Done():
	case <-ctx.Done():
		t.Fatal("store did not close after bootstrap failure")
	}

	var se *StoreError
	require.ErrorAs(t, s.Err(), &se)
	assert.Equal(t, ErrCodeBootstrapFailed, se.Code)
	assert.Equal(t, 1, rec.Count(intercept.EventBootstrapError))
}

func TestStore_EagerStart(t *testing.T) {
	s, err := NewReducer[int, int, string](0, sum, WithLazyStart(false))
	require.NoError(t, err)
	closeStore(t, s)

	assert.Equal(t, LifecycleRunning, s.Lifecycle())
}

func TestStore_LazyStartWaitsForFirstIntent(t *testing.T) {
	ctx := testContext(t)
	s, err := NewReducer[int, int, string](0, sum)
	require.NoError(t, err)
	closeStore(t, s)

	assert.Equal(t, LifecycleCreated, s.Lifecycle())
	require.NoError(t, s.Dispatch(ctx, 1))
	assert.Equal(t, LifecycleRunning, s.Lifecycle())
}

func TestStore_ParentContextCancellationCloses(t *testing.T) {
	ctx := testContext(t)
	parent, cancel := context.WithCancel(context.Background())
	s, err := NewReducer[int, int, string](0, sum, WithContext(parent))
	require.NoError(t, err)
	require.NoError(t, s.Dispatch(ctx, 1))

	cancel()

	select {
	case <-s.Done():
	case <-ctx.Done():
		t.Fatal("store did not close with its parent context")
	}
	assert.NoError(t, s.Err(), "cancellation is not a store failure")
}

func TestStore_ObserveIsConflatedAndOrdered(t *testing.T) {
	ctx := testContext(t)
	s, err := NewReducer[int, int, string](0, sum)
	require.NoError(t, err)
	closeStore(t, s)

	obsCtx, stop := context.WithCancel(ctx)
	states := s.Observe(obsCtx)
	assert.Equal(t, 0, <-states, "current state is delivered first")

	for i := 0; i < 20; i++ {
		_, err := s.Send(1)
		require.NoError(t, err)
	}
	require.NoError(t, s.Wait(ctx))

	last := 0
	for last != 20 {
		select {
		case v := <-states:
			assert.GreaterOrEqual(t, v, last, "observer must never go backwards")
			last = v
		case <-ctx.Done():
			t.Fatalf("never observed final state, last=%d", last)
		}
	}

	stop()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-states:
			return !open
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestStore_ObserveAfterCloseYieldsFinalState(t *testing.T) {
	ctx := testContext(t)
	s, err := NewReducer[int, int, string](7, sum)
	require.NoError(t, err)
	require.NoError(t, s.CloseAndWait(ctx))

	states := s.Observe(ctx)
	assert.Equal(t, 7, <-states)
	_, open := <-states
	assert.False(t, open)
}

func TestStore_SideJobRestartCancelsPrevious(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()

	var active, maxActive atomic.Int32
	restarts := make(chan RestartState, 2)
	tick := func(ctx context.Context, scope *Scope[string, int, string], restart RestartState) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		restarts <- restart
		<-ctx.Done()
		return ctx.Err()
	}

	var mu sync.Mutex
	var jobs []error
	s, err := New[string, int, string](0, func(ctx context.Context, scope *Scope[string, int, string], intent string) error {
		j, err := scope.SideJob("tick", tick)
		if err != nil {
			return err
		}
		go func() {
			<-j.Done()
			mu.Lock()
			jobs = append(jobs, j.Err())
			mu.Unlock()
		}()
		return nil
	}, WithInterceptors(rec))
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Dispatch(ctx, "start"))
	assert.Equal(t, Initial, <-restarts)

	require.NoError(t, s.Dispatch(ctx, "restart"))
	assert.Equal(t, Restarted, <-restarts)
	assert.Equal(t, int32(1), maxActive.Load(), "jobs under one key never overlap")
	assert.Equal(t, []string{"tick"}, s.SideJobs())

	assert.True(t, s.CancelSideJob("tick"))
	require.Eventually(t, func() bool { return len(s.SideJobs()) == 0 }, time.Second, time.Millisecond)
	assert.False(t, s.CancelSideJob("tick"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(jobs) == 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	for _, err := range jobs {
		assert.ErrorIs(t, err, context.Canceled)
	}
	mu.Unlock()
	assert.Equal(t, 2, rec.Count(intercept.EventSideJobCancel))
	assert.Equal(t, 0, rec.Count(intercept.EventSideJobError))
}

func TestStore_SideJobLimit(t *testing.T) {
	ctx := testContext(t)
	var active, maxActive atomic.Int32
	s, err := NewContainer[int, string](0, WithSideJobLimit(2))
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Dispatch(ctx, func(ctx context.Context, scope *Scope[Action[int, string], int, string]) error {
		for _, key := range []string{"a", "b", "c", "d", "e"} {
			_, err := scope.SideJob(key, func(ctx context.Context, scope *Scope[Action[int, string], int, string], _ RestartState) error {
				n := active.Add(1)
				defer active.Add(-1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				scope.UpdateState(func(v int) int { return v + 1 })
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}))
	require.NoError(t, s.Wait(ctx))

	assert.Equal(t, 5, s.State())
	assert.LessOrEqual(t, maxActive.Load(), int32(2))
}

func TestStore_GuaranteedEffectResendAndDetach(t *testing.T) {
	ctx := testContext(t)
	type notice = *effect.Guaranteed[string]
	s, err := New[string, int, notice](0, func(ctx context.Context, scope *Scope[string, int, notice], intent string) error {
		return scope.PostSideEffect(effect.NewGuaranteed(intent))
	})
	require.NoError(t, err)

	effects := s.SideEffects(ctx)
	require.NoError(t, s.Dispatch(ctx, "hello"))

	g := <-effects
	v, ok := g.Content()
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	_, ok = g.Content()
	assert.False(t, ok, "content is claimed once per cycle")

	require.True(t, g.Resend())
	again := <-effects
	assert.Same(t, g, again)

	claimed, err := again.HandleOrResend(func(string) error { return nil })
	require.True(t, claimed)
	require.NoError(t, err)
	assert.False(t, again.Resendable(), "handled effect detaches")
	assert.False(t, again.Resend())

	require.NoError(t, s.Dispatch(ctx, "late"))
	late := <-effects
	require.NoError(t, s.CloseAndWait(ctx))
	assert.False(t, late.Resend(), "no resend after close")
	assert.False(t, late.Resendable())
}

func TestStore_GuaranteedResendDoesNotWaitOnItsOwnReader(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()
	type notice = *effect.Guaranteed[int]
	s, err := NewReducer[int, int, notice](0, sum,
		WithInterceptors(rec),
		WithSideEffects(effect.Receive, 1, effect.Suspend),
	)
	require.NoError(t, err)
	closeStore(t, s)

	effects := s.SideEffects(ctx)
	require.NoError(t, s.PostSideEffect(ctx, effect.NewGuaranteed(1)))
	first := <-effects
	require.NoError(t, s.PostSideEffect(ctx, effect.NewGuaranteed(2)))

	handled := make(chan error, 1)
	go func() {
		_, err := first.HandleOrResend(func(int) error { return errors.New("not now") })
		handled <- err
	}()

	select {
	case err := <-handled:
		assert.EqualError(t, err, "not now")
	case <-time.After(time.Second):
		t.Fatal("resend waited on a buffer only its caller drains")
	}
	assert.False(t, first.Resendable(), "a repost that found no room detaches")
	assert.Equal(t, 1, rec.Count(intercept.EventSideEffectUndelivered))

	second := <-effects
	assert.Equal(t, 2, second.Peek())
}

func TestStore_DefaultOverflowDropsInsteadOfStalling(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()
	total := effect.DefaultBufferSize + 6
	s, err := New[int, int, int](0, func(ctx context.Context, scope *Scope[int, int, int], n int) error {
		for i := 0; i < n; i++ {
			if err := scope.PostSideEffect(i); err != nil {
				return err
			}
		}
		return nil
	}, WithInterceptors(rec))
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Dispatch(ctx, total), "no subscriber must not block the handler")
	assert.Equal(t, effect.DefaultBufferSize, rec.Count(intercept.EventSideEffectEmitted))
	assert.Equal(t, 6, rec.Count(intercept.EventSideEffectUndelivered))
}

func TestStore_UndeliveredSideEffectIsReported(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()
	s, err := New[string, int, string](0, func(ctx context.Context, scope *Scope[string, int, string], intent string) error {
		return scope.PostSideEffect("toast:" + intent)
	}, WithInterceptors(rec), WithSideEffects(effect.Share, 4, effect.Drop))
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Dispatch(ctx, "saved"), "undelivered effects do not fail the handler")

	undelivered := rec.Filter(intercept.EventSideEffectUndelivered)
	require.Len(t, undelivered, 1)
	assert.Equal(t, "toast:saved", undelivered[0].Value)
	assert.ErrorIs(t, undelivered[0].Err, effect.ErrUndelivered)
}

func TestStore_ClosedBusEffectsAreReported(t *testing.T) {
	ctx := testContext(t)
	rec := intercept.NewRecorder()
	s, err := New[string, int, string](0, func(ctx context.Context, scope *Scope[string, int, string], intent string) error {
		return scope.PostSideEffect(intent)
	}, WithInterceptors(rec))
	require.NoError(t, err)

	require.NoError(t, s.Dispatch(ctx, "unread"))
	require.NoError(t, s.CloseAndWait(ctx))

	assert.Equal(t, 1, rec.Count(intercept.EventSideEffectEmitted))
	assert.Equal(t, 1, rec.Count(intercept.EventSideEffectUndelivered), "buffered effect is drained on close")

	err = s.PostSideEffect(ctx, "after")
	assert.True(t, IsClosedError(err))
}

func TestStore_DebugChecksCatchImpureTransform(t *testing.T) {
	ctx := testContext(t)
	var failures atomic.Int32
	var calls atomic.Int32
	s, err := NewContainer[int, string](0,
		WithDebugChecks(true),
		WithExceptionHandler(func(ctx context.Context, err error) {
			if IsDebugCheckError(err) {
				failures.Add(1)
			}
		}),
	)
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Dispatch(ctx, func(ctx context.Context, scope *Scope[Action[int, string], int, string]) error {
		scope.UpdateState(func(v int) int { return v + int(calls.Add(1)) })
		return nil
	}))
	assert.Equal(t, int32(1), failures.Load())

	require.NoError(t, s.Dispatch(ctx, func(ctx context.Context, scope *Scope[Action[int, string], int, string]) error {
		scope.UpdateState(func(v int) int { return v + 1 })
		return nil
	}))
	assert.Equal(t, int32(1), failures.Load(), "pure transforms pass")
}

func TestStore_DebugChecksCatchLeakedScope(t *testing.T) {
	ctx := testContext(t)
	s, err := NewContainer[int, string](0,
		WithDebugChecks(true),
		WithExceptionHandler(func(context.Context, error) {}),
	)
	require.NoError(t, err)
	closeStore(t, s)

	var leaked *Scope[Action[int, string], int, string]
	require.NoError(t, s.Dispatch(ctx, func(ctx context.Context, scope *Scope[Action[int, string], int, string]) error {
		leaked = scope
		return nil
	}))

	err = leaked.PostSideEffect("late")
	assert.True(t, IsDebugCheckError(err))
	assert.Contains(t, err.Error(), "PostSideEffect")
}

func TestStore_DirectRunsHandlerInsideEmit(t *testing.T) {
	ctx := testContext(t)
	s, err := NewReducer[int, int, string](0, sum, WithIntentStrategy(strategy.Direct()))
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Emit(ctx, 3))
	assert.Equal(t, 3, s.State(), "state is updated before Emit returns")
}

func TestStore_ScopeSendQueuesFollowUp(t *testing.T) {
	ctx := testContext(t)
	s, err := New[int, []int, string](nil, func(ctx context.Context, scope *Scope[int, []int, string], n int) error {
		scope.UpdateState(func(st []int) []int { return append(slices.Clone(st), n) })
		if n > 0 {
			_, err := scope.Send(n - 1)
			return err
		}
		return nil
	})
	require.NoError(t, err)
	closeStore(t, s)

	require.NoError(t, s.Dispatch(ctx, 3))
	require.NoError(t, s.Wait(ctx))
	assert.Equal(t, []int{3, 2, 1, 0}, s.State())
}

func TestStore_DefaultNamesAreUnique(t *testing.T) {
	a, err := NewReducer[int, int, string](0, sum)
	require.NoError(t, err)
	b, err := NewReducer[int, int, string](0, sum)
	require.NoError(t, err)

	assert.Regexp(t, `^store#\d+$`, a.Name())
	assert.NotEqual(t, a.Name(), b.Name())
}

func TestStore_InvalidSettings(t *testing.T) {
	_, err := NewReducer[int, int, string](0, sum, WithSideJobLimit(-1))
	assert.Error(t, err)

	_, err = NewReducer[int, int, string](0, sum, WithSideEffects("broadcast", 1, effect.Drop))
	assert.Error(t, err)

	_, err = New[int, int, string](0, nil)
	assert.Error(t, err)
}

type countingDecorator struct {
	*Decorator[int, int, string]
	sends atomic.Int32
}

func (d *countingDecorator) Emit(ctx context.Context, n int) error {
	d.sends.Add(1)
	return d.Decorator.Emit(ctx, n)
}

func TestDecorator_ForwardsAndOverrides(t *testing.T) {
	ctx := testContext(t)
	s, err := NewReducer[int, int, string](0, sum)
	require.NoError(t, err)
	closeStore(t, s)

	d := &countingDecorator{Decorator: NewDecorator[int, int, string](s)}
	var c Container[int, int, string] = d

	require.NoError(t, c.Emit(ctx, 2))
	require.NoError(t, c.Dispatch(ctx, 3))

	assert.Equal(t, int32(1), d.sends.Load())
	assert.Equal(t, 5, c.State())
	assert.Equal(t, s.Name(), c.Name())
	assert.Same(t, s, d.Inner())
}
