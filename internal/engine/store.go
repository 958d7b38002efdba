package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
	"golang.org/x/sync/semaphore"

	"github.com/roach88/fluxo/internal/effect"
	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/job"
	"github.com/roach88/fluxo/internal/strategy"
)

// Handler processes one intent. It may read and update state, post side
// effects and launch side jobs through scope. Returning an error that wraps
// context.Canceled reports the intent as cancelled; any other error is a
// handler failure.
type Handler[I, S, E any] func(ctx context.Context, scope *Scope[I, S, E], intent I) error

// Reducer folds an intent into the state. It must be pure.
type Reducer[I, S any] func(state S, intent I) S

// Bootstrapper runs once when a store starts.
type Bootstrapper[I, S, E any] func(ctx context.Context, scope *Scope[I, S, E]) error

// Action is the intent type of a container store: the intent is the code
// to run.
type Action[S, E any] func(ctx context.Context, scope *Scope[Action[S, E], S, E]) error

var storeSerial atomix.Uint32

// Store holds state of type S, processes intents of type I through an
// input strategy and emits side effects of type E.
//
// Thread-safety model:
//   - Send, Emit, SendAsync, State, Observe, SideEffects: safe from any goroutine
//   - state transitions are lock-free compare-and-swap on a versioned cell
//   - Close is idempotent and may be called from a handler
type Store[I, S, E any] struct {
	name        string
	settings    Settings
	handler     Handler[I, S, E]
	bootstrap   Bootstrapper[I, S, E]
	filter      func(S, I) bool
	logger      *slog.Logger
	interceptor intercept.Interceptor
	clock       *Clock
	ids         IDGenerator

	state     atomic.Pointer[stateBox[S]]
	observers *observerSet[S]

	ctx    context.Context
	cancel context.CancelFunc

	lifecycle   atomic.Int32
	startMu     sync.Mutex
	strategy    strategy.Strategy
	running     chan struct{}
	runningOnce sync.Once

	bus        effect.Bus[E]
	sideJobs   sync.Map // key -> *sideJob
	sideJobSem *semaphore.Weighted
	inflight   *job.Group

	closeOnce sync.Once
	done      chan struct{}
	errMu     sync.Mutex
	err       error
}

// New creates a store with an initial state and an intent handler.
//
// Unless WithLazyStart(false) is given, the store starts on the first
// intent. Options are applied over DefaultSettings.
func New[I, S, E any](initial S, handler Handler[I, S, E], opts ...Option) (*Store[I, S, E], error) {
	if handler == nil {
		return nil, errors.New("engine: nil handler")
	}

	settings := DefaultSettings()
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.Name == "" {
		settings.Name = fmt.Sprintf("store#%d", storeSerial.Add(1))
	}
	if settings.Logger == nil {
		settings.Logger = slog.Default()
	}
	if settings.IntentStrategy == nil {
		settings.IntentStrategy = strategy.Fifo()
	}
	if settings.IDGenerator == nil {
		settings.IDGenerator = UUIDv7Generator{}
	}
	if settings.Clock == nil {
		settings.Clock = NewClock()
	}
	if settings.Context == nil {
		settings.Context = context.Background()
	}
	if settings.SideJobLimit < 0 {
		return nil, fmt.Errorf("store %s: negative side job limit %d", settings.Name, settings.SideJobLimit)
	}

	bus, err := effect.New[E](effect.Config{
		Strategy:   settings.SideEffectStrategy,
		BufferSize: settings.SideEffectBufferSize,
		Overflow:   settings.SideEffectOverflow,
	})
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", settings.Name, err)
	}

	s := &Store[I, S, E]{
		name:        settings.Name,
		settings:    settings,
		handler:     handler,
		logger:      settings.Logger.With("store", settings.Name),
		interceptor: intercept.NewChain(settings.Interceptors...),
		clock:       settings.Clock,
		ids:         settings.IDGenerator,
		observers:   newObserverSet[S](),
		running:     make(chan struct{}),
		bus:         bus,
		inflight:    job.NewGroup(),
		done:        make(chan struct{}),
	}

	if settings.bootstrapper != nil {
		b, ok := settings.bootstrapper.(Bootstrapper[I, S, E])
		if !ok {
			return nil, fmt.Errorf("store %s: bootstrapper %T does not match store types", s.name, settings.bootstrapper)
		}
		s.bootstrap = b
	}
	if settings.intentFilter != nil {
		f, ok := settings.intentFilter.(func(S, I) bool)
		if !ok {
			return nil, fmt.Errorf("store %s: intent filter %T does not match store types", s.name, settings.intentFilter)
		}
		s.filter = f
	}
	if settings.SideJobLimit > 0 {
		s.sideJobSem = semaphore.NewWeighted(int64(settings.SideJobLimit))
	}

	s.state.Store(&stateBox[S]{value: initial, version: 1})
	s.ctx, s.cancel = context.WithCancel(settings.Context)

	// A cancelled parent context closes the store.
	context.AfterFunc(s.ctx, func() { s.shutdown(context.Cause(s.ctx)) })

	if !settings.LazyStart {
		if err := s.Start(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewReducer creates a store whose intents are folded into state by a
// pure reducer.
func NewReducer[I, S, E any](initial S, reduce Reducer[I, S], opts ...Option) (*Store[I, S, E], error) {
	if reduce == nil {
		return nil, errors.New("engine: nil reducer")
	}
	return New[I, S, E](initial, func(ctx context.Context, scope *Scope[I, S, E], intent I) error {
		scope.UpdateState(func(state S) S { return reduce(state, intent) })
		return nil
	}, opts...)
}

// NewContainer creates a store whose intents are actions run against the
// store's scope.
func NewContainer[S, E any](initial S, opts ...Option) (*Store[Action[S, E], S, E], error) {
	return New[Action[S, E], S, E](initial, func(ctx context.Context, scope *Scope[Action[S, E], S, E], action Action[S, E]) error {
		if action == nil {
			return nil
		}
		return action(ctx, scope)
	}, opts...)
}

// Name returns the store name.
func (s *Store[I, S, E]) Name() string {
	return s.name
}

// Settings returns a copy of the effective settings.
func (s *Store[I, S, E]) Settings() Settings {
	return s.settings
}

// Lifecycle returns the current lifecycle state.
func (s *Store[I, S, E]) Lifecycle() Lifecycle {
	return Lifecycle(s.lifecycle.Load())
}

// Done is closed once the store is fully closed.
func (s *Store[I, S, E]) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that closed the store, if any.
func (s *Store[I, S, E]) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Start starts the input strategy and runs the bootstrapper. Calling Start
// on a running store is a no-op; on a closed store it returns a closed error.
func (s *Store[I, S, E]) Start() error {
	s.startMu.Lock()
	switch s.Lifecycle() {
	case LifecycleCreated:
	case LifecycleClosing, LifecycleClosed:
		s.startMu.Unlock()
		return newClosedError(s.name, "")
	default:
		s.startMu.Unlock()
		return nil
	}
	s.strategy = s.settings.IntentStrategy(strategyScope[I, S, E]{s})
	s.lifecycle.Store(int32(LifecycleStarted))
	s.startMu.Unlock()

	s.logger.Info("store started", "strategy", s.strategy.Name())
	s.notify(s.ctx, intercept.Event{
		Type: intercept.EventStoreStart,
		Data: map[string]any{"strategy": s.strategy.Name()},
	})

	if s.bootstrap != nil {
		j := job.New(s.ctx)
		s.inflight.Add(j)
		if s.settings.BootstrapBlocking {
			j.Finish(s.runBootstrap(j.Context()))
		} else {
			go func() { j.Finish(s.runBootstrap(j.Context())) }()
		}
	}

	s.lifecycle.CompareAndSwap(int32(LifecycleStarted), int32(LifecycleRunning))
	s.runningOnce.Do(func() { close(s.running) })
	return nil
}

// Send queues intent and returns its completion handle without waiting
// for the handler. It blocks only while a bounded input strategy is full.
func (s *Store[I, S, E]) Send(intent I) (*job.Job, error) {
	return s.enqueue(context.Background(), intent, false)
}

// SendAsync is Send with a caller context bounding the enqueue.
func (s *Store[I, S, E]) SendAsync(ctx context.Context, intent I) (*job.Job, error) {
	return s.enqueue(ctx, intent, false)
}

// Emit waits until the input strategy has accepted intent. For Direct this
// means the handler has returned.
func (s *Store[I, S, E]) Emit(ctx context.Context, intent I) error {
	_, err := s.enqueue(ctx, intent, false)
	return err
}

// Dispatch sends intent and waits for its handler to finish, returning the
// handler's error.
func (s *Store[I, S, E]) Dispatch(ctx context.Context, intent I) error {
	j, err := s.enqueue(ctx, intent, false)
	if err != nil {
		return err
	}
	return j.Wait(ctx)
}

// SideEffects returns a channel of side effects. With the receive strategy
// every caller gets the same channel and callers compete for effects; ctx
// is ignored and the channel closes when the store closes. With share each
// caller gets its own channel carrying every effect posted while it is
// subscribed, closed when ctx ends or the store closes.
func (s *Store[I, S, E]) SideEffects(ctx context.Context) <-chan E {
	return s.bus.Subscribe(ctx)
}

// Close stops accepting intents, cancels in-flight work and releases
// resources in the background. It is idempotent and never blocks on
// handlers, so it is safe to call from one.
func (s *Store[I, S, E]) Close() error {
	s.shutdown(nil)
	return nil
}

// CloseAndWait closes the store and waits until it is fully closed or ctx
// ends.
func (s *Store[I, S, E]) CloseAndWait(ctx context.Context) error {
	s.shutdown(nil)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every intent and side job in flight has finished, or
// ctx ends. The store keeps running.
func (s *Store[I, S, E]) Wait(ctx context.Context) error {
	return s.inflight.Wait(ctx)
}

func (s *Store[I, S, E]) isClosing() bool {
	return !s.Lifecycle().Accepting()
}

func (s *Store[I, S, E]) enqueue(ctx context.Context, intent I, internal bool) (*job.Job, error) {
	name := intercept.NameOf(intent)

	if s.Lifecycle() == LifecycleCreated {
		if err := s.Start(); err != nil {
			return nil, newClosedError(s.name, name)
		}
	}

	if s.isClosing() {
		return nil, newClosedError(s.name, name)
	}

	// External senders wait out a blocking bootstrap. Handlers and the
	// bootstrapper itself do not.
	if !internal {
		select {
		case <-s.running:
		case <-s.ctx.Done():
			return nil, newClosedError(s.name, name)
		case <-ctx.Done():
			if s.ctx.Err() != nil {
				return nil, newClosedError(s.name, name)
			}
			return nil, ctx.Err()
		}
	}
	if s.isClosing() {
		return nil, newClosedError(s.name, name)
	}

	id := s.ids.Generate()
	if s.filter != nil && !s.filter(s.State(), intent) {
		s.notify(ctx, intercept.Event{
			Type:      intercept.EventIntentRejected,
			RequestID: id,
			Intent:    name,
			Value:     intent,
		})
		return job.Completed(nil), nil
	}

	j := job.New(s.ctx)
	req := &request[I]{id: id, intent: intent, name: name, job: j}
	s.inflight.Add(j)
	s.notify(ctx, intercept.Event{
		Type:      intercept.EventIntentQueued,
		RequestID: id,
		Intent:    name,
		Value:     intent,
	})

	if err := s.strategy.QueueIntent(ctx, req); err != nil {
		if errors.Is(err, strategy.ErrClosed) {
			err = newClosedError(s.name, name)
		}
		s.notify(ctx, intercept.Event{
			Type:      intercept.EventIntentUndelivered,
			RequestID: id,
			Intent:    name,
			Value:     intent,
			Err:       err,
		})
		j.Finish(err)
		return nil, err
	}
	return j, nil
}

// execute runs one intent on behalf of the input strategy.
func (s *Store[I, S, E]) execute(ctx context.Context, req *request[I]) error {
	if err := ctx.Err(); err != nil {
		s.notify(ctx, intercept.Event{
			Type:      intercept.EventIntentCancelled,
			RequestID: req.id,
			Intent:    req.name,
			Value:     req.intent,
			Err:       err,
		})
		return err
	}

	s.notify(ctx, intercept.Event{
		Type:      intercept.EventIntentAccepted,
		RequestID: req.id,
		Intent:    req.name,
		Value:     req.intent,
	})

	scope := newScope(s, ctx, scopeIntent, req.id, req.name)
	err := recoverInto(s.name, req.name, func() error {
		return s.handler(ctx, scope, req.intent)
	})
	scope.finish()

	switch {
	case err == nil:
		s.notify(ctx, intercept.Event{
			Type:      intercept.EventIntentHandled,
			RequestID: req.id,
			Intent:    req.name,
			Value:     req.intent,
		})
		return nil
	case IsCancellation(err):
		s.notify(ctx, intercept.Event{
			Type:      intercept.EventIntentCancelled,
			RequestID: req.id,
			Intent:    req.name,
			Value:     req.intent,
			Err:       err,
		})
		return err
	default:
		if !IsPanicError(err) {
			err = newHandlerError(s.name, req.name, err)
		}
		s.notify(ctx, intercept.Event{
			Type:      intercept.EventIntentError,
			RequestID: req.id,
			Intent:    req.name,
			Value:     req.intent,
			Err:       err,
		})
		s.handleException(ctx, err)
		return err
	}
}

// undelivered finishes a request the strategy dropped without running it.
func (s *Store[I, S, E]) undelivered(req *request[I], cause error) {
	s.notify(s.ctx, intercept.Event{
		Type:      intercept.EventIntentUndelivered,
		RequestID: req.id,
		Intent:    req.name,
		Value:     req.intent,
		Err:       cause,
	})
	req.job.Finish(cause)
}

func (s *Store[I, S, E]) runBootstrap(ctx context.Context) error {
	s.notify(ctx, intercept.Event{Type: intercept.EventBootstrapStart})

	scope := newScope(s, ctx, scopeBootstrap, "", "bootstrap")
	err := recoverInto(s.name, "bootstrap", func() error {
		return s.bootstrap(ctx, scope)
	})
	scope.finish()

	switch {
	case err == nil:
		s.notify(ctx, intercept.Event{Type: intercept.EventBootstrapComplete})
		return nil
	case IsCancellation(err):
		s.notify(ctx, intercept.Event{Type: intercept.EventBootstrapCancel, Err: err})
		return err
	}

	if !IsPanicError(err) {
		err = &StoreError{
			Code:    ErrCodeBootstrapFailed,
			Message: "bootstrap failed",
			Store:   s.name,
			Err:     err,
		}
	}
	s.notify(ctx, intercept.Event{Type: intercept.EventBootstrapError, Err: err})

	if s.settings.ExceptionHandler != nil {
		s.handleException(ctx, err)
		return err
	}

	// Without a handler a failed bootstrap is a store failure.
	s.logger.Error("bootstrap failed, closing store", "error", err)
	go s.shutdown(err)
	return err
}

// handleException routes a non-cancellation failure.
func (s *Store[I, S, E]) handleException(ctx context.Context, err error) {
	if h := s.settings.ExceptionHandler; h != nil {
		h(ctx, err)
	} else {
		s.logger.Error("store handler failed", "error", err)
	}
	if s.settings.CloseOnExceptions {
		// Asynchronous: the failing handler is still on the stack.
		go s.shutdown(err)
	}
}

// shutdown moves the store to Closing, cancels its work and finishes
// closing in the background once in-flight work has returned.
func (s *Store[I, S, E]) shutdown(cause error) {
	s.closeOnce.Do(func() {
		if cause != nil && !IsCancellation(cause) {
			s.errMu.Lock()
			s.err = cause
			s.errMu.Unlock()
		}

		s.startMu.Lock()
		s.lifecycle.Store(int32(LifecycleClosing))
		st := s.strategy
		s.startMu.Unlock()

		s.logger.Info("store closing")
		s.notify(context.Background(), intercept.Event{Type: intercept.EventStoreClosing, Err: s.Err()})

		// Close the strategy before cancelling so a worker freed by the
		// cancellation cannot pick up queued work.
		if st != nil {
			for _, r := range st.Close() {
				req := r.(*request[I])
				s.undelivered(req, newClosedError(s.name, req.name))
			}
		}

		s.cancel()

		s.sideJobs.Range(func(_, v any) bool {
			v.(*sideJob).job.Cancel()
			return true
		})

		for _, e := range s.bus.Close() {
			effect.Detach(e)
			s.notify(context.Background(), intercept.Event{
				Type:   intercept.EventSideEffectUndelivered,
				Intent: intercept.NameOf(e),
				Value:  e,
				Err:    newClosedError(s.name, ""),
			})
		}

		go s.finishClose()
	})
}

func (s *Store[I, S, E]) finishClose() {
	ctx := context.Background()
	if s.settings.StopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.StopTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := s.inflight.Wait(ctx); err != nil {
		s.logger.Warn("in-flight work did not stop in time",
			"timeout", s.settings.StopTimeout,
			"remaining", s.inflight.Len())
	}

	s.lifecycle.Store(int32(LifecycleClosed))
	s.observers.closeAll()
	s.logger.Info("store closed", "elapsed", time.Since(start))
	s.notify(context.Background(), intercept.Event{Type: intercept.EventStoreClosed, Err: s.Err()})
	close(s.done)
}

// notify stamps and dispatches an interceptor event.
func (s *Store[I, S, E]) notify(ctx context.Context, event intercept.Event) {
	event.Seq, event.Timestamp = s.clock.Stamp()
	event.Store = s.name
	if event.Level == 0 {
		event.Level = intercept.DefaultLevel(event.Type)
	}
	s.interceptor.OnEvent(ctx, event)
}

// request is one queued intent.
type request[I any] struct {
	id     string
	intent I
	name   string
	job    *job.Job
}

func (r *request[I]) ID() string { return r.id }

func (r *request[I]) Job() *job.Job { return r.job }

// strategyScope exposes the store to its input strategy.
type strategyScope[I, S, E any] struct {
	s *Store[I, S, E]
}

func (a strategyScope[I, S, E]) Context() context.Context {
	return a.s.ctx
}

func (a strategyScope[I, S, E]) Execute(ctx context.Context, req strategy.Request) error {
	return a.s.execute(ctx, req.(*request[I]))
}

func (a strategyScope[I, S, E]) Undelivered(req strategy.Request) {
	r := req.(*request[I])
	a.s.undelivered(r, &StoreError{
		Code:    ErrCodeSuperseded,
		Message: "intent superseded",
		Store:   a.s.name,
		Intent:  r.name,
	})
}
