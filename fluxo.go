// Package fluxo is a unidirectional state container.
//
// A Store holds one immutable state value. Callers send intents; a
// handler running under the store's input strategy turns each intent into
// state updates, one-shot side effects for the UI layer, and keyed side
// jobs that outlive the intent. Every lifecycle step is reported to
// interceptors as an Event.
//
//	store, err := fluxo.New(Counter{}, handle, fluxo.WithIntentStrategy(fluxo.Lifo()))
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	if err := store.Dispatch(ctx, Add{N: 2}); err != nil {
//		return err
//	}
//	fmt.Println(store.State().Count)
//
// The implementation lives in internal packages; this package re-exports
// the supported surface.
package fluxo

import (
	"github.com/roach88/fluxo/internal/effect"
	"github.com/roach88/fluxo/internal/engine"
	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/job"
	"github.com/roach88/fluxo/internal/strategy"
)

// Store, its handlers and its scope.
type (
	Store[I, S, E any]        = engine.Store[I, S, E]
	Scope[I, S, E any]        = engine.Scope[I, S, E]
	Handler[I, S, E any]      = engine.Handler[I, S, E]
	Reducer[I, S any]         = engine.Reducer[I, S]
	Bootstrapper[I, S, E any] = engine.Bootstrapper[I, S, E]
	Action[S, E any]          = engine.Action[S, E]
	SideJobFunc[I, S, E any]  = engine.SideJobFunc[I, S, E]
	Container[I, S, E any]    = engine.Container[I, S, E]
	Decorator[I, S, E any]    = engine.Decorator[I, S, E]

	Settings     = engine.Settings
	Option       = engine.Option
	Lifecycle    = engine.Lifecycle
	RestartState = engine.RestartState
	IDGenerator  = engine.IDGenerator
	Clock        = engine.Clock
	StoreError   = engine.StoreError
	ErrorCode    = engine.ErrorCode
	Job          = job.Job
)

// New creates a store whose handler receives every intent.
func New[I, S, E any](initial S, handler Handler[I, S, E], opts ...Option) (*Store[I, S, E], error) {
	return engine.New(initial, handler, opts...)
}

// NewReducer creates a store from a pure reducer. Reducer stores emit no
// side effects and launch no side jobs.
func NewReducer[I, S, E any](initial S, reduce Reducer[I, S], opts ...Option) (*Store[I, S, E], error) {
	return engine.NewReducer[I, S, E](initial, reduce, opts...)
}

// NewContainer creates a store whose intents are the handlers themselves.
func NewContainer[S, E any](initial S, opts ...Option) (*Store[Action[S, E], S, E], error) {
	return engine.NewContainer[S, E](initial, opts...)
}

// NewDecorator wraps a store so selected capabilities can be overridden.
func NewDecorator[I, S, E any](inner Container[I, S, E]) *Decorator[I, S, E] {
	return engine.NewDecorator(inner)
}

// Lifecycle states.
const (
	LifecycleCreated = engine.LifecycleCreated
	LifecycleStarted = engine.LifecycleStarted
	LifecycleRunning = engine.LifecycleRunning
	LifecycleClosing = engine.LifecycleClosing
	LifecycleClosed  = engine.LifecycleClosed
)

// Side job restart states.
const (
	Initial   = engine.Initial
	Restarted = engine.Restarted
)

// Options.
var (
	DefaultSettings       = engine.DefaultSettings
	WithSettings          = engine.WithSettings
	WithName              = engine.WithName
	WithLazyStart         = engine.WithLazyStart
	WithDebugChecks       = engine.WithDebugChecks
	WithCloseOnExceptions = engine.WithCloseOnExceptions
	WithIntentStrategy    = engine.WithIntentStrategy
	WithSideEffects       = engine.WithSideEffects
	WithSideJobLimit      = engine.WithSideJobLimit
	WithExceptionHandler  = engine.WithExceptionHandler
	WithStopTimeout       = engine.WithStopTimeout
	WithInterceptors      = engine.WithInterceptors
	WithLogger            = engine.WithLogger
	WithIDGenerator       = engine.WithIDGenerator
	WithClock             = engine.WithClock
	WithContext           = engine.WithContext
)

// WithBootstrapper runs fn when the store starts. With blocking, intents
// wait until fn returns.
func WithBootstrapper[I, S, E any](fn Bootstrapper[I, S, E], blocking bool) Option {
	return engine.WithBootstrapper(fn, blocking)
}

// WithIntentFilter drops intents for which keep returns false.
func WithIntentFilter[I, S any](keep func(state S, intent I) bool) Option {
	return engine.WithIntentFilter(keep)
}

// Errors.
var (
	ErrStoreClosed    = engine.ErrStoreClosed
	ErrSuperseded     = engine.ErrSuperseded
	IsClosedError     = engine.IsClosedError
	IsPanicError      = engine.IsPanicError
	IsDebugCheckError = engine.IsDebugCheckError
	IsCancellation    = engine.IsCancellation
)

// Input strategies.
type StrategyFactory = strategy.Factory

var (
	Fifo        = strategy.Fifo
	ChannelFifo = strategy.ChannelFifo
	Lifo        = strategy.Lifo
	ChannelLifo = strategy.ChannelLifo
	Parallel    = strategy.Parallel
	Direct      = strategy.Direct
)

// Side effects.
type (
	SideEffectStrategy = effect.Strategy
	Overflow           = effect.Overflow
	Guaranteed[T any]  = effect.Guaranteed[T]
)

const (
	Receive  = effect.Receive
	Share    = effect.Share
	Disabled = effect.Disabled
	Drop     = effect.Drop
	Suspend  = effect.Suspend
)

// NewGuaranteed wraps content in an effect that must be handled once.
func NewGuaranteed[T any](content T) *Guaranteed[T] {
	return effect.NewGuaranteed(content)
}

// Interceptors.
type (
	Interceptor     = intercept.Interceptor
	InterceptorFunc = intercept.Func
	Event           = intercept.Event
	EventType       = intercept.EventType
	Level           = intercept.Level
	Named           = intercept.Named
)

var (
	NewSlog     = intercept.NewSlog
	NewRecorder = intercept.NewRecorder
	NewStream   = intercept.NewStream
)
