package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/fluxo/internal/effect"
	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/strategy"
)

// DefaultStopTimeout bounds how long a closing store waits for in-flight
// intents and side jobs before it reports itself closed anyway.
const DefaultStopTimeout = 5 * time.Second

// Settings configures a store. The zero value is not useful; start from
// DefaultSettings and apply options.
type Settings struct {
	// Name identifies the store in logs and events. Defaults to "store#N".
	Name string

	// LazyStart defers Start until the first intent is sent. When false the
	// store starts inside New.
	LazyStart bool

	// DebugChecks enables runtime misuse detection: impure state transforms
	// and scope use after the owning handler returned.
	DebugChecks bool

	// CloseOnExceptions closes the store after the first handler failure.
	CloseOnExceptions bool

	// SideEffectBufferSize is the side-effect channel capacity.
	SideEffectBufferSize int

	// SideEffectStrategy selects how side effects reach subscribers.
	SideEffectStrategy effect.Strategy

	// SideEffectOverflow selects what Post does when the buffer is full.
	// Defaults to effect.Drop: overflowing effects are reported undelivered.
	SideEffectOverflow effect.Overflow

	// BootstrapBlocking runs the bootstrapper inside Start, before any
	// external intent is accepted.
	BootstrapBlocking bool

	// IntentStrategy builds the input strategy. Defaults to strategy.Fifo.
	IntentStrategy strategy.Factory

	// SideJobLimit caps concurrently running side jobs. Zero means no limit.
	SideJobLimit int

	// ExceptionHandler receives handler, side-job and bootstrap failures.
	// When nil failures are logged; bootstrap failures then close the store.
	ExceptionHandler func(ctx context.Context, err error)

	// StopTimeout bounds the wait for in-flight work during close.
	StopTimeout time.Duration

	// Interceptors observe lifecycle events in order.
	Interceptors []intercept.Interceptor

	// Logger receives store diagnostics. Defaults to slog.Default().
	Logger *slog.Logger

	// IDGenerator produces request ids. Defaults to UUIDv7Generator.
	IDGenerator IDGenerator

	// Clock stamps event seqs. Defaults to a fresh clock.
	Clock *Clock

	// Context is the parent of every intent, side job and bootstrap context.
	Context context.Context

	// Typed hooks, checked against the store's type parameters in New.
	bootstrapper any
	intentFilter any
}

// DefaultSettings returns the settings a store uses when no option
// overrides them.
func DefaultSettings() Settings {
	return Settings{
		LazyStart:            true,
		SideEffectBufferSize: effect.DefaultBufferSize,
		SideEffectStrategy:   effect.Receive,
		SideEffectOverflow:   effect.Drop,
		IntentStrategy:       strategy.Fifo(),
		StopTimeout:          DefaultStopTimeout,
		IDGenerator:          UUIDv7Generator{},
		Context:              context.Background(),
	}
}

// Option configures store settings.
type Option func(*Settings)

// WithSettings replaces the settings wholesale. Typed hooks already set by
// earlier options are kept.
func WithSettings(s Settings) Option {
	return func(dst *Settings) {
		bootstrapper, filter := dst.bootstrapper, dst.intentFilter
		*dst = s
		if dst.bootstrapper == nil {
			dst.bootstrapper = bootstrapper
		}
		if dst.intentFilter == nil {
			dst.intentFilter = filter
		}
	}
}

// WithName sets the store name.
func WithName(name string) Option {
	return func(s *Settings) { s.Name = name }
}

// WithLazyStart toggles lazy start. Default: true.
func WithLazyStart(lazy bool) Option {
	return func(s *Settings) { s.LazyStart = lazy }
}

// WithDebugChecks toggles debug checks.
func WithDebugChecks(on bool) Option {
	return func(s *Settings) { s.DebugChecks = on }
}

// WithCloseOnExceptions closes the store after the first handler failure.
func WithCloseOnExceptions(on bool) Option {
	return func(s *Settings) { s.CloseOnExceptions = on }
}

// WithIntentStrategy sets the input strategy.
func WithIntentStrategy(f strategy.Factory) Option {
	return func(s *Settings) { s.IntentStrategy = f }
}

// WithSideEffects configures the side-effect bus. With effect.Suspend a
// full buffer blocks the posting handler until a consumer reads, which
// stalls a Fifo store that has no subscriber.
func WithSideEffects(st effect.Strategy, bufferSize int, overflow effect.Overflow) Option {
	return func(s *Settings) {
		s.SideEffectStrategy = st
		s.SideEffectBufferSize = bufferSize
		s.SideEffectOverflow = overflow
	}
}

// WithSideJobLimit caps concurrently running side jobs.
func WithSideJobLimit(n int) Option {
	return func(s *Settings) { s.SideJobLimit = n }
}

// WithExceptionHandler sets the failure handler.
func WithExceptionHandler(h func(ctx context.Context, err error)) Option {
	return func(s *Settings) { s.ExceptionHandler = h }
}

// WithStopTimeout bounds the close wait. Zero waits forever.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Settings) { s.StopTimeout = d }
}

// WithInterceptors appends interceptors.
func WithInterceptors(i ...intercept.Interceptor) Option {
	return func(s *Settings) { s.Interceptors = append(s.Interceptors, i...) }
}

// WithLogger sets the diagnostics logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Settings) { s.Logger = l }
}

// WithIDGenerator sets the request id generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Settings) { s.IDGenerator = g }
}

// WithClock sets the event clock.
func WithClock(c *Clock) Option {
	return func(s *Settings) { s.Clock = c }
}

// WithContext sets the parent context of all store work.
func WithContext(ctx context.Context) Option {
	return func(s *Settings) { s.Context = ctx }
}

// WithBootstrapper runs fn once when the store starts. With blocking set,
// Start returns only after fn does and external intents wait for it.
func WithBootstrapper[I, S, E any](fn Bootstrapper[I, S, E], blocking bool) Option {
	return func(s *Settings) {
		s.bootstrapper = fn
		s.BootstrapBlocking = blocking
	}
}

// WithIntentFilter drops intents for which keep returns false. The filter
// sees the state at send time.
func WithIntentFilter[I, S any](keep func(state S, intent I) bool) Option {
	return func(s *Settings) { s.intentFilter = keep }
}
