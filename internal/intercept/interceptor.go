package intercept

import (
	"context"
	"log/slog"
	"sync"
)

// Interceptor receives the lifecycle events of a store.
//
// OnEvent is called synchronously from the goroutine where the transition
// happened, possibly from many goroutines at once. Implementations must be
// safe for concurrent use and should return quickly.
type Interceptor interface {
	OnEvent(ctx context.Context, event Event)
}

// Func adapts an ordinary function to an Interceptor.
type Func func(ctx context.Context, event Event)

func (f Func) OnEvent(ctx context.Context, event Event) { f(ctx, event) }

// NoOp discards all events.
type NoOp struct{}

func (NoOp) OnEvent(ctx context.Context, event Event) {}

// Chain fans events out to interceptors in registration order.
//
// A panicking interceptor is recovered and logged; the remaining
// interceptors still see the event and the store is unaffected.
type Chain struct {
	interceptors []Interceptor
}

// NewChain creates a Chain over the non-nil interceptors.
func NewChain(interceptors ...Interceptor) *Chain {
	filtered := make([]Interceptor, 0, len(interceptors))
	for _, i := range interceptors {
		if i != nil {
			filtered = append(filtered, i)
		}
	}
	return &Chain{interceptors: filtered}
}

// Len returns the number of interceptors in the chain.
func (c *Chain) Len() int {
	return len(c.interceptors)
}

func (c *Chain) OnEvent(ctx context.Context, event Event) {
	for _, i := range c.interceptors {
		dispatch(ctx, i, event)
	}
}

func dispatch(ctx context.Context, i Interceptor, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("interceptor panicked",
				"event", string(event.Type),
				"store", event.Store,
				"panic", r,
			)
		}
	}()
	i.OnEvent(ctx, event)
}

// Slog emits events to a slog.Logger. The event type becomes the log
// message; identifying fields and Data keys become attributes.
type Slog struct {
	logger *slog.Logger
}

// NewSlog creates a Slog interceptor. A nil logger uses slog.Default().
func NewSlog(logger *slog.Logger) *Slog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Slog{logger: logger}
}

func (s *Slog) OnEvent(ctx context.Context, event Event) {
	attrs := make([]slog.Attr, 0, len(event.Data)+5)
	attrs = append(attrs,
		slog.String("store", event.Store),
		slog.Int64("seq", event.Seq),
	)
	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Intent != "" {
		attrs = append(attrs, slog.String("intent", event.Intent))
	}
	if event.Key != "" {
		attrs = append(attrs, slog.String("key", event.Key))
	}
	if event.Err != nil {
		attrs = append(attrs, slog.String("error", event.Err.Error()))
	}
	for k, v := range event.Data {
		attrs = append(attrs, slog.Any(k, v))
	}

	s.logger.LogAttrs(ctx, event.Level.SlogLevel(), string(event.Type), attrs...)
}

// Recorder keeps every event in memory, in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) OnEvent(ctx context.Context, event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Filter returns the recorded events of the given types.
func (r *Recorder) Filter(types ...EventType) []Event {
	want := make(map[EventType]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if want[e.Type] {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t EventType) int {
	return len(r.Filter(t))
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
