// Package demo is a small counter store used by the scenario harness and
// the fluxo CLI. It exercises every store capability: state updates,
// failures, cancellation, side effects and restartable side jobs.
package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/fluxo/internal/effect"
	"github.com/roach88/fluxo/internal/engine"
)

// State is the counter's state.
type State struct {
	Count int `json:"count"`
	Ticks int `json:"ticks"`
}

// Effect is a side effect emitted by the counter: Count or Delivery.
type Effect interface {
	IntentName() string
}

// Count reports the count at the time of a Notify.
type Count struct {
	Value int `json:"value"`
}

// IntentName names the effect in traces.
func (Count) IntentName() string { return "Count" }

// Delivery is a Count that must be handled. A consumer that cannot handle
// it hands it back with Resend.
type Delivery struct {
	*effect.Guaranteed[Count]
}

// NewDelivery wraps c.
func NewDelivery(c Count) Delivery {
	return Delivery{Guaranteed: effect.NewGuaranteed(c)}
}

// IntentName names the effect in traces.
func (Delivery) IntentName() string { return "Delivery" }

// MarshalJSON encodes the wrapped count.
func (d Delivery) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Peek())
}

// Intent is implemented by every counter intent.
type Intent interface {
	IntentName() string
}

// Add adds N to the count.
type Add struct {
	N int `json:"n"`
}

// Reset sets the count back to zero.
type Reset struct{}

// Slow waits DelayMS milliseconds, then adds N. It is the intent to use
// when showing Lifo cancellation.
type Slow struct {
	N       int `json:"n"`
	DelayMS int `json:"delay_ms"`
}

// Fail makes the handler return an error.
type Fail struct {
	Reason string `json:"reason"`
}

// Crash makes the handler panic.
type Crash struct{}

// Notify posts the current count as an effect.
type Notify struct {
	// Guaranteed posts a Delivery instead of a Count.
	Guaranteed bool `json:"guaranteed"`
}

// StartTicker launches the "ticker" side job, which sends Times Tick
// intents EveryMS milliseconds apart. Starting it again restarts it.
type StartTicker struct {
	EveryMS int `json:"every_ms"`
	Times   int `json:"times"`
}

// StopTicker cancels the ticker side job.
type StopTicker struct{}

// Tick increments the tick count.
type Tick struct{}

func (Add) IntentName() string         { return "Add" }
func (Reset) IntentName() string       { return "Reset" }
func (Slow) IntentName() string        { return "Slow" }
func (Fail) IntentName() string        { return "Fail" }
func (Crash) IntentName() string       { return "Crash" }
func (Notify) IntentName() string      { return "Notify" }
func (StartTicker) IntentName() string { return "StartTicker" }
func (StopTicker) IntentName() string  { return "StopTicker" }
func (Tick) IntentName() string        { return "Tick" }

// TickerKey is the side job key of the ticker.
const TickerKey = "ticker"

// ErrFailed is wrapped by the error a Fail intent returns.
var ErrFailed = errors.New("counter failure")

// Store is a counter store.
type Store = engine.Store[Intent, State, Effect]

// Scope is the scope counter handlers receive.
type Scope = engine.Scope[Intent, State, Effect]

// New creates a counter store starting at zero.
func New(opts ...engine.Option) (*Store, error) {
	return engine.New[Intent, State, Effect](State{}, Handle, opts...)
}

// Seed returns a bootstrapper that sets the count to n.
func Seed(n int) engine.Bootstrapper[Intent, State, Effect] {
	return func(ctx context.Context, scope *Scope) error {
		scope.UpdateState(func(s State) State {
			s.Count = n
			return s
		})
		return nil
	}
}

// Handle is the counter's intent handler.
func Handle(ctx context.Context, scope *Scope, intent Intent) error {
	switch in := intent.(type) {
	case Add:
		scope.UpdateState(func(s State) State {
			s.Count += in.N
			return s
		})
	case Reset:
		scope.UpdateState(func(s State) State {
			s.Count = 0
			return s
		})
	case Slow:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(in.DelayMS) * time.Millisecond):
		}
		scope.UpdateState(func(s State) State {
			s.Count += in.N
			return s
		})
	case Fail:
		return fmt.Errorf("%w: %s", ErrFailed, in.Reason)
	case Crash:
		panic("counter crashed")
	case Notify:
		c := Count{Value: scope.State().Count}
		if in.Guaranteed {
			return scope.PostSideEffect(NewDelivery(c))
		}
		return scope.PostSideEffect(c)
	case StartTicker:
		_, err := scope.SideJob(TickerKey, ticker(in))
		return err
	case StopTicker:
		scope.CancelSideJob(TickerKey)
	case Tick:
		scope.UpdateState(func(s State) State {
			s.Ticks++
			return s
		})
	default:
		return fmt.Errorf("unknown intent %T", intent)
	}
	return nil
}

func ticker(in StartTicker) engine.SideJobFunc[Intent, State, Effect] {
	every := time.Duration(in.EveryMS) * time.Millisecond
	return func(ctx context.Context, scope *Scope, restart engine.RestartState) error {
		for i := 0; i < in.Times; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(every):
			}
			if _, err := scope.Send(Tick{}); err != nil {
				return err
			}
		}
		return nil
	}
}

var decoders = map[string]func() Intent{
	"Add":         func() Intent { return &Add{} },
	"Reset":       func() Intent { return &Reset{} },
	"Slow":        func() Intent { return &Slow{} },
	"Fail":        func() Intent { return &Fail{} },
	"Crash":       func() Intent { return &Crash{} },
	"Notify":      func() Intent { return &Notify{} },
	"StartTicker": func() Intent { return &StartTicker{} },
	"StopTicker":  func() Intent { return &StopTicker{} },
	"Tick":        func() Intent { return &Tick{} },
}

// Intents lists the intent names Decode accepts.
func Intents() []string {
	names := make([]string, 0, len(decoders))
	for name := range decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode builds the intent called name from loosely typed args, as read
// from a scenario file or the command line.
func Decode(name string, args map[string]any) (Intent, error) {
	mk, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown intent %q: must be one of %v", name, Intents())
	}
	ptr := mk()
	if len(args) > 0 {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("intent %s: encode args: %w", name, err)
		}
		if err := json.Unmarshal(data, ptr); err != nil {
			return nil, fmt.Errorf("intent %s: %w", name, err)
		}
	}
	return deref(ptr), nil
}

func deref(ptr Intent) Intent {
	switch p := ptr.(type) {
	case *Add:
		return *p
	case *Reset:
		return *p
	case *Slow:
		return *p
	case *Fail:
		return *p
	case *Crash:
		return *p
	case *Notify:
		return *p
	case *StartTicker:
		return *p
	case *StopTicker:
		return *p
	case *Tick:
		return *p
	}
	return ptr
}
