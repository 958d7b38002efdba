// Package intercept provides the observation hooks of a store.
//
// Every lifecycle transition of a store (bootstrap, intent, side effect,
// side job, state change, close) is reported as an Event to the store's
// Interceptor. Interceptors observe only: they cannot alter control flow,
// suppress errors or mutate state. Level values align with OpenTelemetry
// severity numbers so events map onto log records without translation.
package intercept

import (
	"fmt"
	"log/slog"
	"time"
)

// Level represents event severity aligned with OTel SeverityNumber ranges.
type Level int

const (
	LevelVerbose Level = 5  // OTel DEBUG (5-8)
	LevelInfo    Level = 9  // OTel INFO (9-12)
	LevelWarning Level = 13 // OTel WARN (13-16)
	LevelError   Level = 17 // OTel ERROR (17-20)
)

// String returns the OTel severity text for the level.
func (l Level) String() string {
	switch {
	case l <= 4:
		return "TRACE"
	case l <= 8:
		return "DEBUG"
	case l <= 12:
		return "INFO"
	case l <= 16:
		return "WARN"
	case l <= 20:
		return "ERROR"
	default:
		return "FATAL"
	}
}

// SlogLevel maps this level to the corresponding slog.Level.
func (l Level) SlogLevel() slog.Level {
	switch {
	case l <= 8:
		return slog.LevelDebug
	case l <= 12:
		return slog.LevelInfo
	case l <= 16:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// EventType identifies a lifecycle transition.
type EventType string

const (
	EventStoreStart   EventType = "store.start"
	EventStoreClosing EventType = "store.closing"
	EventStoreClosed  EventType = "store.closed"
	EventStoreError   EventType = "store.error"

	EventBootstrapStart    EventType = "bootstrap.start"
	EventBootstrapComplete EventType = "bootstrap.complete"
	EventBootstrapCancel   EventType = "bootstrap.cancel"
	EventBootstrapError    EventType = "bootstrap.error"

	EventIntentQueued      EventType = "intent.queued"
	EventIntentRejected    EventType = "intent.rejected"
	EventIntentAccepted    EventType = "intent.accepted"
	EventIntentHandled     EventType = "intent.handled"
	EventIntentCancelled   EventType = "intent.cancelled"
	EventIntentError       EventType = "intent.error"
	EventIntentUndelivered EventType = "intent.undelivered"

	EventSideEffectEmitted     EventType = "sideeffect.emitted"
	EventSideEffectUndelivered EventType = "sideeffect.undelivered"

	EventSideJobQueued   EventType = "sidejob.queued"
	EventSideJobStart    EventType = "sidejob.start"
	EventSideJobComplete EventType = "sidejob.complete"
	EventSideJobCancel   EventType = "sidejob.cancel"
	EventSideJobError    EventType = "sidejob.error"

	EventStateChanged EventType = "state.changed"
)

// DefaultLevel returns the severity a store assigns to events of type t.
func DefaultLevel(t EventType) Level {
	switch t {
	case EventStoreError, EventBootstrapError, EventIntentError, EventSideJobError:
		return LevelError
	case EventIntentUndelivered, EventSideEffectUndelivered, EventIntentCancelled,
		EventSideJobCancel, EventBootstrapCancel, EventIntentRejected:
		return LevelWarning
	case EventIntentQueued, EventIntentAccepted, EventSideJobQueued, EventStateChanged,
		EventSideEffectEmitted:
		return LevelVerbose
	default:
		return LevelInfo
	}
}

// Event is one lifecycle transition of a store.
//
// Seq is strictly increasing per store. RequestID correlates all events of
// a single intent. Key names the side job for sidejob.* events. Value holds
// the intent, side effect or new state the event is about.
type Event struct {
	Seq       int64
	Type      EventType
	Level     Level
	Timestamp time.Time
	Store     string
	RequestID string
	Intent    string
	Key       string
	Value     any
	Err       error
	Data      map[string]any
}

// Named lets intents and side effects supply their own log name instead of
// the Go type name.
type Named interface {
	IntentName() string
}

// NameOf returns the display name of an intent or side effect.
func NameOf(v any) string {
	switch n := v.(type) {
	case nil:
		return "<nil>"
	case Named:
		return n.IntentName()
	default:
		return fmt.Sprintf("%T", v)
	}
}
