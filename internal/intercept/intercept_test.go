package intercept

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedIntent struct{}

func (namedIntent) IntentName() string { return "Named" }

type plainIntent struct{ N int }

func TestNameOf(t *testing.T) {
	assert.Equal(t, "Named", NameOf(namedIntent{}))
	assert.Equal(t, "intercept.plainIntent", NameOf(plainIntent{N: 1}))
	assert.Equal(t, "<nil>", NameOf(nil))
}

func TestDefaultLevel(t *testing.T) {
	assert.Equal(t, LevelError, DefaultLevel(EventIntentError))
	assert.Equal(t, LevelWarning, DefaultLevel(EventIntentUndelivered))
	assert.Equal(t, LevelVerbose, DefaultLevel(EventStateChanged))
	assert.Equal(t, LevelInfo, DefaultLevel(EventIntentHandled))
}

func TestLevel_StringAndSlog(t *testing.T) {
	tests := []struct {
		level Level
		text  string
		slog  slog.Level
	}{
		{LevelVerbose, "DEBUG", slog.LevelDebug},
		{LevelInfo, "INFO", slog.LevelInfo},
		{LevelWarning, "WARN", slog.LevelWarn},
		{LevelError, "ERROR", slog.LevelError},
		{Level(24), "FATAL", slog.LevelError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.text, tt.level.String())
		assert.Equal(t, tt.slog, tt.level.SlogLevel())
	}
}

func TestChain_OrderAndPanicIsolation(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) Interceptor {
		return Func(func(ctx context.Context, e Event) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}
	panicky := Func(func(ctx context.Context, e Event) { panic("bad interceptor") })

	chain := NewChain(record("first"), nil, panicky, record("last"))
	assert.Equal(t, 3, chain.Len())

	require.NotPanics(t, func() {
		chain.OnEvent(context.Background(), Event{Type: EventIntentHandled})
	})
	assert.Equal(t, []string{"first", "last"}, order)
}

func TestSlog_WritesAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewSlog(logger)

	s.OnEvent(context.Background(), Event{
		Seq:       7,
		Type:      EventIntentError,
		Level:     LevelError,
		Store:     "counter",
		RequestID: "req-1",
		Intent:    "Add",
		Err:       errors.New("boom"),
		Data:      map[string]any{"attempt": 2},
	})

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "intent.error")
	assert.Contains(t, out, "store=counter")
	assert.Contains(t, out, "request_id=req-1")
	assert.Contains(t, out, "error=boom")
	assert.Contains(t, out, "attempt=2")
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.OnEvent(context.Background(), Event{Type: EventIntentQueued})
	r.OnEvent(context.Background(), Event{Type: EventIntentHandled})
	r.OnEvent(context.Background(), Event{Type: EventIntentQueued})

	assert.Equal(t, []EventType{EventIntentQueued, EventIntentHandled, EventIntentQueued}, r.Types())
	assert.Equal(t, 2, r.Count(EventIntentQueued))
	assert.Len(t, r.Filter(EventIntentHandled), 1)

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestStream_BroadcastAndDrop(t *testing.T) {
	s := NewStream()
	a, unsubA := s.Subscribe(4)
	b, unsubB := s.Subscribe(1)
	defer unsubA()
	assert.Equal(t, 2, s.Subscribers())

	s.OnEvent(context.Background(), Event{Seq: 1})
	s.OnEvent(context.Background(), Event{Seq: 2})

	assert.Equal(t, int64(1), (<-a).Seq)
	assert.Equal(t, int64(2), (<-a).Seq)
	assert.Equal(t, int64(1), (<-b).Seq)
	assert.Equal(t, int64(1), s.Dropped())

	unsubB()
	unsubB()
	_, open := <-b
	assert.False(t, open)
	assert.Equal(t, 1, s.Subscribers())

	s.Close()
	_, open = <-a
	assert.False(t, open)

	late, _ := s.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}

func TestRegistry(t *testing.T) {
	i, err := Lookup("noop")
	require.NoError(t, err)
	assert.IsType(t, NoOp{}, i)

	_, err = Lookup("missing")
	assert.Error(t, err)

	rec := NewRecorder()
	Register("test-recorder", rec)
	got, err := Lookup("test-recorder")
	require.NoError(t, err)
	assert.Same(t, rec, got)
	assert.Contains(t, Registered(), "test-recorder")
}
