// Package testutil holds helpers for deterministic store runs in tests and
// in the scenario harness.
package testutil

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/fluxo/internal/engine"
)

// DefaultRequestPrefix prefixes request ids when none is given.
const DefaultRequestPrefix = "req"

// Epoch is the first timestamp of a deterministic clock.
var Epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// SteppedTime returns a time source that starts at start and advances by
// step on every reading.
func SteppedTime(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(step)
		return t
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Deterministic returns options that make a store's ids and event seqs
// reproducible: sequential request ids with prefix, a fresh clock whose
// timestamps step by a millisecond from Epoch, and a silent logger. The same intents sent in the same order then produce
// identical traces.
func Deterministic(prefix string) []engine.Option {
	if prefix == "" {
		prefix = DefaultRequestPrefix
	}
	return []engine.Option{
		engine.WithIDGenerator(engine.NewSequentialGenerator(prefix)),
		engine.WithClock(engine.NewClockWithTime(SteppedTime(Epoch, time.Millisecond))),
		engine.WithLogger(DiscardLogger()),
	}
}
