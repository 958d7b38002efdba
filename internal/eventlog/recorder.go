package eventlog

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/trace"
)

// Recorder is an interceptor that appends every event to a run.
//
// Writes are synchronous. A failed write is logged and counted, never
// propagated into the store.
type Recorder struct {
	log      *Log
	runID    string
	logger   *slog.Logger
	failures atomic.Int64
}

// Recorder returns an interceptor writing to runID. A nil logger uses
// slog.Default().
func (l *Log) Recorder(runID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{log: l, runID: runID, logger: logger}
}

// OnEvent implements intercept.Interceptor.
func (r *Recorder) OnEvent(ctx context.Context, event intercept.Event) {
	// The event context may belong to a cancelled intent.
	ctx = context.WithoutCancel(ctx)
	if err := r.log.WriteEntry(ctx, r.runID, trace.FromEvent(event)); err != nil {
		r.failures.Add(1)
		r.logger.Warn("event log write failed",
			"run_id", r.runID,
			"seq", event.Seq,
			"type", string(event.Type),
			"error", err)
	}
}

// RunID returns the run this recorder writes to.
func (r *Recorder) RunID() string {
	return r.runID
}

// Failures returns the number of writes that failed.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}
