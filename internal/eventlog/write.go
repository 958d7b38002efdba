package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/fluxo/internal/trace"
)

// Run is one recorded session.
type Run struct {
	ID         string
	Name       string
	ConfigHash string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is open
	TraceHash  string
}

// Finished reports whether FinishRun was called for the run.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// BeginRun opens a new run. The id is a UUIDv7, so runs sort by start time.
func (l *Log) BeginRun(ctx context.Context, name, configHash string) (Run, error) {
	run := Run{
		ID:         uuid.Must(uuid.NewV7()).String(),
		Name:       name,
		ConfigHash: configHash,
		StartedAt:  time.Now().UTC(),
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, name, config_hash, started_at)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.Name, run.ConfigHash, run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	return run, nil
}

// FinishRun closes a run and stores the hash of its normalized trace.
func (l *Log) FinishRun(ctx context.Context, runID string) (string, error) {
	entries, err := l.ReadRun(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("finish run: %w", err)
	}
	hash, err := trace.Hash(trace.Normalize(entries))
	if err != nil {
		return "", fmt.Errorf("finish run: %w", err)
	}

	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, trace_hash = ? WHERE id = ?
	`, time.Now().UTC().Format(time.RFC3339Nano), hash, runID)
	if err != nil {
		return "", fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", fmt.Errorf("finish run %s: %w", runID, ErrRunNotFound)
	}
	return hash, nil
}

// WriteEntry appends an entry to a run.
// Uses ON CONFLICT DO NOTHING for idempotency: writing the same entry twice,
// or a second entry with the same (run, store, seq), is silently ignored.
func (l *Log) WriteEntry(ctx context.Context, runID string, e trace.Entry) error {
	id, err := trace.EntryID(runID, e)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO events
		(id, run_id, store, seq, type, level, request_id, intent, key, value, error, data, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		id,
		runID,
		e.Store,
		e.Seq,
		e.Type,
		e.Level,
		e.RequestID,
		e.Intent,
		e.Key,
		nullableJSON(e.Value),
		e.Error,
		nullableJSON(e.Data),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
