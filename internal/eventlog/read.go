package eventlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fluxo/internal/trace"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// ReadRun returns all entries of a run in deterministic order:
// ORDER BY seq ASC, store ASC, id ASC COLLATE BINARY.
//
// Returns an empty slice (not nil) if the run has no events.
func (l *Log) ReadRun(ctx context.Context, runID string) ([]trace.Entry, error) {
	return l.Query(ctx, runID, Filter{})
}

// ReadRequest returns the entries of one intent within a run.
func (l *Log) ReadRequest(ctx context.Context, runID, requestID string) ([]trace.Entry, error) {
	return l.Query(ctx, runID, Filter{RequestID: requestID})
}

func (l *Log) queryEntries(ctx context.Context, query string, args ...any) ([]trace.Entry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	entries := []trace.Entry{}
	for rows.Next() {
		var e trace.Entry
		var value, data sql.NullString
		if err := rows.Scan(&e.Store, &e.Seq, &e.Type, &e.Level, &e.RequestID, &e.Intent, &e.Key, &value, &e.Error, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if value.Valid {
			e.Value = []byte(value.String)
		}
		if data.Valid {
			e.Data = []byte(data.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// GetRun returns a run by id.
func (l *Log) GetRun(ctx context.Context, runID string) (Run, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, name, config_hash, started_at, finished_at, trace_hash
		FROM runs WHERE id = ?
	`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return run, err
}

// LatestRun returns the most recently started run.
func (l *Log) LatestRun(ctx context.Context) (Run, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, name, config_hash, started_at, finished_at, trace_hash
		FROM runs ORDER BY id COLLATE BINARY DESC LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

// Runs lists all runs, oldest first. UUIDv7 ids sort by start time.
func (l *Log) Runs(ctx context.Context) ([]Run, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, name, config_hash, started_at, finished_at, trace_hash
		FROM runs ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	var started string
	var finished, hash sql.NullString
	if err := row.Scan(&run.ID, &run.Name, &run.ConfigHash, &started, &finished, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("run %s: started_at: %w", run.ID, err)
	}
	if finished.Valid {
		if run.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
			return Run{}, fmt.Errorf("run %s: finished_at: %w", run.ID, err)
		}
	}
	run.TraceHash = hash.String
	return run, nil
}
