package eventlog

import (
	"context"
	"strings"

	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/trace"
)

const selectEntries = `
		SELECT store, seq, type, level, request_id, intent, key, value, error, data
		FROM events`

// orderEntries is appended to every entry query. Results are always in
// logical order, never in insertion order.
const orderEntries = `
		ORDER BY seq ASC, store ASC, id COLLATE BINARY ASC`

// Filter narrows the entries of a run. Zero fields match everything.
type Filter struct {
	Store     string
	RequestID string
	Intent    string
	Types     []string
	MinLevel  intercept.Level
}

// Query returns the entries of runID that match f, ordered like ReadRun.
func (l *Log) Query(ctx context.Context, runID string, f Filter) ([]trace.Entry, error) {
	where, params := f.compile(runID)
	return l.queryEntries(ctx, selectEntries+"\n\t\tWHERE "+where+orderEntries, params...)
}

// compile renders the filter as a WHERE clause. Values are always bound
// as parameters, never interpolated.
func (f Filter) compile(runID string) (string, []any) {
	clauses := []string{"run_id = ?"}
	params := []any{runID}

	equals := func(column, value string) {
		if value == "" {
			return
		}
		clauses = append(clauses, column+" = ?")
		params = append(params, value)
	}
	equals("store", f.Store)
	equals("request_id", f.RequestID)
	equals("intent", f.Intent)

	in := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		clauses = append(clauses, column+" IN ("+placeholders(len(values))+")")
		for _, v := range values {
			params = append(params, v)
		}
	}
	in("type", f.Types)
	if f.MinLevel > 0 {
		in("level", levelsFrom(f.MinLevel))
	}

	return strings.Join(clauses, " AND "), params
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// levelsFrom lists the level names at or above min.
func levelsFrom(min intercept.Level) []string {
	var names []string
	for _, l := range []intercept.Level{intercept.LevelVerbose, intercept.LevelInfo, intercept.LevelWarning, intercept.LevelError} {
		if l >= min {
			names = append(names, l.String())
		}
	}
	return names
}
