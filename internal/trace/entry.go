// Package trace turns store events into deterministic, serializable
// entries for the event log, golden files and trace hashing.
package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/fluxo/internal/intercept"
)

// Entry is the serialized form of an intercept.Event. Wall-clock time is
// deliberately absent; ordering is by Seq.
type Entry struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Level     string          `json:"level"`
	Store     string          `json:"store"`
	RequestID string          `json:"request_id,omitempty"`
	Intent    string          `json:"intent,omitempty"`
	Key       string          `json:"key,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// FromEvent converts an event. Values that cannot be encoded as JSON
// (functions, channels) are recorded by type name.
func FromEvent(e intercept.Event) Entry {
	entry := Entry{
		Seq:       e.Seq,
		Type:      string(e.Type),
		Level:     e.Level.String(),
		Store:     e.Store,
		RequestID: e.RequestID,
		Intent:    e.Intent,
		Key:       e.Key,
		Value:     encodeValue(e.Value),
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}
	if len(e.Data) > 0 {
		entry.Data = encodeValue(e.Data)
	}
	return entry
}

func encodeValue(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := MarshalCanonical(v)
	if err != nil {
		b, _ = MarshalCanonical(intercept.NameOf(v))
	}
	return b
}

// Normalize rewrites entries so that two runs of the same scenario compare
// equal: request ids become r1, r2, ... in order of first appearance and
// errors keep only their first line (panic errors carry a stack).
func Normalize(entries []Entry) []Entry {
	ids := make(map[string]string)
	out := make([]Entry, len(entries))
	for i, e := range entries {
		if e.RequestID != "" {
			alias, ok := ids[e.RequestID]
			if !ok {
				alias = fmt.Sprintf("r%d", len(ids)+1)
				ids[e.RequestID] = alias
			}
			e.RequestID = alias
		}
		if idx := strings.IndexByte(e.Error, '\n'); idx >= 0 {
			e.Error = e.Error[:idx]
		}
		out[i] = e
	}
	return out
}

// FilterLevel keeps entries at or above min.
func FilterLevel(entries []Entry, min intercept.Level) []Entry {
	var out []Entry
	for _, e := range entries {
		if levelOf(e.Level) >= min {
			out = append(out, e)
		}
	}
	return out
}

// ParseLevel resolves a severity name as written by Entry.Level
// (DEBUG, INFO, WARN, ERROR). Matching ignores case.
func ParseLevel(name string) (intercept.Level, error) {
	for _, l := range []intercept.Level{intercept.LevelVerbose, intercept.LevelInfo, intercept.LevelWarning, intercept.LevelError} {
		if strings.EqualFold(l.String(), name) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown level %q", name)
}

func levelOf(name string) intercept.Level {
	for _, l := range []intercept.Level{intercept.LevelVerbose, intercept.LevelInfo, intercept.LevelWarning, intercept.LevelError} {
		if l.String() == name {
			return l
		}
	}
	return intercept.LevelInfo
}

// WriteJSONL writes one canonical JSON object per line.
func WriteJSONL(w io.Writer, entries []Entry) error {
	for _, e := range entries {
		b, err := MarshalCanonical(e)
		if err != nil {
			return fmt.Errorf("encode entry %d: %w", e.Seq, err)
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// ReadJSONL reads entries written by WriteJSONL. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Format renders an entry as one human-readable line.
func Format(e Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%5d %-22s %-7s store=%s", e.Seq, e.Type, e.Level, e.Store)
	if e.RequestID != "" {
		fmt.Fprintf(&b, " req=%s", e.RequestID)
	}
	if e.Intent != "" {
		fmt.Fprintf(&b, " intent=%s", e.Intent)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " key=%s", e.Key)
	}
	if len(e.Value) > 0 {
		fmt.Fprintf(&b, " value=%s", e.Value)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}
