package trace

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fluxo/internal/intercept"
)

func TestMarshalCanonical_Basic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", -100, "-100"},
		{"max int64", int64(9223372036854775807), "9223372036854775807"},
		{"float", 1.5, "1.5"},
		{"bool", true, "true"},
		{"null", nil, "null"},
		{"empty array", []int{}, "[]"},
		{"empty object", map[string]int{}, "{}"},
		{"array", []int{1, 2, 3}, "[1,2,3]"},
		{"no html escaping", "<a & b>", `"<a & b>"`},
		{"control chars", "a\nb\tc\x01", `"a\nb\tc\u0001"`},
		{"line separator kept literal", "a\u2028b", "\"a\u2028b\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonical_SortsNestedKeys(t *testing.T) {
	result, err := MarshalCanonical(map[string]any{
		"z": map[string]any{"b": 1, "a": 2},
		"a": 3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalCanonical_UTF16KeyOrder(t *testing.T) {
	// U+FF61 sorts before U+1F600 in UTF-8 byte order but after it in
	// UTF-16 code units (the emoji encodes as a 0xD83D surrogate).
	result, err := MarshalCanonical(map[string]int{"\U0001F600": 1, "\uff61": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":1,\"\uff61\":2}", string(result))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestMarshalCanonical_StructTags(t *testing.T) {
	type point struct {
		Y int `json:"y"`
		X int `json:"x"`
	}
	result, err := MarshalCanonical(point{X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, `{"x":1,"y":2}`, string(result))
}

func TestMarshalCanonical_Unsupported(t *testing.T) {
	_, err := MarshalCanonical(func() {})
	assert.Error(t, err)
}

func TestFromEvent(t *testing.T) {
	e := intercept.Event{
		Seq:       3,
		Type:      intercept.EventIntentError,
		Level:     intercept.LevelError,
		Store:     "counter",
		RequestID: "req-1",
		Intent:    "add",
		Value:     map[string]int{"n": 2},
		Err:       errors.New("boom"),
		Data:      map[string]any{"version": 4},
	}

	entry := FromEvent(e)
	assert.Equal(t, int64(3), entry.Seq)
	assert.Equal(t, "intent.error", entry.Type)
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, `{"n":2}`, string(entry.Value))
	assert.Equal(t, `{"version":4}`, string(entry.Data))
	assert.Equal(t, "boom", entry.Error)
}

func TestFromEvent_UnencodableValueUsesTypeName(t *testing.T) {
	entry := FromEvent(intercept.Event{Type: intercept.EventIntentQueued, Value: func() {}})
	assert.Equal(t, `"func()"`, string(entry.Value))
}

func TestNormalize(t *testing.T) {
	entries := []Entry{
		{Seq: 1, RequestID: "0190-aaaa"},
		{Seq: 2, RequestID: "0190-bbbb"},
		{Seq: 3, RequestID: "0190-aaaa", Error: "panic: x\ngoroutine 1 [running]"},
		{Seq: 4},
	}

	got := Normalize(entries)
	assert.Equal(t, "r1", got[0].RequestID)
	assert.Equal(t, "r2", got[1].RequestID)
	assert.Equal(t, "r1", got[2].RequestID)
	assert.Equal(t, "panic: x", got[2].Error)
	assert.Equal(t, "", got[3].RequestID)
	assert.Equal(t, "0190-aaaa", entries[0].RequestID, "input is not modified")
}

func TestFilterLevel(t *testing.T) {
	entries := []Entry{
		{Seq: 1, Level: "DEBUG"},
		{Seq: 2, Level: "INFO"},
		{Seq: 3, Level: "WARN"},
		{Seq: 4, Level: "ERROR"},
	}
	got := FilterLevel(entries, intercept.LevelWarning)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].Seq)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, intercept.LevelWarning, l)

	l, err = ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, intercept.LevelVerbose, l)

	_, err = ParseLevel("loud")
	assert.ErrorContains(t, err, "unknown level")
}

func TestJSONLRoundTrip(t *testing.T) {
	entries := []Entry{
		{Seq: 1, Type: "store.start", Level: "INFO", Store: "s", Data: []byte(`{"strategy":"fifo"}`)},
		{Seq: 2, Type: "intent.queued", Level: "DEBUG", Store: "s", RequestID: "r1", Value: []byte(`5`)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteJSONL(&buf, entries))
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	got, err := ReadJSONL(&buf)
	require.NoError(t, err)
	assert.Equal(t, entries, got)
}

func TestReadJSONL_ReportsLine(t *testing.T) {
	_, err := ReadJSONL(bytes.NewBufferString("{\"seq\":1}\n\nnot json\n"))
	assert.ErrorContains(t, err, "line 3")
}

func TestHash_StableAndSensitive(t *testing.T) {
	a := []Entry{{Seq: 1, Type: "store.start", Store: "s"}}
	b := []Entry{{Seq: 1, Type: "store.start", Store: "s"}}
	c := []Entry{{Seq: 1, Type: "store.closed", Store: "s"}}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)
	hc, err := Hash(c)
	require.NoError(t, err)

	assert.Len(t, ha, 64)
	assert.Equal(t, ha, hb)
	assert.NotEqual(t, ha, hc)
}

func TestEntryID_DomainSeparatedByRun(t *testing.T) {
	e := Entry{Seq: 1, Type: "store.start", Store: "s"}
	id1, err := EntryID("run-1", e)
	require.NoError(t, err)
	id2, err := EntryID("run-2", e)
	require.NoError(t, err)
	again, err := EntryID("run-1", e)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, id1, again)
}

func TestFormat(t *testing.T) {
	line := Format(Entry{Seq: 7, Type: "intent.handled", Level: "INFO", Store: "counter", RequestID: "r1", Intent: "add"})
	assert.Contains(t, line, "intent.handled")
	assert.Contains(t, line, "store=counter")
	assert.Contains(t, line, "req=r1")
	assert.Contains(t, line, "intent=add")
}
