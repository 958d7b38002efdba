package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/fluxo/internal/trace"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Trace    []trace.Entry // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, entry := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", trace.Format(entry))
		}
	}

	return buf.String()
}

// matchesEntry reports whether entry has the assertion's event type and,
// where given, its intent, key and value fields.
func matchesEntry(entry trace.Entry, a Assertion) bool {
	if entry.Type != a.Event {
		return false
	}
	if a.Intent != "" && entry.Intent != a.Intent {
		return false
	}
	if a.Key != "" && entry.Key != a.Key {
		return false
	}
	if len(a.Value) > 0 {
		var actual map[string]any
		if err := decodeJSON(entry.Value, &actual); err != nil {
			return false
		}
		return matchSubset(actual, a.Value) == nil
	}
	return true
}

// assertTraceContains checks that an event matching the assertion occurred.
func assertTraceContains(entries []trace.Entry, a Assertion) error {
	for _, entry := range entries {
		if matchesEntry(entry, a) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "not found in trace",
		Trace:    entries,
	}
}

// assertTraceOrder checks that events first occur in the given order.
// Events don't need to be consecutive.
func assertTraceOrder(entries []trace.Entry, a Assertion) error {
	positions := make(map[string]int)
	for i, entry := range entries {
		for _, want := range a.Events {
			if positions[want] == 0 && orderMatches(entry, want) {
				positions[want] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, want := range a.Events {
		if positions[want] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", want),
				Trace:    entries,
			}
		}
	}

	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: entries,
			}
		}
	}
	return nil
}

// orderMatches matches "type" or "type:Intent".
func orderMatches(entry trace.Entry, want string) bool {
	typ, intent, hasIntent := strings.Cut(want, ":")
	if entry.Type != typ {
		return false
	}
	return !hasIntent || entry.Intent == intent
}

// assertTraceCount checks that matching events occurred exactly Count times.
func assertTraceCount(entries []trace.Entry, a Assertion) error {
	count := 0
	for _, entry := range entries {
		if matchesEntry(entry, a) {
			count++
		}
	}

	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    entries,
		}
	}
	return nil
}

// assertFinalState checks the final state contains the expected fields.
func assertFinalState(state json.RawMessage, a Assertion) error {
	var actual map[string]any
	if err := decodeJSON(state, &actual); err != nil {
		return fmt.Errorf("final_state: decode state: %w", err)
	}
	if err := matchSubset(actual, a.Expect); err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("state containing %v", a.Expect),
			Actual:   fmt.Sprintf("%s (%v)", state, err),
		}
	}
	return nil
}

// assertSideEffects checks the collected effect names, in order.
func assertSideEffects(effects []string, a Assertion) error {
	if len(effects) == len(a.Effects) {
		same := true
		for i := range effects {
			if effects[i] != a.Effects[i] {
				same = false
				break
			}
		}
		if same {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertSideEffects,
		Expected: fmt.Sprintf("%v", a.Effects),
		Actual:   fmt.Sprintf("%v", effects),
	}
}

// stateMatches checks a live state value against expected fields.
func stateMatches(state any, expected map[string]any) error {
	raw, err := trace.MarshalCanonical(state)
	if err != nil {
		return err
	}
	var actual map[string]any
	if err := decodeJSON(raw, &actual); err != nil {
		return err
	}
	return matchSubset(actual, expected)
}

// matchSubset checks that actual contains every expected key with an equal
// value. Extra keys in actual are ignored. Values compare by their
// canonical JSON, so YAML ints match JSON numbers.
func matchSubset(actual, expected map[string]any) error {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actualVal, exists := actual[key]
		if !exists {
			return fmt.Errorf("field %q missing", key)
		}
		if !valuesEqual(actualVal, expected[key]) {
			return fmt.Errorf("field %q = %v, want %v", key, actualVal, expected[key])
		}
	}
	return nil
}

// valuesEqual compares two values by canonical JSON.
func valuesEqual(actual, expected any) bool {
	a, err := trace.MarshalCanonical(actual)
	if err != nil {
		return false
	}
	e, err := trace.MarshalCanonical(expected)
	if err != nil {
		return false
	}
	return bytes.Equal(a, e)
}

func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func describe(a Assertion) string {
	parts := []string{"event " + a.Event}
	if a.Intent != "" {
		parts = append(parts, "intent "+a.Intent)
	}
	if a.Key != "" {
		parts = append(parts, "key "+a.Key)
	}
	if len(a.Value) > 0 {
		parts = append(parts, fmt.Sprintf("value %v", a.Value))
	}
	return strings.Join(parts, ", ")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		case AssertSideEffects:
			err = assertSideEffects(result.Effects, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	return errs
}
