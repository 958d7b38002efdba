package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/fluxo/internal/trace"
)

// snapshotHeader is the first line of a golden snapshot.
type snapshotHeader struct {
	Scenario string          `json:"scenario"`
	State    json.RawMessage `json:"state"`
	Steps    []StepResult    `json:"steps"`
	Effects  []string        `json:"effects,omitempty"`
}

// Snapshot renders a result for golden comparison: a canonical JSON
// header with the final state and step outcomes, then one canonical JSON
// line per trace entry.
func Snapshot(name string, result *Result) ([]byte, error) {
	var buf bytes.Buffer

	header, err := trace.MarshalCanonical(snapshotHeader{
		Scenario: name,
		State:    result.State,
		Steps:    result.Steps,
		Effects:  result.Effects,
	})
	if err != nil {
		return nil, err
	}
	buf.Write(header)
	buf.WriteByte('\n')

	if err := trace.WriteJSONL(&buf, result.Trace); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, snapshot)
	return nil
}
