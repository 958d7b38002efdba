package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fluxo/internal/config"
	"github.com/roach88/fluxo/internal/engine"
	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/strategy"
	"github.com/roach88/fluxo/internal/trace"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requirePass(t *testing.T, result *Result) {
	t.Helper()
	require.True(t, result.Pass, "scenario failed:\n%s", strings.Join(result.Errors, "\n"))
}

func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, scenarios, 6)

	for _, sc := range scenarios {
		t.Run(sc.Name, func(t *testing.T) {
			result, err := Run(testContext(t), sc)
			require.NoError(t, err)
			requirePass(t, result)
		})
	}
}

func TestGoldenCounterBasics(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/counter_basics.yaml")
	require.NoError(t, err)

	result, err := RunWithGolden(t, sc)
	require.NoError(t, err)
	requirePass(t, result)
}

func TestRunIsDeterministic(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/counter_basics.yaml")
	require.NoError(t, err)

	first, err := Run(testContext(t), sc)
	require.NoError(t, err)
	second, err := Run(testContext(t), sc)
	require.NoError(t, err)

	h1, err := trace.Hash(first.Trace)
	require.NoError(t, err)
	h2, err := trace.Hash(second.Trace)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestRunReportsUnmetExpectations(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: wrong_expectations
description: every expectation here is wrong
flow:
  - send: Add
    args: { n: 1 }
    expect: { outcome: error }
  - send: Fail
    args: { reason: x }
    expect: { outcome: error, error: "something else" }
assertions:
  - type: final_state
    expect: { count: 2 }
  - type: trace_count
    event: intent.handled
    count: 5
`))
	require.NoError(t, err)

	result, err := Run(testContext(t), sc)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "expected outcome error, got handled")
	assert.Contains(t, result.Errors[1], `expected error containing "something else"`)
	assert.Contains(t, result.Errors[2], "final_state")
	assert.Contains(t, result.Errors[3], "trace_count")
}

func TestRunForwardsExtraInterceptors(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/send_after_close.yaml")
	require.NoError(t, err)

	rec := intercept.NewRecorder()
	result, err := Run(testContext(t), sc, rec)
	require.NoError(t, err)
	requirePass(t, result)

	assert.Len(t, rec.Events(), len(result.Trace))
	assert.Equal(t, 1, rec.Count(intercept.EventStoreClosed))
}

func TestRunAwaitTimesOut(t *testing.T) {
	sc, err := ParseScenario([]byte(`
name: never
description: the state never reaches the awaited value
flow:
  - await: { count: 1 }
assertions:
  - type: final_state
    expect: { count: 0 }
`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Run(ctx, sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state never matched")
}

func TestSettings(t *testing.T) {
	sc, err := LoadScenario("testdata/scenarios/lifo_supersede.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("testdata", "configs", "lifo.cue"), filepath.Clean(sc.Config))

	cfg, err := Settings(sc)
	require.NoError(t, err)
	assert.Equal(t, strategy.NameLifo, cfg.Store.Strategy)
	assert.Equal(t, "lifo_supersede", cfg.Store.Name, "store named after the scenario")

	sc.Settings = &config.Config{Store: config.StoreConfig{Strategy: strategy.NameDirect, Name: "explicit"}}
	cfg, err = Settings(sc)
	require.NoError(t, err)
	assert.Equal(t, strategy.NameDirect, cfg.Store.Strategy, "inline settings win over the file")
	assert.Equal(t, "explicit", cfg.Store.Name)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeHandled},
		{context.Canceled, OutcomeCancelled},
		{fmt.Errorf("wrapped: %w", context.Canceled), OutcomeCancelled},
		{engine.ErrStoreClosed, OutcomeClosed},
		{engine.ErrSuperseded, OutcomeSuperseded},
		{errors.New("boom"), OutcomeError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "%v", tt.err)
	}
}

func TestSnapshot(t *testing.T) {
	result := NewResult()
	result.State = json.RawMessage(`{"ticks":0,"count":1}`)
	result.Steps = append(result.Steps, StepResult{Step: 0, Intent: "Add", Outcome: OutcomeHandled})
	result.Trace = []trace.Entry{{Seq: 1, Type: "store.start", Level: "INFO", Store: "s"}}

	out, err := Snapshot("snap", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario":"snap","state":{"count":1,"ticks":0},"steps":[{"intent":"Add","outcome":"handled","step":0}]}`+"\n"+
			`{"level":"INFO","seq":1,"store":"s","type":"store.start"}`+"\n",
		string(out))
}
