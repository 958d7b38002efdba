package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/roach88/fluxo/internal/config"
	"github.com/roach88/fluxo/internal/demo"
	"github.com/roach88/fluxo/internal/engine"
	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/job"
	"github.com/roach88/fluxo/internal/testutil"
	"github.com/roach88/fluxo/internal/trace"
)

// DefaultStepTimeout bounds every blocking step.
const DefaultStepTimeout = 10 * time.Second

// Harness executes one scenario against a fresh counter store.
type Harness struct {
	store    *demo.Store
	recorder *intercept.Recorder
	effects  *testutil.Collector[demo.Effect]
	pending  []pendingSend
	logger   *slog.Logger
	timeout  time.Duration
}

type pendingSend struct {
	index  int
	intent string
	job    *job.Job
	expect *ExpectClause
}

// Run executes a scenario and returns the result. Extra interceptors (an
// event log recorder, a log sink) observe the store next to the harness's
// own recorder.
//
// Execution flow:
// 1. Build settings from the scenario's config file and inline settings
// 2. Create the store with deterministic ids and clock
// 3. Execute flow steps, checking expect clauses
// 4. Close the store and collect the normalized trace
// 5. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario, extra ...intercept.Interceptor) (*Result, error) {
	cfg, err := Settings(scenario)
	if err != nil {
		return nil, err
	}

	recorder := intercept.NewRecorder()
	opts, err := cfg.Options(append([]intercept.Interceptor{recorder}, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("scenario settings: %w", err)
	}
	opts = append(opts, testutil.Deterministic(scenario.RequestPrefix)...)
	if scenario.Seed != nil {
		opts = append(opts, engine.WithBootstrapper(demo.Seed(*scenario.Seed), cfg.BootstrapBlocking()))
	}

	st, err := demo.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	h := &Harness{
		store:    st,
		recorder: recorder,
		logger:   testutil.DiscardLogger(), // Suppress logs in tests
		timeout:  DefaultStepTimeout,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if scenario.CollectEffects {
		h.effects = testutil.Collect(st.SideEffects(runCtx))
	}

	result := NewResult()
	flowErr := h.executeFlow(runCtx, scenario.Flow, result)

	closeCtx, cancelClose := context.WithTimeout(context.Background(), h.timeout)
	defer cancelClose()
	h.resolvePending(closeCtx, result)
	if err := st.CloseAndWait(closeCtx); err != nil {
		return nil, fmt.Errorf("store did not close: %w", err)
	}
	if flowErr != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", flowErr)
	}

	if err := h.collect(result); err != nil {
		return nil, err
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}
	return result, nil
}

// Settings resolves the store settings of a scenario: defaults, then the
// config file, then inline settings. The store is named after the
// scenario unless the settings name it.
func Settings(scenario *Scenario) (config.Config, error) {
	cfg := config.DefaultConfig()
	if scenario.Config != "" {
		loaded, err := config.LoadConfig(scenario.Config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if scenario.Settings != nil {
		cfg.Merge(scenario.Settings)
	}
	if cfg.Store.Name == "" {
		cfg.Store.Name = scenario.Name
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("scenario settings: %w", err)
	}
	return cfg, nil
}

// executeFlow runs all steps in order. Only harness failures are returned;
// unmet expectations are recorded on result.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		stepCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := h.executeStep(stepCtx, i, step, result)
		cancel()
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, i int, step FlowStep, result *Result) error {
	switch {
	case step.Send != "":
		intent, err := demo.Decode(step.Send, step.Args)
		if err != nil {
			return err
		}
		if step.Async {
			j, err := h.store.SendAsync(ctx, intent)
			if err != nil {
				h.record(result, i, step.Send, err, step.Expect)
				return nil
			}
			h.pending = append(h.pending, pendingSend{index: i, intent: step.Send, job: j, expect: step.Expect})
			return nil
		}
		err = h.store.Dispatch(ctx, intent)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			return fmt.Errorf("%s did not finish within %s", step.Send, h.timeout)
		}
		h.record(result, i, step.Send, err, step.Expect)

	case step.Await != nil:
		ok := testutil.Poll(ctx, time.Millisecond, func() bool {
			return stateMatches(h.store.State(), step.Await) == nil
		})
		if !ok {
			return fmt.Errorf("state never matched %v: %v", step.Await, stateMatches(h.store.State(), step.Await))
		}

	case step.Effects > 0:
		if !h.effects.WaitFor(ctx, step.Effects) {
			return fmt.Errorf("expected %d side effects, collected %d", step.Effects, h.effects.Len())
		}

	case step.Wait:
		h.resolvePending(ctx, result)
		if err := h.store.Wait(ctx); err != nil {
			return fmt.Errorf("wait: %w", err)
		}

	case step.Close:
		h.resolvePending(ctx, result)
		if err := h.store.CloseAndWait(ctx); err != nil {
			return fmt.Errorf("close: %w", err)
		}
	}

	h.logger.Info("flow step completed", "step", i)
	return nil
}

// resolvePending waits for async sends and checks their expectations.
func (h *Harness) resolvePending(ctx context.Context, result *Result) {
	for _, p := range h.pending {
		err := p.job.Wait(ctx)
		if !p.job.IsDone() {
			result.AddError(fmt.Sprintf("flow[%d]: %s did not finish", p.index, p.intent))
			continue
		}
		h.record(result, p.index, p.intent, err, p.expect)
	}
	h.pending = nil
}

// record stores a send outcome and checks it against expect.
func (h *Harness) record(result *Result, index int, intent string, err error, expect *ExpectClause) {
	step := StepResult{Step: index, Intent: intent, Outcome: Classify(err)}
	if err != nil {
		step.Error = err.Error()
	}
	result.Steps = append(result.Steps, step)
	sort.SliceStable(result.Steps, func(a, b int) bool { return result.Steps[a].Step < result.Steps[b].Step })

	if expect == nil {
		return
	}
	if step.Outcome != expect.Outcome {
		result.AddError(fmt.Sprintf("flow[%d]: %s: expected outcome %s, got %s (%s)",
			index, intent, expect.Outcome, step.Outcome, step.Error))
		return
	}
	if expect.Error != "" && !containsFold(step.Error, expect.Error) {
		result.AddError(fmt.Sprintf("flow[%d]: %s: expected error containing %q, got %q",
			index, intent, expect.Error, step.Error))
	}
}

// Classify maps an intent's completion error to an outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeHandled
	case engine.IsClosedError(err):
		return OutcomeClosed
	case errors.Is(err, engine.ErrSuperseded):
		return OutcomeSuperseded
	case engine.IsCancellation(err):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// collect fills the trace, state and effects of a finished run.
func (h *Harness) collect(result *Result) error {
	events := h.recorder.Events()
	entries := make([]trace.Entry, len(events))
	for i, e := range events {
		entries[i] = trace.FromEvent(e)
	}
	sort.SliceStable(entries, func(a, b int) bool { return entries[a].Seq < entries[b].Seq })
	result.Trace = trace.Normalize(entries)

	state, err := trace.MarshalCanonical(h.store.State())
	if err != nil {
		return fmt.Errorf("encode final state: %w", err)
	}
	result.State = state

	if h.effects != nil {
		<-h.effects.Closed()
		for _, e := range h.effects.Items() {
			result.Effects = append(result.Effects, intercept.NameOf(e))
		}
	}
	return nil
}
