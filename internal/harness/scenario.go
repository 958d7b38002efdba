package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/fluxo/internal/config"
	"github.com/roach88/fluxo/internal/demo"
)

// Scenario defines a store scenario: a flow of steps run against a fresh
// counter store, followed by assertions on the trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the store
	// unless the settings give one.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is an optional settings file. Relative paths are resolved
	// against the scenario file's directory by LoadScenario.
	Config string `yaml:"config,omitempty"`

	// Settings are merged over Config.
	Settings *config.Config `yaml:"settings,omitempty"`

	// Seed installs a bootstrapper that sets the count.
	Seed *int `yaml:"seed,omitempty"`

	// CollectEffects subscribes to side effects before the first step.
	CollectEffects bool `yaml:"collect_effects,omitempty"`

	// RequestPrefix prefixes the sequential request ids.
	RequestPrefix string `yaml:"request_prefix,omitempty"`

	// Flow contains the steps, run in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`

	// Path is the file the scenario was loaded from.
	Path string `yaml:"-"`
}

// FlowStep is one step of a scenario. Exactly one of Send, Await,
// Effects, Wait and Close is set.
type FlowStep struct {
	// Send is the intent name, decoded with Args.
	Send string         `yaml:"send,omitempty"`
	Args map[string]any `yaml:"args,omitempty"`

	// Async returns as soon as the intent is queued.
	Async bool `yaml:"async,omitempty"`

	// Expect checks the outcome of a send.
	Expect *ExpectClause `yaml:"expect,omitempty"`

	// Await polls until the state contains these fields.
	Await map[string]any `yaml:"await,omitempty"`

	// Effects waits until this many side effects were collected.
	Effects int `yaml:"effects,omitempty"`

	// Wait waits for everything in flight.
	Wait bool `yaml:"wait,omitempty"`

	// Close closes the store.
	Close bool `yaml:"close,omitempty"`
}

// ExpectClause specifies the expected outcome of a send.
type ExpectClause struct {
	// Outcome is one of handled, error, cancelled, superseded, closed.
	Outcome Outcome `yaml:"outcome"`

	// Error, if set, must be a substring of the error message.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Event is the event type (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Intent narrows the match to one intent or effect name.
	Intent string `yaml:"intent,omitempty"`

	// Key narrows the match to one side job.
	Key string `yaml:"key,omitempty"`

	// Value is a subset match on the event value (trace_contains).
	Value map[string]any `yaml:"value,omitempty"`

	// Events is the expected order (trace_order), each "type" or "type:Intent".
	Events []string `yaml:"events,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect holds expected state fields (final_state).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Effects lists the expected side effect names (side_effects).
	Effects []string `yaml:"effects,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertSideEffects   = "side_effects"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.Path = path

	if scenario.Config != "" && !filepath.IsAbs(scenario.Config) {
		scenario.Config = filepath.Join(filepath.Dir(path), scenario.Config)
	}
	if scenario.Config != "" {
		if _, err := os.Stat(scenario.Config); err != nil {
			return nil, fmt.Errorf("invalid scenario: config file not found: %s", scenario.Config)
		}
	}
	return scenario, nil
}

// ParseScenario parses scenario YAML with strict field checking.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarios loads every .yaml/.yml file in dir, sorted by file name.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
		if step.Effects > 0 && !s.CollectEffects {
			return fmt.Errorf("flow[%d]: effects requires collect_effects", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, s.CollectEffects); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, step *FlowStep) error {
	actions := 0
	for _, set := range []bool{step.Send != "", step.Await != nil, step.Effects > 0, step.Wait, step.Close} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("flow[%d]: exactly one of send, await, effects, wait, close is required", index)
	}

	if step.Send == "" {
		if step.Args != nil || step.Async || step.Expect != nil {
			return fmt.Errorf("flow[%d]: args, async and expect only apply to send", index)
		}
		return nil
	}

	if _, err := demo.Decode(step.Send, step.Args); err != nil {
		return fmt.Errorf("flow[%d]: %w", index, err)
	}
	if step.Expect != nil {
		switch step.Expect.Outcome {
		case OutcomeHandled, OutcomeError, OutcomeCancelled, OutcomeSuperseded, OutcomeClosed:
		default:
			return fmt.Errorf("flow[%d].expect: unknown outcome %q", index, step.Expect.Outcome)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, collecting bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertSideEffects:
		if !collecting {
			return fmt.Errorf("assertions[%d]: side_effects requires collect_effects", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
