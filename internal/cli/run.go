package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/fluxo/internal/eventlog"
	"github.com/roach88/fluxo/internal/harness"
	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/trace"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Level    string
}

// RunResult is the output of a scenario run.
type RunResult struct {
	Scenario  string               `json:"scenario"`
	Pass      bool                 `json:"pass"`
	RunID     string               `json:"run_id,omitempty"`
	TraceHash string               `json:"trace_hash"`
	State     json.RawMessage      `json:"state"`
	Steps     []harness.StepResult `json:"steps"`
	Effects   []string             `json:"effects,omitempty"`
	Errors    []string             `json:"errors,omitempty"`
	Trace     []trace.Entry        `json:"trace"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario-file>",
		Short: "Run a scenario against a counter store",
		Long: `Run one scenario against a fresh counter store and print its trace.

With --db (or event_log.path in the scenario settings) every event is
recorded into a SQLite event log as a new run. The run can later be
inspected with 'fluxo trace' and checked with 'fluxo replay'.

Exit codes:
  0 - Scenario passed
  1 - An expectation or assertion failed
  2 - Command error (scenario not found, database error, etc.)

Examples:
  fluxo run ./scenarios/counter_basics.yaml
  fluxo run ./scenarios/counter_basics.yaml --db ./fluxo.db
  fluxo run ./scenarios/ticker.yaml --level INFO --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run into this SQLite event log")
	cmd.Flags().StringVar(&opts.Level, "level", "DEBUG", "minimum level of printed trace entries")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := opts.logger(cmd)

	minLevel, err := trace.ParseLevel(opts.Level)
	if err != nil {
		return commandError("invalid --level", err)
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return commandError("failed to load scenario", err)
	}
	cfg, err := harness.Settings(scenario)
	if err != nil {
		return commandError("invalid scenario settings", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	extra := []intercept.Interceptor{}
	if opts.Verbose {
		extra = append(extra, intercept.NewSlog(logger))
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.EventLog.Path
	}

	var (
		log      *eventlog.Log
		recorder *eventlog.Recorder
	)
	if dbPath != "" {
		logger.Debug("opening event log", "path", dbPath)
		log, err = eventlog.Open(dbPath)
		if err != nil {
			return commandError("failed to open event log", err)
		}
		defer func() {
			if closeErr := log.Close(); closeErr != nil {
				logger.Error("error closing event log", "error", closeErr)
			}
		}()

		hash, err := cfg.Hash()
		if err != nil {
			return commandError("failed to hash settings", err)
		}
		run, err := log.BeginRun(ctx, scenario.Name, hash)
		if err != nil {
			return commandError("failed to begin run", err)
		}
		recorder = log.Recorder(run.ID, logger)
		extra = append(extra, recorder)
	}

	result, err := harness.Run(ctx, scenario, extra...)
	if err != nil {
		return checkFailed("scenario execution failed", err)
	}

	out := RunResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		State:    result.State,
		Steps:    result.Steps,
		Effects:  result.Effects,
		Errors:   result.Errors,
		Trace:    trace.FilterLevel(result.Trace, minLevel),
	}
	if out.Trace == nil {
		out.Trace = []trace.Entry{}
	}

	if recorder != nil {
		out.RunID = recorder.RunID()
		out.TraceHash, err = log.FinishRun(ctx, recorder.RunID())
		if err != nil {
			return commandError("failed to finish run", err)
		}
		if n := recorder.Failures(); n > 0 {
			logger.Warn("event log is incomplete", "run_id", out.RunID, "failed_writes", n)
		}
	} else {
		out.TraceHash, err = trace.Hash(result.Trace)
		if err != nil {
			return commandError("failed to hash trace", err)
		}
	}

	return newPrinter(opts.RootOptions, cmd).Print(runReport(out))
}

// signalContext derives the command context and cancels it on SIGINT or
// SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runReport(out RunResult) report {
	r := report{data: out, run: out.RunID, text: func(w io.Writer) { writeRunText(w, out) }}
	if !out.Pass {
		r.failure = &CLIError{
			Code:    ErrCodeScenarioFailed,
			Message: fmt.Sprintf("scenario %s failed", out.Scenario),
			Details: out.Errors,
		}
	}
	return r
}

func writeRunText(w io.Writer, out RunResult) {
	for _, e := range out.Trace {
		fmt.Fprintln(w, trace.Format(e))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "State: %s\n", out.State)
	for _, step := range out.Steps {
		line := fmt.Sprintf("  step %d %s: %s", step.Step, step.Intent, step.Outcome)
		if step.Error != "" {
			line += " (" + step.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	if len(out.Effects) > 0 {
		fmt.Fprintf(w, "Effects: %v\n", out.Effects)
	}
	if out.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", out.RunID)
	}
	fmt.Fprintf(w, "Trace hash: %s\n", out.TraceHash)

	if !out.Pass {
		fmt.Fprintf(w, "✗ %s\n", out.Scenario)
		for _, e := range out.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return
	}
	fmt.Fprintf(w, "✓ %s\n", out.Scenario)
}
