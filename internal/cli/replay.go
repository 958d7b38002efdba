package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/fluxo/internal/eventlog"
	"github.com/roach88/fluxo/internal/harness"
	"github.com/roach88/fluxo/internal/trace"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - defaults to the latest run of the scenario
}

// ReplayResult holds the replay result.
type ReplayResult struct {
	Scenario      string      `json:"scenario"`
	RunID         string      `json:"run_id"`
	RecordedHash  string      `json:"recorded_hash"`
	ReplayHash    string      `json:"replay_hash"`
	ConfigMatch   bool        `json:"config_match"`
	Deterministic bool        `json:"deterministic"`
	Divergence    *Divergence `json:"divergence,omitempty"`
}

// Divergence describes the first entry where the replay differs from the
// recording.
type Divergence struct {
	Index    int    `json:"index"`
	Recorded string `json:"recorded,omitempty"`
	Replayed string `json:"replayed,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario-file>",
		Short: "Re-run a scenario and verify it reproduces a recorded run",
		Long: `Re-run a scenario and compare its normalized trace hash with a run
recorded by 'fluxo run --db'.

Without --run the latest recorded run with the scenario's name is used.
Only scenarios whose strategy processes intents one at a time in order
(fifo, channel-fifo, direct) are expected to reproduce byte for byte.

Exit codes:
  0 - The replay reproduced the recorded trace
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, run not found, etc.)

Examples:
  fluxo replay --db ./fluxo.db ./scenarios/counter_basics.yaml
  fluxo replay --db ./fluxo.db ./scenarios/counter_basics.yaml --run 0190...
  fluxo replay --db ./fluxo.db ./scenarios/counter_basics.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite event log (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "recorded run to compare against")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	logger := opts.logger(cmd)
	ctx, stop := signalContext(cmd)
	defer stop()

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return commandError("failed to load scenario", err)
	}
	cfg, err := harness.Settings(scenario)
	if err != nil {
		return commandError("invalid scenario settings", err)
	}
	configHash, err := cfg.Hash()
	if err != nil {
		return commandError("failed to hash settings", err)
	}

	log, err := openExistingLog(opts.Database)
	if err != nil {
		return err
	}
	defer log.Close()

	run, err := findRun(ctx, log, opts.RunID, scenario.Name)
	if err != nil {
		if errors.Is(err, eventlog.ErrRunNotFound) {
			return commandError("run not found", err)
		}
		return commandError("failed to read runs", err)
	}
	if !run.Finished() {
		return commandError(fmt.Sprintf("run %s was never finished", run.ID), nil)
	}
	logger.Debug("replaying run", "run_id", run.ID, "scenario", scenario.Name)

	result, err := harness.Run(ctx, scenario)
	if err != nil {
		return commandError("scenario execution failed", err)
	}
	replayHash, err := trace.Hash(result.Trace)
	if err != nil {
		return commandError("failed to hash trace", err)
	}

	out := ReplayResult{
		Scenario:      scenario.Name,
		RunID:         run.ID,
		RecordedHash:  run.TraceHash,
		ReplayHash:    replayHash,
		ConfigMatch:   run.ConfigHash == configHash,
		Deterministic: run.TraceHash == replayHash,
	}
	if !out.ConfigMatch {
		logger.Warn("settings changed since the run was recorded",
			"recorded", run.ConfigHash, "current", configHash)
	}
	if !out.Deterministic {
		recorded, err := log.ReadRun(ctx, run.ID)
		if err != nil {
			return commandError("failed to read run", err)
		}
		out.Divergence = firstDivergence(trace.Normalize(recorded), result.Trace)
	}

	return newPrinter(opts.RootOptions, cmd).Print(replayReport(out))
}

// openExistingLog opens a database that must already exist. eventlog.Open
// would silently create an empty one.
func openExistingLog(path string) (*eventlog.Log, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, commandError("event log not found", err)
	}
	log, err := eventlog.Open(path)
	if err != nil {
		return nil, commandError("failed to open event log", err)
	}
	return log, nil
}

// findRun resolves an explicit run id, or the latest run named name.
func findRun(ctx context.Context, log *eventlog.Log, runID, name string) (eventlog.Run, error) {
	if runID != "" {
		return log.GetRun(ctx, runID)
	}
	runs, err := log.Runs(ctx)
	if err != nil {
		return eventlog.Run{}, err
	}
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Name == name {
			return runs[i], nil
		}
	}
	return eventlog.Run{}, fmt.Errorf("no run named %s: %w", name, eventlog.ErrRunNotFound)
}

// firstDivergence compares two normalized traces entry by entry.
func firstDivergence(recorded, replayed []trace.Entry) *Divergence {
	n := max(len(recorded), len(replayed))
	for i := 0; i < n; i++ {
		var a, b []byte
		if i < len(recorded) {
			a, _ = trace.MarshalCanonical(recorded[i])
		}
		if i < len(replayed) {
			b, _ = trace.MarshalCanonical(replayed[i])
		}
		if !bytes.Equal(a, b) {
			return &Divergence{Index: i, Recorded: string(a), Replayed: string(b)}
		}
	}
	return nil
}

func replayReport(out ReplayResult) report {
	r := report{data: out, run: out.RunID, text: func(w io.Writer) { writeReplayText(w, out) }}
	if !out.Deterministic {
		r.failure = &CLIError{
			Code:    ErrCodeReplayMismatch,
			Message: "replay diverged from the recorded run",
			Details: out.Divergence,
		}
	}
	return r
}

func writeReplayText(w io.Writer, out ReplayResult) {
	fmt.Fprintf(w, "Scenario: %s\n", out.Scenario)
	fmt.Fprintf(w, "Run:      %s\n", out.RunID)
	fmt.Fprintf(w, "Recorded: %s\n", out.RecordedHash)
	fmt.Fprintf(w, "Replayed: %s\n", out.ReplayHash)
	if !out.ConfigMatch {
		fmt.Fprintln(w, "Settings differ from the recorded run")
	}

	if !out.Deterministic {
		fmt.Fprintln(w, "✗ Replay diverged")
		if d := out.Divergence; d != nil {
			fmt.Fprintf(w, "  entry %d\n", d.Index)
			fmt.Fprintf(w, "  recorded: %s\n", d.Recorded)
			fmt.Fprintf(w, "  replayed: %s\n", d.Replayed)
		}
		return
	}
	fmt.Fprintln(w, "✓ Replay is deterministic")
}
