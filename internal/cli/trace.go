package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fluxo/internal/eventlog"
	"github.com/roach88/fluxo/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	RunID     string // optional - defaults to the latest run
	RequestID string // optional - filter to one intent
	Intent    string   // optional - filter to one intent or effect name
	Types     []string // optional - filter to event types
	Level     string
	ListRuns  bool
}

// RunInfo describes a recorded run.
type RunInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	ConfigHash string     `json:"config_hash"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	TraceHash  string     `json:"trace_hash,omitempty"`
}

// TraceStats holds summary statistics for a trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Requests    int            `json:"requests"`
	Errors      int            `json:"errors"`
	ByType      map[string]int `json:"by_type"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Run     RunInfo       `json:"run"`
	Entries []trace.Entry `json:"entries"`
	Stats   TraceStats    `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query a recorded run",
		Long: `Query the events of a run recorded with 'fluxo run --db'.

Shows the timeline of store events in seq order, optionally narrowed to
one request, one intent name, event types or a minimum level, and
summary statistics. Filters are applied by the database.

Examples:
  fluxo trace --db ./fluxo.db --runs
  fluxo trace --db ./fluxo.db
  fluxo trace --db ./fluxo.db --run 0190... --request req-3
  fluxo trace --db ./fluxo.db --type intent.error --type sidejob.error
  fluxo trace --db ./fluxo.db --level WARN --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite event log (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to show (default: latest)")
	cmd.Flags().StringVar(&opts.RequestID, "request", "", "filter to one request id")
	cmd.Flags().StringVar(&opts.Intent, "intent", "", "filter to one intent or effect name")
	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "filter to event types (repeatable)")
	cmd.Flags().StringVar(&opts.Level, "level", "DEBUG", "minimum event level")
	cmd.Flags().BoolVar(&opts.ListRuns, "runs", false, "list recorded runs instead")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	printer := newPrinter(opts.RootOptions, cmd)
	ctx, stop := signalContext(cmd)
	defer stop()

	minLevel, err := trace.ParseLevel(opts.Level)
	if err != nil {
		return commandError("invalid --level", err)
	}

	log, err := openExistingLog(opts.Database)
	if err != nil {
		return err
	}
	defer log.Close()

	if opts.ListRuns {
		runs, err := log.Runs(ctx)
		if err != nil {
			return commandError("failed to list runs", err)
		}
		return printer.Print(runsReport(runs))
	}

	var run eventlog.Run
	if opts.RunID != "" {
		run, err = log.GetRun(ctx, opts.RunID)
	} else {
		run, err = log.LatestRun(ctx)
	}
	if err != nil {
		if errors.Is(err, eventlog.ErrRunNotFound) {
			printer.Fail(&CLIError{Code: ErrCodeRunNotFound, Message: err.Error()})
			return commandError("run not found", err)
		}
		return commandError("failed to read run", err)
	}

	entries, err := log.Query(ctx, run.ID, eventlog.Filter{
		RequestID: opts.RequestID,
		Intent:    opts.Intent,
		Types:     opts.Types,
		MinLevel:  minLevel,
	})
	if err != nil {
		return commandError("failed to read events", err)
	}

	result := TraceResult{Run: runInfo(run), Entries: entries}
	result.Stats = buildStats(result.Entries)

	return printer.Print(report{
		data: result,
		run:  run.ID,
		text: func(w io.Writer) { writeTraceText(w, result) },
	})
}

func runInfo(run eventlog.Run) RunInfo {
	info := RunInfo{
		ID:         run.ID,
		Name:       run.Name,
		ConfigHash: run.ConfigHash,
		StartedAt:  run.StartedAt,
		TraceHash:  run.TraceHash,
	}
	if run.Finished() {
		finished := run.FinishedAt
		info.FinishedAt = &finished
	}
	return info
}

func buildStats(entries []trace.Entry) TraceStats {
	stats := TraceStats{TotalEvents: len(entries), ByType: map[string]int{}}
	requests := map[string]struct{}{}
	for _, e := range entries {
		stats.ByType[e.Type]++
		if e.Level == "ERROR" {
			stats.Errors++
		}
		if e.RequestID != "" {
			requests[e.RequestID] = struct{}{}
		}
	}
	stats.Requests = len(requests)
	return stats
}

func runsReport(runs []eventlog.Run) report {
	infos := make([]RunInfo, 0, len(runs))
	for _, run := range runs {
		infos = append(infos, runInfo(run))
	}
	return report{data: infos, text: func(w io.Writer) {
		if len(infos) == 0 {
			fmt.Fprintln(w, "No runs recorded.")
			return
		}
		for _, info := range infos {
			status := "open"
			if info.FinishedAt != nil {
				status = "finished"
			}
			fmt.Fprintf(w, "%s  %-24s %-8s %s\n", info.ID, info.Name, status, info.StartedAt.Format(time.RFC3339))
		}
	}}
}

func writeTraceText(w io.Writer, result TraceResult) {
	fmt.Fprintf(w, "Run: %s (%s)\n", result.Run.ID, result.Run.Name)
	if result.Run.TraceHash != "" {
		fmt.Fprintf(w, "Trace hash: %s\n", result.Run.TraceHash)
	}
	fmt.Fprintln(w)

	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "No events found.")
		return
	}
	for _, e := range result.Entries {
		fmt.Fprintln(w, trace.Format(e))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Events: %d  Requests: %d  Errors: %d\n",
		result.Stats.TotalEvents, result.Stats.Requests, result.Stats.Errors)
	types := make([]string, 0, len(result.Stats.ByType))
	for t := range result.Stats.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(w, "  %-22s %d\n", t, result.Stats.ByType[t])
	}
}
