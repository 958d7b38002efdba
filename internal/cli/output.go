package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	ExitSuccess      = 0 // command ran and its check passed
	ExitFailure      = 1 // a scenario, golden, validation or replay check failed
	ExitCommandError = 2 // the command could not run: bad flags, missing files, unreadable event log
)

// Error codes reported in CLIError.Code. Settings files report the
// config.ErrCode* values.
const (
	ErrCodeGeneric        = "E001"
	ErrCodeScenarioFailed = "E_SCENARIO_FAILED"
	ErrCodeTestFailed     = "E_TEST_FAILED"
	ErrCodeReplayMismatch = "E_REPLAY_MISMATCH"
	ErrCodeRunNotFound    = "E_RUN_NOT_FOUND"
)

// ExitError carries the process exit code for a command error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// commandError reports that a command could not run. cause may be nil.
func commandError(message string, cause error) *ExitError {
	return exitWith(ExitCommandError, message, cause)
}

// checkFailed reports that a command ran but its check did not pass.
func checkFailed(message string, cause error) *ExitError {
	return exitWith(ExitFailure, message, cause)
}

func exitWith(code int, message string, cause error) *ExitError {
	err := errors.New(message)
	if cause != nil {
		err = fmt.Errorf("%s: %w", message, cause)
	}
	return &ExitError{Code: code, Err: err}
}

// GetExitCode maps a command error to a process exit code. Errors that are
// not an ExitError, such as cobra flag errors, count as failures.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// CLIResponse is the JSON envelope every command writes in json format.
// Run names the event-log run the output belongs to.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
	Run    string    `json:"run,omitempty"`
}

// CLIError describes why a command's check failed.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// report is one command result: the payload, the run it belongs to, the
// failed check if any, and how to render it as text.
type report struct {
	data    any
	run     string
	failure *CLIError
	text    func(w io.Writer)
}

// Printer renders reports in the format selected by --format. Diagnostics
// go to Diag so stdout stays parseable in json format.
type Printer struct {
	Format  string
	Out     io.Writer
	Diag    io.Writer
	Verbose bool
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) *Printer {
	return &Printer{
		Format:  opts.Format,
		Out:     cmd.OutOrStdout(),
		Diag:    cmd.ErrOrStderr(),
		Verbose: opts.Verbose,
	}
}

// JSON reports whether output is the json envelope.
func (p *Printer) JSON() bool { return p.Format == "json" }

// Print renders r. A report carrying a failure is printed in full and then
// returned as an ExitFailure error.
func (p *Printer) Print(r report) error {
	if p.JSON() {
		resp := CLIResponse{Status: "ok", Data: r.data, Error: r.failure, Run: r.run}
		if r.failure != nil {
			resp.Status = "error"
		}
		enc := json.NewEncoder(p.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else if r.text != nil {
		r.text(p.Out)
	}

	if r.failure != nil {
		return checkFailed(r.failure.Message, nil)
	}
	return nil
}

// Fail prints a failure that has no payload, such as an unknown run id.
func (p *Printer) Fail(f *CLIError) {
	if p.JSON() {
		_ = json.NewEncoder(p.Out).Encode(CLIResponse{Status: "error", Error: f})
		return
	}
	fmt.Fprintf(p.Out, "Error [%s]: %s\n", f.Code, f.Message)
	if p.Verbose && f.Details != nil {
		fmt.Fprintf(p.Out, "Details: %v\n", f.Details)
	}
}

// Debugf writes a diagnostic line when --verbose is set.
func (p *Printer) Debugf(format string, args ...any) {
	if !p.Verbose || p.Diag == nil {
		return
	}
	fmt.Fprintf(p.Diag, format+"\n", args...)
}
