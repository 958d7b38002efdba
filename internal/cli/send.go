package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fluxo/internal/config"
	"github.com/roach88/fluxo/internal/demo"
	"github.com/roach88/fluxo/internal/harness"
	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/trace"
)

// SendOptions holds flags for the send command.
type SendOptions struct {
	*RootOptions
	Config string
	Seed   int
	Trace  bool
}

// SendResult is the output of the send command. Effects names the side
// effects the handlers emitted; nothing consumes them.
type SendResult struct {
	State   json.RawMessage      `json:"state"`
	Steps   []harness.StepResult `json:"steps"`
	Effects []string             `json:"effects,omitempty"`
	Trace   []trace.Entry        `json:"trace,omitempty"`
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "send <intent>[:<json-args>]...",
		Short: "Send intents to a counter store",
		Long: `Send intents, in order, to a fresh counter store and print the
resulting state.

Each argument names an intent, optionally followed by a colon and its
arguments as a JSON object. Sends wait for the handler to finish.
Emitted side effects are listed but not consumed.

Examples:
  fluxo send Add:'{"n":2}' Add:'{"n":3}' Reset
  fluxo send Notify --seed 5 --trace
  fluxo send Add:'{"n":1}' --config ./store.cue --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sendIntents(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "store settings file (.cue, .yaml, .json)")
	cmd.Flags().IntVar(&opts.Seed, "seed", 0, "initial count set by a bootstrapper")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the event trace")

	return cmd
}

func sendIntents(opts *SendOptions, args []string, cmd *cobra.Command) error {
	steps := make([]harness.FlowStep, 0, len(args))
	for _, arg := range args {
		step, err := parseIntentArg(arg)
		if err != nil {
			return commandError("invalid intent", err)
		}
		steps = append(steps, step)
	}

	scenario := &harness.Scenario{
		Name:   "send",
		Config: opts.Config,
		Flow:   steps,
	}
	if cmd.Flags().Changed("seed") {
		seed := opts.Seed
		blocking := true
		scenario.Seed = &seed
		scenario.Settings = &config.Config{Store: config.StoreConfig{BootstrapBlocking: &blocking}}
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	result, err := harness.Run(ctx, scenario)
	if err != nil {
		return commandError("send failed", err)
	}

	out := SendResult{State: result.State, Steps: result.Steps}
	for _, e := range result.Trace {
		if e.Type == string(intercept.EventSideEffectEmitted) {
			out.Effects = append(out.Effects, e.Intent)
		}
	}
	if opts.Trace {
		out.Trace = result.Trace
	}

	return newPrinter(opts.RootOptions, cmd).Print(report{
		data: out,
		text: func(w io.Writer) { writeSendText(w, out) },
	})
}

func writeSendText(w io.Writer, out SendResult) {
	for _, e := range out.Trace {
		fmt.Fprintln(w, trace.Format(e))
	}
	for _, step := range out.Steps {
		line := fmt.Sprintf("%s: %s", step.Intent, step.Outcome)
		if step.Error != "" {
			line += " (" + step.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
	if len(out.Effects) > 0 {
		fmt.Fprintf(w, "Effects: %v\n", out.Effects)
	}
	fmt.Fprintf(w, "State: %s\n", out.State)
}

// parseIntentArg parses "Name" or "Name:{json}" and checks that the
// intent decodes.
func parseIntentArg(arg string) (harness.FlowStep, error) {
	name, rawArgs, hasArgs := strings.Cut(arg, ":")
	step := harness.FlowStep{Send: name}
	if hasArgs {
		if err := json.Unmarshal([]byte(rawArgs), &step.Args); err != nil {
			return harness.FlowStep{}, fmt.Errorf("arguments of %s: %w", name, err)
		}
	}
	if _, err := demo.Decode(name, step.Args); err != nil {
		return harness.FlowStep{}, err
	}
	return step, nil
}
