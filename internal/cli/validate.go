package cli

import (
	"errors"
	"fmt"
	"io"

	"cuelang.org/go/cue/token"
	"github.com/spf13/cobra"

	"github.com/roach88/fluxo/internal/config"
)

// FileValidation holds the validation result of one settings file.
type FileValidation struct {
	File    string `json:"file"`
	Valid   bool   `json:"valid"`
	Hash    string `json:"hash,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <settings-file>...",
		Short: "Validate store settings files",
		Long: `Validate store settings files without running a store.

CUE files are unified against the settings schema, YAML and JSON files
are decoded strictly. The merged settings are then checked for unknown
strategies, interceptors and invalid limits.

Examples:
  fluxo validate ./store.cue
  fluxo validate ./store.yaml ./other.cue --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	printer := newPrinter(opts, cmd)

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(files))}
	for _, file := range files {
		printer.Debugf("Validating %s", file)
		fv := validateFile(file)
		if !fv.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	return printer.Print(validateReport(result, printer.Verbose))
}

// validateFile loads one settings file and reports the first problem.
func validateFile(file string) FileValidation {
	fv := FileValidation{File: file}

	cfg, err := config.LoadConfig(file)
	if err != nil {
		var loadErr *config.LoadError
		if errors.As(err, &loadErr) {
			fv.Code = loadErr.Code
			fv.Message = loadErr.Message
			fv.Line = getLineFromCuePos(loadErr.Pos)
		} else {
			fv.Code = ErrCodeGeneric
			fv.Message = err.Error()
		}
		return fv
	}

	hash, err := cfg.Hash()
	if err != nil {
		fv.Code = ErrCodeGeneric
		fv.Message = err.Error()
		return fv
	}
	fv.Valid = true
	fv.Hash = hash
	return fv
}

// getLineFromCuePos extracts line number from a token.Pos.
func getLineFromCuePos(pos token.Pos) int {
	if pos.IsValid() {
		return pos.Line()
	}
	return 0
}

// validateReport fails with the first invalid file's code; the payload
// lists every file.
func validateReport(result ValidationResult, verbose bool) report {
	r := report{data: result, text: func(w io.Writer) { writeValidateText(w, result, verbose) }}

	var failed int
	var first *FileValidation
	for i := range result.Files {
		if result.Files[i].Valid {
			continue
		}
		failed++
		if first == nil {
			first = &result.Files[i]
		}
	}
	if first != nil {
		r.failure = &CLIError{
			Code:    first.Code,
			Message: fmt.Sprintf("validation failed for %d file(s): %s", failed, first.Message),
		}
	}
	return r
}

func writeValidateText(w io.Writer, result ValidationResult, verbose bool) {
	for _, fv := range result.Files {
		if fv.Valid {
			fmt.Fprintf(w, "✓ %s\n", fv.File)
			if verbose {
				fmt.Fprintf(w, "  hash %s\n", fv.Hash)
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", fv.File)
		if fv.Line > 0 {
			fmt.Fprintf(w, "  line %d\n", fv.Line)
		}
		fmt.Fprintf(w, "  %s: %s\n", fv.Code, fv.Message)
	}
}
