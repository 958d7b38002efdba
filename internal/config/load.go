package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Load error codes.
const (
	ErrCodeNotFound = "E_CONFIG_NOT_FOUND"
	ErrCodeFormat   = "E_CONFIG_FORMAT"
	ErrCodeParse    = "E_CONFIG_PARSE"
	ErrCodeSchema   = "E_CONFIG_SCHEMA"
	ErrCodeInvalid  = "E_CONFIG_INVALID"
)

// LoadError reports a settings file that could not be loaded.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadConfig reads filename, merges it over DefaultConfig and validates
// the result. The format follows the extension: .cue, .yaml/.yml or .json.
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	}
	return Parse(filename, data)
}

// Parse decodes data as a settings file named filename.
func Parse(filename string, data []byte) (Config, error) {
	var (
		file Config
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".cue":
		file, err = parseCUE(filename, data)
	case ".yaml", ".yml", ".json":
		// JSON is a subset of YAML.
		file, err = parseYAML(data)
	default:
		return Config{}, &LoadError{Code: ErrCodeFormat, Message: fmt.Sprintf("unsupported config extension %q", ext)}
	}
	if err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	cfg.Merge(&file)
	if err := cfg.Validate(); err != nil {
		return Config{}, &LoadError{Code: ErrCodeInvalid, Message: err.Error()}
	}
	return cfg, nil
}

func parseCUE(filename string, data []byte) (Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile config schema: %w", err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return Config{}, cueLoadError(ErrCodeParse, err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, cueLoadError(ErrCodeSchema, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, cueLoadError(ErrCodeSchema, err)
	}
	return cfg, nil
}

func parseYAML(data []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, nil
		}
		return Config{}, &LoadError{Code: ErrCodeParse, Message: err.Error()}
	}
	return cfg, nil
}

// cueLoadError keeps the position of the first CUE error.
func cueLoadError(code string, err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}
