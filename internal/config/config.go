// Package config loads store settings from CUE, YAML or JSON files and
// turns them into engine options.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fluxo/internal/effect"
	"github.com/roach88/fluxo/internal/engine"
	"github.com/roach88/fluxo/internal/intercept"
	"github.com/roach88/fluxo/internal/strategy"
	"github.com/roach88/fluxo/internal/trace"
)

// Config holds everything a settings file can configure.
type Config struct {
	Store        StoreConfig    `json:"store" yaml:"store"`
	SideEffects  EffectsConfig  `json:"side_effects" yaml:"side_effects"`
	EventLog     EventLogConfig `json:"event_log" yaml:"event_log"`
	Interceptors []string       `json:"interceptors,omitempty" yaml:"interceptors,omitempty"`
}

// StoreConfig configures the store itself. Pointer fields distinguish
// "unset" from an explicit false.
type StoreConfig struct {
	Name              string `json:"name,omitempty" yaml:"name,omitempty"`
	Strategy          string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Capacity          int    `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Parallelism       int    `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`
	LazyStart         *bool  `json:"lazy_start,omitempty" yaml:"lazy_start,omitempty"`
	DebugChecks       *bool  `json:"debug_checks,omitempty" yaml:"debug_checks,omitempty"`
	CloseOnExceptions *bool  `json:"close_on_exceptions,omitempty" yaml:"close_on_exceptions,omitempty"`
	BootstrapBlocking *bool  `json:"bootstrap_blocking,omitempty" yaml:"bootstrap_blocking,omitempty"`
	SideJobLimit      int    `json:"side_job_limit,omitempty" yaml:"side_job_limit,omitempty"`
	StopTimeout       string `json:"stop_timeout,omitempty" yaml:"stop_timeout,omitempty"`
}

// EffectsConfig configures the side-effect bus.
type EffectsConfig struct {
	Strategy   string `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	BufferSize int    `json:"buffer_size,omitempty" yaml:"buffer_size,omitempty"`
	Overflow   string `json:"overflow,omitempty" yaml:"overflow,omitempty"`
}

// EventLogConfig configures the SQLite event log. An empty path disables it.
type EventLogConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// DefaultConfig returns the settings a store uses with no file.
func DefaultConfig() Config {
	lazy, off := true, false
	return Config{
		Store: StoreConfig{
			Strategy:          strategy.NameFifo,
			Capacity:          strategy.DefaultCapacity,
			LazyStart:         &lazy,
			DebugChecks:       &off,
			CloseOnExceptions: &off,
			BootstrapBlocking: &off,
			StopTimeout:       engine.DefaultStopTimeout.String(),
		},
		SideEffects: EffectsConfig{
			Strategy:   string(effect.Receive),
			BufferSize: effect.DefaultBufferSize,
			Overflow:   string(effect.Drop),
		},
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	c.Store.Merge(&source.Store)
	c.SideEffects.Merge(&source.SideEffects)
	if source.EventLog.Path != "" {
		c.EventLog.Path = source.EventLog.Path
	}
	if len(source.Interceptors) > 0 {
		c.Interceptors = source.Interceptors
	}
}

// Merge applies non-zero values from source into c.
func (c *StoreConfig) Merge(source *StoreConfig) {
	if source.Name != "" {
		c.Name = source.Name
	}
	if source.Strategy != "" {
		c.Strategy = source.Strategy
	}
	if source.Capacity > 0 {
		c.Capacity = source.Capacity
	}
	if source.Parallelism > 0 {
		c.Parallelism = source.Parallelism
	}
	if source.LazyStart != nil {
		c.LazyStart = source.LazyStart
	}
	if source.DebugChecks != nil {
		c.DebugChecks = source.DebugChecks
	}
	if source.CloseOnExceptions != nil {
		c.CloseOnExceptions = source.CloseOnExceptions
	}
	if source.BootstrapBlocking != nil {
		c.BootstrapBlocking = source.BootstrapBlocking
	}
	if source.SideJobLimit > 0 {
		c.SideJobLimit = source.SideJobLimit
	}
	if source.StopTimeout != "" {
		c.StopTimeout = source.StopTimeout
	}
}

// Merge applies non-zero values from source into c.
func (c *EffectsConfig) Merge(source *EffectsConfig) {
	if source.Strategy != "" {
		c.Strategy = source.Strategy
	}
	if source.BufferSize > 0 {
		c.BufferSize = source.BufferSize
	}
	if source.Overflow != "" {
		c.Overflow = source.Overflow
	}
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	if _, err := strategy.ByName(c.Store.Strategy, c.strategyParams()); err != nil {
		errs = append(errs, fmt.Errorf("store.strategy: %w", err))
	}
	if c.Store.Capacity < 0 {
		errs = append(errs, fmt.Errorf("store.capacity: must not be negative, got %d", c.Store.Capacity))
	}
	if c.Store.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("store.parallelism: must not be negative, got %d", c.Store.Parallelism))
	}
	if c.Store.SideJobLimit < 0 {
		errs = append(errs, fmt.Errorf("store.side_job_limit: must not be negative, got %d", c.Store.SideJobLimit))
	}
	if _, err := c.stopTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("store.stop_timeout: %w", err))
	}
	if _, err := effect.New[any](c.effectConfig()); err != nil {
		errs = append(errs, fmt.Errorf("side_effects: %w", err))
	}
	for _, name := range c.Interceptors {
		if _, err := intercept.Lookup(name); err != nil {
			errs = append(errs, fmt.Errorf("interceptors: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Options converts the configuration into engine options. Extra
// interceptors (e.g. an event log recorder) are appended after the named ones.
func (c *Config) Options(extra ...intercept.Interceptor) ([]engine.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	factory, _ := strategy.ByName(c.Store.Strategy, c.strategyParams())
	timeout, _ := c.stopTimeout()

	opts := []engine.Option{
		engine.WithIntentStrategy(factory),
		engine.WithSideEffects(effect.Strategy(c.SideEffects.Strategy), c.SideEffects.BufferSize, effect.Overflow(c.SideEffects.Overflow)),
		engine.WithSideJobLimit(c.Store.SideJobLimit),
		engine.WithStopTimeout(timeout),
		engine.WithLazyStart(boolOr(c.Store.LazyStart, true)),
		engine.WithDebugChecks(boolOr(c.Store.DebugChecks, false)),
		engine.WithCloseOnExceptions(boolOr(c.Store.CloseOnExceptions, false)),
	}
	if c.Store.Name != "" {
		opts = append(opts, engine.WithName(c.Store.Name))
	}

	var interceptors []intercept.Interceptor
	for _, name := range c.Interceptors {
		i, _ := intercept.Lookup(name)
		interceptors = append(interceptors, i)
	}
	interceptors = append(interceptors, extra...)
	if len(interceptors) > 0 {
		opts = append(opts, engine.WithInterceptors(interceptors...))
	}
	return opts, nil
}

// BootstrapBlocking reports whether the bootstrapper should block Start.
func (c *Config) BootstrapBlocking() bool {
	return boolOr(c.Store.BootstrapBlocking, false)
}

// Hash returns a stable digest of the configuration, recorded with each
// event log run.
func (c *Config) Hash() (string, error) {
	canonical, err := trace.MarshalCanonical(c)
	if err != nil {
		return "", fmt.Errorf("config hash: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (c *Config) strategyParams() strategy.Params {
	return strategy.Params{Capacity: c.Store.Capacity, Parallelism: c.Store.Parallelism}
}

func (c *Config) effectConfig() effect.Config {
	return effect.Config{
		Strategy:   effect.Strategy(c.SideEffects.Strategy),
		BufferSize: c.SideEffects.BufferSize,
		Overflow:   effect.Overflow(c.SideEffects.Overflow),
	}
}

func (c *Config) stopTimeout() (time.Duration, error) {
	if c.Store.StopTimeout == "" {
		return engine.DefaultStopTimeout, nil
	}
	d, err := time.ParseDuration(c.Store.StopTimeout)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative, got %s", d)
	}
	return d, nil
}

func boolOr(b *bool, fallback bool) bool {
	if b == nil {
		return fallback
	}
	return *b
}
