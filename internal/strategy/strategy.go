// Package strategy implements the input strategies that decide how queued
// intents are ordered, cancelled and executed against a store.
//
// A strategy never runs user code itself. It receives Requests from the store
// and calls Scope.Execute for each one it decides to run, then finishes the
// request's job with the result. Which requests run, in what order, and how
// many at once is the whole of a strategy's behaviour:
//
//   - Fifo, ChannelFifo: one at a time, in submission order.
//   - Lifo: a new request cancels the running one and starts immediately.
//   - ChannelLifo: like Lifo, but the next request waits for the cancelled
//     one to unwind.
//   - Parallel: every request runs concurrently, optionally capped.
//   - Direct: the request runs on the caller's goroutine.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/fluxo/internal/job"
)

// ErrClosed is returned by QueueIntent after Close.
var ErrClosed = errors.New("input strategy closed")

// Request is a unit of queued work: an intent plus its completion handle.
// The strategy finishes Job() after Execute returns.
type Request interface {
	ID() string
	Job() *job.Job
}

// Scope is what a strategy needs from its owner.
type Scope interface {
	// Context is the owner's root context. Strategies stop their workers
	// when it is done.
	Context() context.Context

	// Execute runs the request. ctx is the request job's context.
	Execute(ctx context.Context, req Request) error

	// Undelivered is called for requests a strategy drops without running
	// them, e.g. superseded entries of ChannelLifo.
	Undelivered(req Request)
}

// Strategy schedules requests for execution.
type Strategy interface {
	// Name identifies the strategy in logs and events.
	Name() string

	// QueueIntent accepts req for execution. It may block while a bounded
	// queue is full, honouring ctx. Direct executes req before returning.
	QueueIntent(ctx context.Context, req Request) error

	// ParallelProcessing reports whether two requests may execute at the
	// same time.
	ParallelProcessing() bool

	// Close stops accepting requests, cancels work the strategy owns and
	// returns the requests that were queued but never started.
	Close() []Request
}

// Factory builds a strategy bound to a scope.
type Factory func(scope Scope) Strategy

// execute runs req through scope and completes its job.
func execute(scope Scope, req Request) {
	err := scope.Execute(req.Job().Context(), req)
	req.Job().Finish(err)
}

// Strategy names accepted by ByName.
const (
	NameFifo        = "fifo"
	NameChannelFifo = "channel-fifo"
	NameLifo        = "lifo"
	NameChannelLifo = "channel-lifo"
	NameParallel    = "parallel"
	NameDirect      = "direct"
)

// Names lists every strategy name in a stable order.
var Names = []string{NameFifo, NameChannelFifo, NameLifo, NameChannelLifo, NameParallel, NameDirect}

// Params carries the numeric knobs of strategies selected by name.
type Params struct {
	// Capacity bounds the channel-fifo queue. Zero selects DefaultCapacity.
	Capacity int
	// Parallelism caps parallel execution. Zero means unlimited.
	Parallelism int
}

// ByName resolves a strategy factory from its configuration name.
func ByName(name string, p Params) (Factory, error) {
	switch name {
	case "", NameFifo:
		return Fifo(), nil
	case NameChannelFifo:
		return ChannelFifo(p.Capacity), nil
	case NameLifo:
		return Lifo(), nil
	case NameChannelLifo:
		return ChannelLifo(), nil
	case NameParallel:
		return Parallel(p.Parallelism), nil
	case NameDirect:
		return Direct(), nil
	default:
		return nil, fmt.Errorf("unknown input strategy %q: must be one of %v", name, Names)
	}
}
