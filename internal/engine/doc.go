// Package engine implements the store: a unidirectional state container
// that processes intents through a pluggable input strategy.
//
// ARCHITECTURE:
//
// Intent flow:
//  1. Send/Emit stamps the intent with a request id and hands it to the
//     input strategy (Fifo by default).
//  2. The strategy decides when, and how concurrently, the intent runs.
//  3. The handler runs with a Scope bound to the request's cancellable job.
//  4. The handler reads and transforms state, posts side effects and
//     launches keyed side jobs through the scope.
//
// State is held in an atomic versioned cell. Transitions are pure
// transforms applied with compare-and-swap; a lost race retries against
// the newer state, so concurrent updates compose instead of overwriting
// each other. Observers get a conflated, version-ordered stream.
//
// Every transition of intents, side effects, side jobs, bootstrap and the
// store itself is reported to interceptors as an intercept.Event stamped
// with a monotonic seq from the store's Clock.
//
// Close never blocks on handlers. It cancels the store's root context,
// returns queued intents as undelivered, cancels side jobs and detaches
// guaranteed side effects; Done closes once in-flight work has returned
// or StopTimeout elapsed.
package engine
