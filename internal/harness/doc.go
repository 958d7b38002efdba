// Package harness runs scenario files against the demo counter store and
// checks the resulting trace and state.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: counter_basics
//	description: "Adds fold in order and failures are reported"
//	settings:            # optional, same shape as a settings file
//	  store:
//	    strategy: fifo
//	config: store.cue     # optional settings file, relative to the scenario
//	seed: 10              # optional bootstrap count
//	collect_effects: true # subscribe to side effects from the start
//	flow:
//	  - send: Add
//	    args: { n: 2 }
//	    expect: { outcome: handled }
//	  - send: Slow
//	    args: { n: 1, delay_ms: 50 }
//	    async: true
//	  - await: { count: 3 }
//	  - effects: 1
//	  - wait: true
//	  - close: true
//	assertions:
//	  - type: trace_contains
//	    event: intent.handled
//	    intent: Add
//	  - type: final_state
//	    expect: { count: 3 }
//
// # Steps
//
//   - send: sends an intent and waits for its handler unless async is set.
//     Async outcomes are checked at the next wait or close step.
//   - await: polls until the state matches the given fields.
//   - effects: waits until that many side effects were collected.
//   - wait: waits for all in-flight intents and side jobs.
//   - close: closes the store and waits until it is fully closed.
//
// # Assertion Types
//
//   - trace_contains: an event of the given type (and intent, key, value) occurred
//   - trace_order: events occurred in the given order ("type" or "type:Intent")
//   - trace_count: an event occurred exactly N times
//   - final_state: the final state contains the expected fields
//   - side_effects: the collected side effects, by name, in order
//
// # Deterministic Testing
//
// Every run uses sequential request ids and a fresh event clock, and the
// trace is normalized before comparison, so a sequential scenario produces
// a byte-identical trace on every run. Golden snapshots live under
// testdata/golden and are regenerated with:
//
//	go test ./internal/harness -update
package harness
