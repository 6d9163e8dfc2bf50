// Package harness runs chartsync scenarios: scripted interactions against
// a live bridge, checked with assertions and golden flush logs.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: brush_then_opacity
//	description: "Selections and parameters reach the model"
//	spec:                      # inline spec, or spec_file: chart.cue
//	  params:
//	    - name: brush
//	      select: {type: interval}
//	    - name: opacity
//	      value: 0.5
//	config:
//	  debounce_ms: 10
//	steps:
//	  - data: {name: brush_store, value: [{unit: ""}]}
//	  - signal: {name: brush, value: {x: [1, 2]}}
//	  - advance_ms: 20
//	  - remote: {_params: {opacity: 0.8}}
//	  - command: {type: update, updates: [...]}
//	  - respec: {...}
//	expect:                    # final model state, subset match
//	  _params: {opacity: 0.8}
//	assertions:
//	  - type: flush_count
//	    count: 3
//
// Watch lists default to what the spec's params imply; a scenario may
// override them under watches.
//
// # Steps
//
//   - signal / data: write a runtime cell and pulse, as a user gesture does
//   - advance_ms: move the scheduler clock, firing due coalescer timers
//   - remote: a peer state envelope (remote-origin model writes)
//   - command: a peer command envelope
//   - respec: a peer state envelope replacing the spec
//
// # Assertion Types
//
//   - final_state: a model key's final value contains expect (subset match)
//   - flush_count: the number of flushes, optionally those carrying key
//   - flush_contains: some flush carries key with a value containing expect
//   - bridge_state: the final bridge state
//   - error_count: the number of errors reported by the runtime
//   - selection: the final selection named key, decoded with the model's
//     selection types, contains expect; selection_type checks its type
//
// # Deterministic Testing
//
// Scenarios run on a testutil.ManualScheduler with sequential session IDs
// and an in-memory store, so flush logs are identical across runs. After
// the last step the clock is advanced by SettleTime so trailing writes land.
package harness
