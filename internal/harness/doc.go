// Package harness runs declarative scenarios against real stores.
//
// A scenario declares modules whose reducers are built from rules, a list of
// steps to drive the store, and assertions over the final trace and state.
// Every step goes through the real dispatch pipeline; nothing is simulated.
//
// # Scenario Format
//
// Scenarios are YAML or CUE files with the following structure:
//
//	name: todo_basics
//	description: "Adding and completing todos"
//	strategy: exclusive
//	main:
//	  initial: {count: 0}
//	  rules:
//	    - {on: inc, op: inc, path: count}
//	modules:
//	  - slice: todos
//	    initial: []
//	    rules:
//	      - {on: add, op: append, from: payload}
//	steps:
//	  - dispatch: inc
//	  - load: todos
//	  - dispatch: add
//	    payload: {title: milk}
//	  - async:
//	      - {type: add, payload: {title: eggs}}
//	      - {type: inc}
//	  - parallel:
//	      - {dispatch: inc}
//	      - {dispatch: inc}
//	assertions:
//	  - {type: state_equals, path: main.count, value: 4}
//	  - {type: publish_count, action: add, count: 2}
//
// # Rule Operations
//
//   - set: replace the value at path
//   - inc: add the operand (default 1) to the number at path
//   - append: append the operand to the list at path
//   - delete: remove the entry at path
//   - merge: shallow-merge the operand map into the map at path
//   - fail: return an error; the reducer's slice keeps its previous value
//
// A module may also list action types under reject. They are failed by a
// meta-reducer before any rule runs, which on the main module makes the
// dispatch itself fail with REDUCER_FAILED:
//
//	main:
//	  reject: [boom]
//	steps:
//	  - dispatch: boom
//	    expect_error: REDUCER_FAILED
//
// # Assertion Types
//
//   - state_equals: the value at path equals value (canonical JSON comparison)
//   - state_absent: nothing exists at path
//   - publish_count: action was published exactly count times
//   - dispatch_order: actions appear in the trace in the given order
//   - slices: the loaded slice list, main first
//
// # Deterministic Testing
//
// Instruction IDs come from testutil.SequentialIDs and the trace records
// each instruction's issuance number, so exclusive scenarios produce
// byte-identical snapshots across runs for golden comparison. Scenarios
// with parallel steps under the concurrent strategy are not deterministic
// and should use assertions instead of golden files.
package harness
