// Package store is the state-management engine: a single state tree built
// from reducer modules, updated by dispatched actions and observed through
// streams and selections.
//
// # Dispatch Pipeline
//
// Every dispatched value passes through the middleware chain:
//
//	starter -> user middleware (WithMiddleware) -> raw
//
// The starter validates the value, takes a lock according to the strategy
// read at dispatch time and brackets processing with an instruction on the
// execution stack. raw runs the root reducer and publishes the new tree when
// it changed. Invalid values are logged and dropped; Dispatch returns nil.
//
// # Strategies
//
//   - Exclusive: every top-level dispatch holds the shared lock, so actions
//     and their downstream effects run in dispatch order
//   - Concurrent: top-level dispatches skip the shared lock; only the order
//     in which instructions are issued is guaranteed
//
// An async action runs with a fresh nested lock in its context. Its
// sub-dispatches serialize on that lock instead of the shared one, so an
// async action never deadlocks against itself under Exclusive.
//
// # Modules
//
// The main module is given to New and owns the MainSlice slice unless it
// names another. Feature modules are added with LoadModule and removed with
// UnloadModule. Both rebuild the root reducer, re-merge dependency trees
// (first declaration wins) and emit UPDATE_STATE followed by MODULE_LOADED
// or MODULE_UNLOADED.
//
// # Propagation
//
// Selections register with the completion tracker. A dispatch returns only
// after every tracked selection has processed the tree it published, or
// fails with PROPAGATION_TIMEOUT after the configured timeout.
package store
