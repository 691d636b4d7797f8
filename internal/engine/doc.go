// Package engine implements the strata scheduler.
//
// The scheduler executes batches of root requests against a validated
// rules.RuleGraph. It owns the memoizing graph.Graph, the value interner and
// the content-addressed store, and turns every node computation into a
// Return or a Throw.
//
// ARCHITECTURE:
//
// Nodes:
//   - Select: a root request, one (query, subject) pair of an ExecutionRequest
//   - Task: one rule entry applied to one interned subject
//   - Scandir, DigestFile, ReadLink: filesystem reads under the build root
//
// Execution Flow:
//  1. Execute interns each root subject and requests its Select node
//  2. A Task resolves its selectors (params, singletons or other Tasks)
//  3. The rule body runs holding a worker slot
//  4. Get and MultiGet release the slot, wait on sub-nodes, re-acquire it
//  5. Results are memoized by the graph; Throws are aggregated per batch
//
// Filesystem intrinsics read the disk only through filesystem nodes, so
// InvalidateFiles can find every computation that observed a path.
//
// CRITICAL PATTERNS:
//
// CRITICAL-1: Suspension Is Data
// A running body is Runnable or Suspended. A suspended body lists the nodes
// it awaits in its taskState; InFlight exposes that state.
//
// CRITICAL-2: Bounded Parallelism
// At most Parallelism bodies hold a slot at once. A body never holds a slot
// while waiting, so a chain of Gets deeper than the pool cannot deadlock.
//
// CRITICAL-3: Failure Isolation
// A Throw in one root never cancels its siblings. MultiGet waits for every
// sub-request before reporting the first failure in request order.
package engine
