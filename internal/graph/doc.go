// Package graph implements the concurrent memoizing node graph the engine
// runs on.
//
// A Node is a comparable value naming one computation. Graph.Get returns its
// result, computing it at most once no matter how many goroutines ask at the
// same time: the first caller starts the computation, later callers wait for
// it. Values and errors are both memoized until invalidated.
//
// EDGES:
//
// Every Get made from inside a running node records a dependency edge from
// the requesting node to the requested one. Edges serve two purposes:
//   - Runtime cycle detection: before waiting on a running node the graph
//     checks whether that node already (transitively) depends on the caller.
//   - Invalidation: InvalidateFrom walks dependent edges from the cleared
//     nodes and marks every transitive dependent dirty.
//
// CRITICAL PATTERNS:
//
// Detached computations: a node body runs on its own goroutine with a context
// that ignores the requester's cancellation. A cancelled requester stops
// waiting; the shared computation continues and memoizes for the next caller.
//
// Lock ordering: the graph's topology mutex guards the node table and edges.
// Each entry has its own mutex for its state. The topology mutex is never
// held while waiting and never acquired while an entry mutex is held.
package graph
