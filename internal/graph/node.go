package graph

import "context"

// Node identifies one memoized computation. Implementations must be
// comparable: the graph uses them as map keys, and two equal Nodes are the
// same computation.
type Node interface {
	// String names the node in cycle paths and logs.
	String() string

	// CycleTolerant reports whether the node may observe a dependency cycle
	// through itself as ErrCyclicValue instead of failing.
	CycleTolerant() bool
}

// Runner computes node values. The graph calls Run on a fresh goroutine
// for every node computation.
type Runner interface {
	Run(ctx context.Context, c *Context) (any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, c *Context) (any, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, c *Context) (any, error) {
	return f(ctx, c)
}
