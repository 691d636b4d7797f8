package graph

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of a node.
type State int

const (
	NotStarted State = iota
	Running
	Completed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Completed:
		return "completed"
	}
	return "not_started"
}

// run is one computation of a node. Waiters block on done and then read the
// result fields, which are written before done is closed.
type run struct {
	token      uint64
	done       chan struct{}
	value      any
	err        error
	generation uint64
}

// dep is a dependency observed by a run, with the generation it saw.
type dep struct {
	entry      *entry
	generation uint64
}

type entry struct {
	node Node

	mu      sync.Mutex
	state   State
	current *run

	value      any
	err        error
	hasValue   bool
	generation uint64
	deps       []dep

	// dirty marks a completed node whose dependencies may have changed.
	dirty bool
	// cleared marks a node whose own inputs changed; it always re-runs.
	cleared bool
}

// Context is the handle a running node uses to request its dependencies.
// Every Get through it records a dependency edge.
type Context struct {
	graph *Graph
	entry *entry
	token uint64

	mu   sync.Mutex
	deps []dep
}

// Node returns the node being computed.
func (c *Context) Node() Node {
	return c.entry.node
}

// RunToken identifies this computation of the node.
func (c *Context) RunToken() uint64 {
	return c.token
}

// Get requests n as a dependency of the running node.
func (c *Context) Get(ctx context.Context, n Node) (any, error) {
	return c.graph.Get(ctx, c, n)
}

func (c *Context) record(e *entry, generation uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deps = append(c.deps, dep{entry: e, generation: generation})
	c.mu.Unlock()
}

func (c *Context) recorded() []dep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]dep(nil), c.deps...)
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the graph's logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithEarlyCutoff enables re-validation of dirty nodes: before re-running, a
// dirty node re-requests its recorded dependencies and is reused unchanged
// if none of them produced a new generation.
func WithEarlyCutoff() Option {
	return func(g *Graph) {
		g.earlyCutoff = true
	}
}

// Graph memoizes node computations and tracks the dependency edges between
// them.
type Graph struct {
	runner      Runner
	logger      *slog.Logger
	earlyCutoff bool
	clock       *Clock

	mu      sync.Mutex
	entries map[Node]*entry
	deps    map[*entry]map[*entry]struct{} // dependent -> dependencies
	rdeps   map[*entry]map[*entry]struct{} // dependency -> dependents

	runs    atomic.Uint64
	hits    atomic.Uint64
	cutoffs atomic.Uint64
}

// New creates an empty graph whose nodes are computed by runner.
func New(runner Runner, opts ...Option) *Graph {
	g := &Graph{
		runner:  runner,
		logger:  slog.Default(),
		clock:   NewClock(),
		entries: make(map[Node]*entry),
		deps:    make(map[*entry]map[*entry]struct{}),
		rdeps:   make(map[*entry]map[*entry]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Get returns the value of n, computing it if needed. src is the running
// node's Context when called from inside a node, or nil for a root request.
//
// Cancelling ctx only stops this caller from waiting: the computation keeps
// running and its result is memoized.
func (g *Graph) Get(ctx context.Context, src *Context, n Node) (any, error) {
	v, _, err := g.get(ctx, src, n)
	return v, err
}

func (g *Graph) get(ctx context.Context, src *Context, n Node) (any, uint64, error) {
	e := g.entryFor(src, n)

	e.mu.Lock()
	switch {
	case e.state == Completed && !e.dirty && !e.cleared:
		value, err, gen := e.value, e.err, e.generation
		e.mu.Unlock()
		g.hits.Add(1)
		src.record(e, gen)
		return value, gen, err

	case e.state == Running:
		r := e.current
		e.mu.Unlock()
		if src != nil {
			if err := g.checkCycle(src.entry, e); err != nil {
				return nil, 0, err
			}
		}
		return g.wait(ctx, src, e, r)

	default:
		r, validate := g.start(e)
		e.mu.Unlock()
		g.clearEdges(e)
		go g.run(ctx, e, r, validate)
		return g.wait(ctx, src, e, r)
	}
}

// start transitions e to Running. Caller holds e.mu.
func (g *Graph) start(e *entry) (*run, []dep) {
	var validate []dep
	if g.earlyCutoff && e.state == Completed && e.dirty && !e.cleared && len(e.deps) > 0 {
		validate = e.deps
	}
	r := &run{token: g.clock.Next(), done: make(chan struct{})}
	e.current = r
	e.state = Running
	return r, validate
}

func (g *Graph) wait(ctx context.Context, src *Context, e *entry, r *run) (any, uint64, error) {
	select {
	case <-r.done:
		src.record(e, r.generation)
		return r.value, r.generation, r.err
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

func (g *Graph) run(parent context.Context, e *entry, r *run, validate []dep) {
	ctx := context.WithoutCancel(parent)
	c := &Context{graph: g, entry: e, token: r.token}

	if validate != nil && g.revalidate(ctx, c, validate) {
		g.cutoffs.Add(1)
		g.complete(e, r, c, nil, nil, true)
		return
	}
	if validate != nil {
		g.clearEdges(e)
		c.deps = nil
	}

	g.runs.Add(1)
	value, err := g.invoke(ctx, c)
	g.complete(e, r, c, value, err, false)
}

// revalidate re-requests the dependencies recorded by the previous run and
// reports whether all of them kept their generation.
func (g *Graph) revalidate(ctx context.Context, c *Context, deps []dep) bool {
	for _, d := range deps {
		if _, gen, _ := g.get(ctx, c, d.entry.node); gen != d.generation {
			return false
		}
	}
	return true
}

func (g *Graph) invoke(ctx context.Context, c *Context) (value any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Node: c.Node().String(), Value: p, Stack: string(debug.Stack())}
		}
	}()
	return g.runner.Run(ctx, c)
}

func (g *Graph) complete(e *entry, r *run, c *Context, value any, err error, reused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if reused {
		value, err = e.value, e.err
	}

	if e.current != r {
		// Graph was cleared or the run was detached by an invalidation; hand
		// the result to this run's waiters only.
		r.value, r.err, r.generation = value, err, e.generation
		close(r.done)
		return
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		e.state = NotStarted
		e.current = nil
		r.value, r.err, r.generation = value, err, e.generation
		close(r.done)
		return
	}

	if !reused && (!e.hasValue || !g.earlyCutoff || !sameResult(e.value, e.err, value, err)) {
		e.generation++
	}
	e.value, e.err, e.hasValue = value, err, true
	e.deps = c.recorded()
	e.state = Completed
	e.current = nil
	e.dirty = false
	e.cleared = false

	r.value, r.err, r.generation = value, err, e.generation
	close(r.done)
}

func sameResult(oldValue any, oldErr error, value any, err error) bool {
	if (oldErr == nil) != (err == nil) {
		return false
	}
	if err != nil {
		return oldErr.Error() == err.Error()
	}
	return reflect.DeepEqual(oldValue, value)
}

// entryFor returns n's entry, creating it if needed, and records the edge
// from src.
func (g *Graph) entryFor(src *Context, n Node) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[n]
	if !ok {
		e = &entry{node: n}
		g.entries[n] = e
	}
	if src != nil {
		g.addEdgeLocked(src.entry, e)
	}
	return e
}

func (g *Graph) addEdgeLocked(from, to *entry) {
	if g.deps[from] == nil {
		g.deps[from] = make(map[*entry]struct{})
	}
	g.deps[from][to] = struct{}{}
	if g.rdeps[to] == nil {
		g.rdeps[to] = make(map[*entry]struct{})
	}
	g.rdeps[to][from] = struct{}{}
}

func (g *Graph) removeEdgeLocked(from, to *entry) {
	delete(g.deps[from], to)
	delete(g.rdeps[to], from)
}

// clearEdges drops e's outgoing edges before a new run records fresh ones.
func (g *Graph) clearEdges(e *entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.clearEdgesLocked(e)
}

func (g *Graph) clearEdgesLocked(e *entry) {
	for to := range g.deps[e] {
		delete(g.rdeps[to], e)
	}
	delete(g.deps, e)
}

// checkCycle reports whether waiting for target from src would deadlock,
// that is whether target already depends on src.
func (g *Graph) checkCycle(src, target *entry) error {
	g.mu.Lock()
	path := g.findPathLocked(target, src)
	if path != nil {
		g.removeEdgeLocked(src, target)
	}
	g.mu.Unlock()
	if path == nil {
		return nil
	}

	cycle := append([]*entry{src}, path...)
	tolerant := true
	names := make([]string, len(cycle))
	for i, e := range cycle {
		names[i] = e.node.String()
		if !e.node.CycleTolerant() {
			tolerant = false
		}
	}
	if tolerant {
		g.logger.Debug("tolerated dependency cycle", "path", names)
		return ErrCyclicValue
	}
	g.logger.Debug("dependency cycle", "path", names)
	return &CycleError{Path: names}
}

// findPathLocked returns a path of dependency edges from -> ... -> to, or
// nil if there is none.
func (g *Graph) findPathLocked(from, to *entry) []*entry {
	if from == to {
		return []*entry{from}
	}
	parent := map[*entry]*entry{from: nil}
	stack := []*entry{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range g.deps[cur] {
			if _, seen := parent[next]; seen {
				continue
			}
			parent[next] = cur
			if next == to {
				var path []*entry
				for e := next; e != nil; e = parent[e] {
					path = append(path, e)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			stack = append(stack, next)
		}
	}
	return nil
}
