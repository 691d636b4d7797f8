package graph

import (
	"cmp"
	"slices"
)

// InvalidationResult counts the nodes touched by InvalidateFrom.
type InvalidationResult struct {
	// Cleared nodes matched the predicate and will re-run on next access.
	Cleared int
	// Dirtied nodes depend transitively on a cleared node.
	Dirtied int
}

// Total is Cleared + Dirtied.
func (r InvalidationResult) Total() int {
	return r.Cleared + r.Dirtied
}

// InvalidateFrom clears every started node matching pred and marks every
// transitive dependent dirty. A node that is running when it is invalidated
// is detached from its run: waiters already subscribed get the in-flight
// result, and any later request starts a fresh run.
func (g *Graph) InvalidateFrom(pred func(Node) bool) InvalidationResult {
	g.mu.Lock()
	var matched []*entry
	matchedSet := make(map[*entry]bool)
	for n, e := range g.entries {
		if pred(n) {
			matched = append(matched, e)
			matchedSet[e] = true
		}
	}

	var dependents []*entry
	seen := make(map[*entry]bool)
	queue := slices.Clone(matched)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for d := range g.rdeps[cur] {
			if seen[d] || matchedSet[d] {
				continue
			}
			seen[d] = true
			dependents = append(dependents, d)
			queue = append(queue, d)
		}
	}
	for _, e := range matched {
		g.clearEdgesLocked(e)
	}
	g.mu.Unlock()

	var res InvalidationResult
	for _, e := range matched {
		e.mu.Lock()
		switch e.state {
		case Running:
			e.detachLocked(true)
			res.Cleared++
		case Completed:
			e.cleared = true
			res.Cleared++
		}
		e.mu.Unlock()
	}
	for _, e := range dependents {
		e.mu.Lock()
		switch e.state {
		case Running:
			e.detachLocked(false)
			res.Dirtied++
		case Completed:
			if !e.dirty && !e.cleared {
				res.Dirtied++
			}
			e.dirty = true
		}
		e.mu.Unlock()
	}

	if res.Total() > 0 {
		g.logger.Debug("invalidated nodes", "cleared", res.Cleared, "dirtied", res.Dirtied)
	}
	return res
}

// detachLocked abandons e's in-flight run. complete sees e.current no
// longer matches and delivers the stale result to that run's waiters only.
// A node with an earlier value keeps it, marked cleared or dirty, so early
// cutoff can still revalidate a dirtied dependent. Caller holds e.mu.
func (e *entry) detachLocked(cleared bool) {
	e.current = nil
	if !e.hasValue {
		e.state = NotStarted
		return
	}
	e.state = Completed
	if cleared {
		e.cleared = true
	} else {
		e.dirty = true
	}
}

// Clear drops every node and edge. Computations still running finish into
// the dropped entries and are not memoized.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entries = make(map[Node]*entry)
	g.deps = make(map[*entry]map[*entry]struct{})
	g.rdeps = make(map[*entry]map[*entry]struct{})
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Stats is a point-in-time summary of the graph.
type Stats struct {
	Nodes     int
	Edges     int
	Running   int
	Completed int
	Dirty     int

	// Runs counts node bodies started, Hits memoized answers, and Cutoffs
	// dirty nodes reused after re-validation.
	Runs    uint64
	Hits    uint64
	Cutoffs uint64
}

// Hits returns the number of memoized answers served so far. Unlike
// Metrics it takes no locks.
func (g *Graph) Hits() uint64 {
	return g.hits.Load()
}

// Metrics returns current graph statistics.
func (g *Graph) Metrics() Stats {
	entries, edges := g.snapshot()
	s := Stats{
		Nodes:   len(entries),
		Edges:   edges,
		Runs:    g.runs.Load(),
		Hits:    g.hits.Load(),
		Cutoffs: g.cutoffs.Load(),
	}
	for _, e := range entries {
		e.mu.Lock()
		switch e.state {
		case Running:
			s.Running++
		case Completed:
			s.Completed++
			if e.dirty || e.cleared {
				s.Dirty++
			}
		}
		e.mu.Unlock()
	}
	return s
}

// NodeInfo describes one node as seen by Visit and Peek.
type NodeInfo struct {
	State      State
	Dirty      bool
	Value      any
	Err        error
	Generation uint64
}

// Peek returns n's state without computing it.
func (g *Graph) Peek(n Node) (NodeInfo, bool) {
	g.mu.Lock()
	e, ok := g.entries[n]
	g.mu.Unlock()
	if !ok {
		return NodeInfo{}, false
	}
	return e.info(), true
}

// Visit calls fn for every node, in order of the nodes' String forms.
func (g *Graph) Visit(fn func(Node, NodeInfo)) {
	entries, _ := g.snapshot()
	slices.SortFunc(entries, func(a, b *entry) int {
		return cmp.Compare(a.node.String(), b.node.String())
	})
	for _, e := range entries {
		fn(e.node, e.info())
	}
}

// Dependencies returns the nodes n requested during its last run, sorted by
// their String forms.
func (g *Graph) Dependencies(n Node) []Node {
	return g.neighbors(n, false)
}

// Dependents returns the nodes that requested n.
func (g *Graph) Dependents(n Node) []Node {
	return g.neighbors(n, true)
}

func (g *Graph) neighbors(n Node, reverse bool) []Node {
	g.mu.Lock()
	edges := g.deps
	if reverse {
		edges = g.rdeps
	}
	var out []Node
	if e, ok := g.entries[n]; ok {
		for d := range edges[e] {
			out = append(out, d.node)
		}
	}
	g.mu.Unlock()
	slices.SortFunc(out, func(a, b Node) int { return cmp.Compare(a.String(), b.String()) })
	return out
}

func (g *Graph) snapshot() ([]*entry, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entries := make([]*entry, 0, len(g.entries))
	for _, e := range g.entries {
		entries = append(entries, e)
	}
	edges := 0
	for _, tos := range g.deps {
		edges += len(tos)
	}
	return entries, edges
}

func (e *entry) info() NodeInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	return NodeInfo{
		State:      e.state,
		Dirty:      e.dirty || e.cleared,
		Value:      e.value,
		Err:        e.err,
		Generation: e.generation,
	}
}
