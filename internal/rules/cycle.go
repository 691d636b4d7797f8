package rules

import "slices"

// findCycles returns one closed path per strongly connected component that
// forms a cycle: an SCC with more than one entry, or a single entry that
// depends on itself. Each path starts and ends with the same entry.
//
// Entries are visited in ID order so the output is deterministic.
func findCycles(entries []*Entry) [][]*Entry {
	var cycles [][]*Entry
	for _, scc := range tarjanSCC(entries) {
		if len(scc) > 1 || hasSelfLoop(scc[0]) {
			cycles = append(cycles, reconstructCyclePath(scc))
		}
	}
	return cycles
}

func successors(e *Entry) []*Entry {
	var out []*Entry
	for _, dep := range e.Deps() {
		if dep != nil {
			out = append(out, dep)
		}
	}
	return out
}

func hasSelfLoop(e *Entry) bool {
	for _, dep := range successors(e) {
		if dep == e {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Components are returned with their lowest-ID entry first.
func tarjanSCC(entries []*Entry) [][]*Entry {
	var (
		index   = 0
		stack   []*Entry
		indices = make(map[*Entry]int)
		lowlink = make(map[*Entry]int)
		onStack = make(map[*Entry]bool)
		sccs    [][]*Entry
	)

	var strongConnect func(*Entry)
	strongConnect = func(v *Entry) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range successors(v) {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []*Entry
			first := 0
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				if len(scc) > 0 && w.ID < scc[first].ID {
					first = len(scc)
				}
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			scc[0], scc[first] = scc[first], scc[0]
			sccs = append(sccs, scc)
		}
	}

	for _, e := range entries {
		if _, visited := indices[e]; !visited {
			strongConnect(e)
		}
	}
	return sccs
}

// reconstructCyclePath returns the shortest closed walk through the SCC's
// first entry, staying inside the SCC.
func reconstructCyclePath(scc []*Entry) []*Entry {
	members := make(map[*Entry]bool, len(scc))
	for _, e := range scc {
		members[e] = true
	}

	start := scc[0]
	parent := make(map[*Entry]*Entry)
	queue := []*Entry{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, w := range successors(current) {
			if !members[w] {
				continue
			}
			if w == start {
				path := []*Entry{start}
				for e := current; e != start; e = parent[e] {
					path = append(path, e)
				}
				path = append(path, start)
				slices.Reverse(path)
				return path
			}
			if _, seen := parent[w]; !seen {
				parent[w] = current
				queue = append(queue, w)
			}
		}
	}
	return []*Entry{start, start}
}
