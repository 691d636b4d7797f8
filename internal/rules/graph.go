package rules

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/roach88/strata/internal/canonical"
	"github.com/roach88/strata/internal/intern"
)

// EntryKind distinguishes how an Entry is satisfied.
type EntryKind int

const (
	// EntryParam is satisfied by the request subject itself.
	EntryParam EntryKind = iota + 1
	// EntryRule runs a TaskRule.
	EntryRule
	// EntrySingleton returns a SingletonRule's value.
	EntrySingleton
)

// Query is a (param type, product type) pair the graph can answer.
type Query struct {
	Param   intern.TypeID
	Product intern.TypeID
}

// String renders the query as Query(product for param).
func (q Query) String() string {
	return fmt.Sprintf("Query(%s for %s)", q.Product, q.Param)
}

// Entry is one resolved vertex of the rule graph: the provider chosen for a
// (subject type, product type) pair, plus the entries providing its
// selectors and gets.
//
// Entries are immutable once Build returns and are compared by pointer.
type Entry struct {
	ID      int
	Kind    EntryKind
	Subject intern.TypeID
	Product intern.TypeID

	Rule      *TaskRule      // set for EntryRule
	Singleton *SingletonRule // set for EntrySingleton

	Selectors []*Entry
	gets      map[GetSpec]*Entry
}

// String names the entry in diagnostics and graph output.
func (e *Entry) String() string {
	switch e.Kind {
	case EntryParam:
		return fmt.Sprintf("Param(%s)", e.Subject)
	case EntrySingleton:
		return fmt.Sprintf("Singleton(%s)", e.Product)
	}
	return fmt.Sprintf("%s[%s]", e.Rule.Name, e.Subject)
}

// DependencyFor returns the entry answering a declared Get.
func (e *Entry) DependencyFor(spec GetSpec) (*Entry, bool) {
	dep, ok := e.gets[spec]
	return dep, ok
}

// CycleTolerant reports whether the entry's rule is cycle-tolerant.
func (e *Entry) CycleTolerant() bool {
	return e.Rule != nil && e.Rule.CycleTolerant
}

// Deps returns selector and get dependencies in a stable order: selectors
// first, then gets sorted by type name.
func (e *Entry) Deps() []*Entry {
	out := slices.Clone(e.Selectors)
	for _, spec := range e.getSpecs() {
		out = append(out, e.gets[spec])
	}
	return out
}

func (e *Entry) getSpecs() []GetSpec {
	specs := make([]GetSpec, 0, len(e.gets))
	for spec := range e.gets {
		specs = append(specs, spec)
	}
	slices.SortFunc(specs, func(a, b GetSpec) int {
		if c := compareTypes(a.Output, b.Output); c != 0 {
			return c
		}
		return compareTypes(a.Input, b.Input)
	})
	return specs
}

// RuleGraph is the validated, immutable result of Builder.Build.
type RuleGraph struct {
	queries     map[Query]*Entry
	entries     []*Entry
	rules       []*TaskRule
	singletons  []*SingletonRule
	roots       []intern.TypeID
	fingerprint [32]byte
}

// Lookup returns the entry answering (param, product).
func (g *RuleGraph) Lookup(param, product intern.TypeID) (*Entry, bool) {
	e, ok := g.queries[Query{Param: param, Product: product}]
	return e, ok
}

// Queries returns every answerable query, sorted by type name.
func (g *RuleGraph) Queries() []Query {
	out := make([]Query, 0, len(g.queries))
	for q := range g.queries {
		out = append(out, q)
	}
	slices.SortFunc(out, compareQueries)
	return out
}

// Entries returns every entry reachable from a query, in ID order.
func (g *RuleGraph) Entries() []*Entry {
	return slices.Clone(g.entries)
}

// Rules returns the registered task rules sorted by name.
func (g *RuleGraph) Rules() []*TaskRule {
	return slices.Clone(g.rules)
}

// Fingerprint identifies the rule set: two graphs built from the same rule
// declarations, roots and queries have the same fingerprint.
func (g *RuleGraph) Fingerprint() [32]byte {
	return g.fingerprint
}

// Subgraph returns the part of the graph reachable from one query.
func (g *RuleGraph) Subgraph(param, product intern.TypeID) (*RuleGraph, bool) {
	q := Query{Param: param, Product: product}
	root, ok := g.queries[q]
	if !ok {
		return nil, false
	}
	reach := reachable([]*Entry{root})
	sub := &RuleGraph{
		queries:     map[Query]*Entry{q: root},
		singletons:  g.singletons,
		roots:       []intern.TypeID{param},
		fingerprint: g.fingerprint,
	}
	seenRule := make(map[*TaskRule]bool)
	for _, e := range g.entries {
		if !reach[e] {
			continue
		}
		sub.entries = append(sub.entries, e)
		if e.Rule != nil && !seenRule[e.Rule] {
			seenRule[e.Rule] = true
			sub.rules = append(sub.rules, e.Rule)
		}
	}
	slices.SortFunc(sub.rules, func(a, b *TaskRule) int { return compareStrings(a.Name, b.Name) })
	return sub, true
}

func reachable(from []*Entry) map[*Entry]bool {
	seen := make(map[*Entry]bool)
	stack := slices.Clone(from)
	for len(stack) > 0 {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[e] {
			continue
		}
		seen[e] = true
		stack = append(stack, e.Deps()...)
	}
	return seen
}

func computeFingerprint(rules []*TaskRule, singletons []*SingletonRule, roots []intern.TypeID, queries []Query) ([32]byte, error) {
	rs := make(canonical.Array, len(rules))
	for i, r := range rules {
		sels := make([]string, len(r.Selectors))
		for j, s := range r.Selectors {
			sels[j] = s.String()
		}
		gets := make([]string, len(r.Gets))
		for j, g := range r.Gets {
			gets[j] = g.String()
		}
		rs[i] = canonical.Object{
			"name":           canonical.String(r.Name),
			"output":         canonical.String(r.Output.String()),
			"selectors":      canonical.Strings(sels),
			"gets":           canonical.Strings(gets),
			"cycle_tolerant": canonical.Bool(r.CycleTolerant),
		}
	}
	ss := make([]string, len(singletons))
	for i, s := range singletons {
		ss[i] = s.Output.String()
	}
	rootNames := make([]string, len(roots))
	for i, r := range roots {
		rootNames[i] = r.String()
	}
	slices.Sort(rootNames)
	qs := make([]string, len(queries))
	for i, q := range queries {
		qs[i] = q.String()
	}
	return canonical.Hash(canonical.DomainRuleGraph, canonical.Object{
		"rules":      rs,
		"singletons": canonical.Strings(ss),
		"roots":      canonical.Strings(rootNames),
		"queries":    canonical.Strings(qs),
	})
}

func compareStrings(a, b string) int {
	return cmp.Compare(a, b)
}

func compareTypes(a, b intern.TypeID) int {
	return cmp.Compare(a.String(), b.String())
}

func compareQueries(a, b Query) int {
	if c := compareTypes(a.Param, b.Param); c != 0 {
		return c
	}
	return compareTypes(a.Product, b.Product)
}
