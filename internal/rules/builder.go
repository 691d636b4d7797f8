package rules

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/strata/internal/intern"
)

// Builder collects rule declarations and validates them into a RuleGraph.
// A Builder is not safe for concurrent use; build once at startup.
type Builder struct {
	tasks            []*TaskRule
	singletons       []*SingletonRule
	roots            []intern.TypeID
	queries          []Query
	allowUnreachable bool
	logger           *slog.Logger
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{logger: slog.Default()}
}

// WithLogger sets the logger used for build diagnostics.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	if l != nil {
		b.logger = l
	}
	return b
}

// Register adds rules.
func (b *Builder) Register(rules ...Rule) *Builder {
	for _, r := range rules {
		switch r := r.(type) {
		case *TaskRule:
			b.tasks = append(b.tasks, r)
		case *SingletonRule:
			b.singletons = append(b.singletons, r)
		}
	}
	return b
}

// Root declares subject types callers may submit. Every product some rule
// can provide from a root type becomes an implicit query.
func (b *Builder) Root(types ...intern.TypeID) *Builder {
	for _, t := range types {
		if !slices.Contains(b.roots, t) {
			b.roots = append(b.roots, t)
		}
	}
	return b
}

// Query declares a (param, product) pair that must be answerable.
func (b *Builder) Query(param, product intern.TypeID) *Builder {
	q := Query{Param: param, Product: product}
	if !slices.Contains(b.queries, q) {
		b.queries = append(b.queries, q)
	}
	return b
}

// AllowUnreachable suppresses errors for rules no query uses.
func (b *Builder) AllowUnreachable() *Builder {
	b.allowUnreachable = true
	return b
}

// pair is a (subject type, product type) requirement.
type pair struct {
	subject intern.TypeID
	product intern.TypeID
}

func comparePairs(a, b pair) int {
	if c := compareTypes(a.subject, b.subject); c != 0 {
		return c
	}
	return compareTypes(a.product, b.product)
}

// resolver holds the state of one Build.
type resolver struct {
	b          *Builder
	byOutput   map[intern.TypeID][]*TaskRule
	singletons map[intern.TypeID][]*SingletonRule
	universe   []pair
	sat        map[pair]bool
	entries    map[pair]*Entry
	order      []*Entry
	ambiguous  map[pair]bool
	errs       []error
}

// Build validates the declarations. The algorithm:
//  1. Collect every pair reachable from roots and queries through rule
//     selectors and gets.
//  2. Compute which pairs are satisfiable as a greatest fixpoint, so rules
//     on cycles stay candidates and are judged by the cycle check instead.
//  3. Resolve each query to exactly one provider per pair, reporting
//     ambiguity and missing rules.
//  4. Run Tarjan's SCC algorithm over the resolved entries and reject cycles
//     through rules that are not cycle-tolerant.
//  5. Report rules no query uses.
func (b *Builder) Build() (*RuleGraph, error) {
	r := &resolver{
		b:          b,
		byOutput:   make(map[intern.TypeID][]*TaskRule),
		singletons: make(map[intern.TypeID][]*SingletonRule),
		sat:        make(map[pair]bool),
		entries:    make(map[pair]*Entry),
		ambiguous:  make(map[pair]bool),
	}

	tasks := slices.Clone(b.tasks)
	slices.SortFunc(tasks, func(x, y *TaskRule) int { return compareStrings(x.Name, y.Name) })
	r.checkDeclarations(tasks)
	for _, t := range tasks {
		r.byOutput[t.Output] = append(r.byOutput[t.Output], t)
	}
	singletons := slices.Clone(b.singletons)
	slices.SortFunc(singletons, func(x, y *SingletonRule) int { return compareTypes(x.Output, y.Output) })
	for _, s := range singletons {
		r.singletons[s.Output] = append(r.singletons[s.Output], s)
	}

	implicit := r.collectUniverse()
	r.computeSatisfiable()

	queries := make(map[Query]*Entry)
	for _, q := range b.queries {
		if e := r.resolve(pair{subject: q.Param, product: q.Product}, "query"); e != nil {
			queries[q] = e
		}
	}
	for _, p := range implicit {
		q := Query{Param: p.subject, Product: p.product}
		if _, done := queries[q]; done || !r.sat[p] {
			continue
		}
		if e := r.resolve(p, "query"); e != nil {
			queries[q] = e
		}
	}

	r.checkCycles()
	r.checkUnused()

	if len(r.errs) > 0 {
		return nil, &ValidationError{Errors: r.errs}
	}

	g := &RuleGraph{
		queries:    queries,
		entries:    r.order,
		rules:      tasks,
		singletons: singletons,
		roots:      slices.Clone(b.roots),
	}
	fp, err := computeFingerprint(tasks, singletons, g.roots, g.Queries())
	if err != nil {
		return nil, err
	}
	g.fingerprint = fp

	b.logger.Debug("rule graph built",
		"rules", len(tasks),
		"queries", len(queries),
		"entries", len(r.order),
	)
	return g, nil
}

func (r *resolver) checkDeclarations(tasks []*TaskRule) {
	names := make(map[string]bool)
	for _, t := range tasks {
		switch {
		case t.Name == "":
			r.errs = append(r.errs, &InvalidRuleError{Rule: t.String(), Reason: "missing name"})
		case names[t.Name]:
			r.errs = append(r.errs, &InvalidRuleError{Rule: t.Name, Reason: "duplicate name"})
		case t.Body == nil:
			r.errs = append(r.errs, &InvalidRuleError{Rule: t.Name, Reason: "missing body"})
		case t.Output == intern.NoType:
			r.errs = append(r.errs, &InvalidRuleError{Rule: t.Name, Reason: "missing output type"})
		case slices.Contains(t.Selectors, intern.NoType):
			r.errs = append(r.errs, &InvalidRuleError{Rule: t.Name, Reason: "selector without type"})
		}
		names[t.Name] = true
	}
	for _, s := range r.b.singletons {
		if s.Output == intern.NoType {
			r.errs = append(r.errs, &InvalidRuleError{Rule: s.String(), Reason: "nil value"})
		}
	}
}

// collectUniverse gathers every pair reachable from roots and queries and
// returns the implicit root queries.
func (r *resolver) collectUniverse() []pair {
	seen := make(map[pair]bool)
	var queue []pair
	add := func(p pair) {
		if !seen[p] {
			seen[p] = true
			queue = append(queue, p)
			r.universe = append(r.universe, p)
		}
	}

	var outputs []intern.TypeID
	for t := range r.byOutput {
		outputs = append(outputs, t)
	}
	for t := range r.singletons {
		if _, ok := r.byOutput[t]; !ok {
			outputs = append(outputs, t)
		}
	}

	var implicit []pair
	for _, root := range r.b.roots {
		for _, out := range outputs {
			if root != out {
				p := pair{subject: root, product: out}
				implicit = append(implicit, p)
				add(p)
			}
		}
	}
	slices.SortFunc(implicit, comparePairs)
	for _, q := range r.b.queries {
		add(pair{subject: q.Param, product: q.Product})
	}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p.subject == p.product {
			continue
		}
		for _, t := range r.byOutput[p.product] {
			for _, sel := range t.Selectors {
				add(pair{subject: p.subject, product: sel})
			}
			for _, get := range t.Gets {
				add(pair{subject: get.Input, product: get.Output})
			}
		}
	}
	slices.SortFunc(r.universe, comparePairs)
	return implicit
}

// computeSatisfiable starts from "everything satisfiable" and removes pairs
// until nothing changes.
func (r *resolver) computeSatisfiable() {
	for _, p := range r.universe {
		r.sat[p] = true
	}
	for changed := true; changed; {
		changed = false
		for _, p := range r.universe {
			if r.sat[p] && len(r.candidates(p)) == 0 && p.subject != p.product {
				r.sat[p] = false
				changed = true
			}
		}
	}
}

// candidates returns the singleton and task rules that can provide p under
// the current satisfiability assignment.
func (r *resolver) candidates(p pair) []Rule {
	var out []Rule
	for _, s := range r.singletons[p.product] {
		out = append(out, s)
	}
	for _, t := range r.byOutput[p.product] {
		if r.ruleSatisfiable(t, p.subject) {
			out = append(out, t)
		}
	}
	return out
}

func (r *resolver) ruleSatisfiable(t *TaskRule, subject intern.TypeID) bool {
	_, ok := r.firstUnsatisfied(t, subject)
	return !ok
}

// firstUnsatisfied returns the first requirement of t at subject that no
// provider can meet.
func (r *resolver) firstUnsatisfied(t *TaskRule, subject intern.TypeID) (pair, bool) {
	for _, sel := range t.Selectors {
		p := pair{subject: subject, product: sel}
		if sel != subject && !r.sat[p] {
			return p, true
		}
	}
	for _, get := range t.Gets {
		p := pair{subject: get.Input, product: get.Output}
		if get.Input != get.Output && !r.sat[p] {
			return p, true
		}
	}
	return pair{}, false
}

// resolve returns the entry for p, creating it and its dependencies.
// Entries are registered before their dependencies are resolved so cycles
// link back to the existing entry.
func (r *resolver) resolve(p pair, requester string) *Entry {
	if e, ok := r.entries[p]; ok {
		return e
	}
	if r.ambiguous[p] {
		return nil
	}

	if p.subject == p.product {
		return r.newEntry(p, &Entry{Kind: EntryParam})
	}

	cands := r.candidates(p)
	switch len(cands) {
	case 0:
		r.errs = append(r.errs, &MissingRuleError{Subject: p.subject, Product: p.product, Rule: requester})
		return nil
	case 1:
	default:
		names := make([]string, len(cands))
		for i, c := range cands {
			names[i] = c.String()
		}
		r.ambiguous[p] = true
		r.errs = append(r.errs, &AmbiguityError{Subject: p.subject, Product: p.product, Candidates: names})
		return nil
	}

	switch c := cands[0].(type) {
	case *SingletonRule:
		return r.newEntry(p, &Entry{Kind: EntrySingleton, Singleton: c})
	case *TaskRule:
		e := r.newEntry(p, &Entry{Kind: EntryRule, Rule: c, gets: make(map[GetSpec]*Entry)})
		for _, sel := range c.Selectors {
			dep := r.resolve(pair{subject: p.subject, product: sel}, c.Name)
			e.Selectors = append(e.Selectors, dep)
		}
		for _, get := range c.Gets {
			if dep := r.resolve(pair{subject: get.Input, product: get.Output}, c.Name); dep != nil {
				e.gets[get] = dep
			}
		}
		return e
	}
	return nil
}

func (r *resolver) newEntry(p pair, e *Entry) *Entry {
	e.ID = len(r.order)
	e.Subject = p.subject
	e.Product = p.product
	r.entries[p] = e
	r.order = append(r.order, e)
	return e
}

func (r *resolver) checkCycles() {
	for _, cycle := range findCycles(r.order) {
		tolerant := true
		for _, e := range cycle {
			if !e.CycleTolerant() {
				tolerant = false
				break
			}
		}
		if tolerant {
			r.b.logger.Debug("tolerated rule cycle", "path", entryNames(cycle))
			continue
		}
		r.errs = append(r.errs, &CycleError{Path: entryNames(cycle)})
	}
}

func (r *resolver) checkUnused() {
	used := make(map[*TaskRule]bool)
	for _, e := range r.order {
		if e.Rule != nil {
			used[e.Rule] = true
		}
	}

	var tasks []*TaskRule
	for _, ts := range r.byOutput {
		tasks = append(tasks, ts...)
	}
	slices.SortFunc(tasks, func(x, y *TaskRule) int { return compareStrings(x.Name, y.Name) })

	for _, t := range tasks {
		if used[t] || r.b.allowUnreachable || r.lostToAmbiguity(t) {
			continue
		}
		if missing, ok := r.missingRequirement(t); ok {
			r.errs = append(r.errs, &MissingRuleError{
				Subject: missing.subject,
				Product: missing.product,
				Rule:    t.Name,
			})
			continue
		}
		r.errs = append(r.errs, &UnreachableError{Rule: t.Name})
	}
}

func (r *resolver) lostToAmbiguity(t *TaskRule) bool {
	for p := range r.ambiguous {
		if p.product == t.Output && r.ruleSatisfiable(t, p.subject) {
			return true
		}
	}
	return false
}

// missingRequirement finds a pair where t was considered and could not be
// satisfied, and names the requirement that failed.
func (r *resolver) missingRequirement(t *TaskRule) (pair, bool) {
	for _, p := range r.universe {
		if p.product != t.Output || p.subject == p.product {
			continue
		}
		if missing, ok := r.firstUnsatisfied(t, p.subject); ok {
			return missing, true
		}
	}
	return pair{}, false
}

func entryNames(es []*Entry) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.String()
	}
	return out
}

// String renders a pair for debugging.
func (p pair) String() string {
	return fmt.Sprintf("(%s, %s)", p.subject, p.product)
}
