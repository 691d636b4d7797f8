package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/metrics"
	"github.com/roach88/strata/internal/process"
	"github.com/roach88/strata/internal/rules"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/workunit"
)

// Scheduler executes requests against a rule graph.
//
// Thread-safety: all methods are safe for concurrent use. Concurrent Execute
// calls share memoized results.
//
// INVARIANTS:
//   - The rule graph never changes after New
//   - Every rule body runs on its own goroutine and holds a worker slot
//     except while suspended in Get or MultiGet
type Scheduler struct {
	rules     *rules.RuleGraph
	store     *store.Store
	interner  *intern.Interner
	graph     *graph.Graph
	posix     *fs.PosixFS
	executor  process.Executor
	workunits *workunit.Store
	metrics   *metrics.Collectors
	runIDs    workunit.IDGenerator
	logger    *slog.Logger
	slots     *semaphore.Weighted

	parallelism int
	buildRoot   string
	ignore      []string
	earlyCutoff bool

	mu    sync.Mutex
	tasks map[uint64]*taskState
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithParallelism bounds the number of rule bodies running at once.
//
// Default: runtime.GOMAXPROCS(0). Values below 1 are ignored.
func WithParallelism(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.parallelism = n
		}
	}
}

// WithBuildRoot sets the directory filesystem intrinsics read from.
// Default: the working directory.
func WithBuildRoot(dir string) Option {
	return func(s *Scheduler) {
		s.buildRoot = dir
	}
}

// WithIgnore hides paths matching patterns from filesystem intrinsics.
func WithIgnore(patterns ...string) Option {
	return func(s *Scheduler) {
		s.ignore = append(s.ignore, patterns...)
	}
}

// WithProcessExecutor sets the executor behind the Process intrinsic.
// Default: a local executor behind the store's action cache.
func WithProcessExecutor(e process.Executor) Option {
	return func(s *Scheduler) {
		s.executor = e
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWorkunits sets the store node computations report to.
func WithWorkunits(w *workunit.Store) Option {
	return func(s *Scheduler) {
		s.workunits = w
	}
}

// WithMetrics sets the Prometheus collectors. Nil disables metrics.
func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// WithRunIDGenerator sets the generator for Execute run ids.
// Default: UUIDv7.
func WithRunIDGenerator(g workunit.IDGenerator) Option {
	return func(s *Scheduler) {
		s.runIDs = g
	}
}

// WithEarlyCutoff lets dirty nodes whose dependencies are unchanged skip
// re-running.
func WithEarlyCutoff() Option {
	return func(s *Scheduler) {
		s.earlyCutoff = true
	}
}

// New creates a Scheduler over a validated rule graph and a store.
func New(rg *rules.RuleGraph, st *store.Store, opts ...Option) (*Scheduler, error) {
	if rg == nil {
		return nil, errors.New("engine: nil rule graph")
	}
	if st == nil {
		return nil, errors.New("engine: nil store")
	}

	s := &Scheduler{
		rules:       rg,
		store:       st,
		interner:    intern.New(),
		runIDs:      workunit.UUIDv7Generator{},
		logger:      slog.Default(),
		parallelism: runtime.GOMAXPROCS(0),
		buildRoot:   ".",
		tasks:       make(map[uint64]*taskState),
	}
	for _, opt := range opts {
		opt(s)
	}

	pfs, err := fs.NewPosixFS(s.buildRoot, s.ignore...)
	if err != nil {
		return nil, fmt.Errorf("engine: build root: %w", err)
	}
	s.posix = pfs
	if s.workunits == nil {
		s.workunits = workunit.NewStore(workunit.WithLogger(s.logger))
	}
	if s.executor == nil {
		local := process.NewLocalExecutor(st, process.WithExecutorLogger(s.logger))
		s.executor = process.NewCachingExecutor(local, st, s.logger)
	}
	s.slots = semaphore.NewWeighted(int64(s.parallelism))

	gopts := []graph.Option{graph.WithLogger(s.logger)}
	if s.earlyCutoff {
		gopts = append(gopts, graph.WithEarlyCutoff())
	}
	s.graph = graph.New(graph.RunnerFunc(s.run), gopts...)

	s.logger.Debug("scheduler created",
		"build_root", pfs.Root,
		"parallelism", s.parallelism,
		"queries", len(rg.Queries()),
	)
	return s, nil
}

// RuleGraph returns the graph the scheduler executes.
func (s *Scheduler) RuleGraph() *rules.RuleGraph {
	return s.rules
}

// Store returns the content-addressed store.
func (s *Scheduler) Store() *store.Store {
	return s.store
}

// Graph returns the memoization graph.
func (s *Scheduler) Graph() *graph.Graph {
	return s.graph
}

// Interner returns the subject interner.
func (s *Scheduler) Interner() *intern.Interner {
	return s.interner
}

// Workunits returns the workunit store.
func (s *Scheduler) Workunits() *workunit.Store {
	return s.workunits
}

// BuildRoot returns the absolute build root.
func (s *Scheduler) BuildRoot() string {
	return s.posix.Root
}

// run computes one node. The graph calls it on a fresh goroutine.
func (s *Scheduler) run(ctx context.Context, c *graph.Context) (value any, err error) {
	n := c.Node()
	kind := nodeKind(n)
	ctx, wu := s.workunits.Start(ctx, n.String(), map[string]string{"kind": kind})
	start := time.Now()
	defer func() {
		wu.End(err)
		s.metrics.NodeRun(kind, time.Since(start).Seconds(), err != nil)
	}()

	switch n := n.(type) {
	case Select:
		return s.runSelect(ctx, c, n)
	case Task:
		return s.runTask(ctx, c, n)
	case Scandir:
		return s.posix.Scandir(ctx, n.Dir)
	case DigestFile:
		data, err := s.posix.ReadFile(ctx, n.Path)
		if err != nil {
			return nil, err
		}
		return s.store.StoreFileBytes(ctx, data)
	case ReadLink:
		return s.posix.ReadLink(ctx, n.Path)
	}
	return nil, fmt.Errorf("engine: unknown node type %T", n)
}

func (s *Scheduler) runSelect(ctx context.Context, c *graph.Context, sel Select) (any, error) {
	e, ok := s.rules.Lookup(sel.Query.Param, sel.Query.Product)
	if !ok {
		return nil, newNoQueryError(sel.Query)
	}
	return s.resolve(ctx, c, e, sel.Subject)
}

// resolve produces the value of entry e for subject. Params and singletons
// are answered inline; rules become Task nodes.
func (s *Scheduler) resolve(ctx context.Context, c *graph.Context, e *rules.Entry, subject intern.Key) (any, error) {
	switch e.Kind {
	case rules.EntryParam:
		v, ok := s.interner.Value(subject)
		if !ok {
			return nil, fmt.Errorf("engine: unknown subject %s", subject)
		}
		return v, nil
	case rules.EntrySingleton:
		return e.Singleton.Value, nil
	}
	v, err := c.Get(ctx, Task{Entry: e, Subject: subject})
	if errors.Is(err, graph.ErrCyclicValue) {
		return nil, rules.ErrCyclic
	}
	return v, err
}

// runTask resolves the selectors of t, then runs its body holding a slot.
func (s *Scheduler) runTask(ctx context.Context, c *graph.Context, t Task) (value any, err error) {
	args := make([]any, len(t.Entry.Selectors))
	for i, sel := range t.Entry.Selectors {
		if args[i], err = s.resolve(ctx, c, sel, t.Subject); err != nil {
			return nil, err
		}
	}

	st := s.track(c.RunToken(), t)
	if err := s.acquire(ctx, st); err != nil {
		s.untrack(c.RunToken())
		return nil, err
	}
	s.metrics.TaskStarted()
	defer func() {
		if p := recover(); p != nil {
			value, err = nil, newPanicError(t.String(), p, debug.Stack())
			s.logger.Error("rule panicked", "node", t.String(), "panic", p)
		}
		s.release(st)
		s.untrack(c.RunToken())
		s.metrics.TaskFinished()
	}()

	tc := &taskContext{Context: ctx, sched: s, node: c, task: t, state: st}
	value, err = t.Entry.Rule.Body(tc, args)
	if err != nil {
		return nil, err
	}
	if !t.Entry.Product.Accepts(value) {
		return nil, newTypeMismatchError(t.String(), t.Entry.Product, value)
	}
	return value, nil
}

// Phase is the scheduling state of a running rule body.
type Phase string

const (
	// PhaseRunnable bodies hold, or wait for, a worker slot.
	PhaseRunnable Phase = "runnable"
	// PhaseSuspended bodies wait on the nodes they requested.
	PhaseSuspended Phase = "suspended"
)

// taskState is the explicit state machine of one body:
// Runnable -> Suspended(awaiting) -> Runnable -> ... -> done.
type taskState struct {
	node string

	mu       sync.Mutex
	phase    Phase
	awaiting []string
	held     bool
}

// TaskInfo is a snapshot of one running body.
type TaskInfo struct {
	Node     string
	Phase    Phase
	Awaiting []string
}

func (s *Scheduler) track(token uint64, t Task) *taskState {
	st := &taskState{node: t.String(), phase: PhaseRunnable}
	s.mu.Lock()
	s.tasks[token] = st
	s.mu.Unlock()
	return st
}

func (s *Scheduler) untrack(token uint64) {
	s.mu.Lock()
	delete(s.tasks, token)
	s.mu.Unlock()
}

func (s *Scheduler) acquire(ctx context.Context, st *taskState) error {
	if err := s.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	st.mu.Lock()
	st.held = true
	st.phase = PhaseRunnable
	st.awaiting = nil
	st.mu.Unlock()
	return nil
}

func (s *Scheduler) release(st *taskState) {
	st.mu.Lock()
	held := st.held
	st.held = false
	st.mu.Unlock()
	if held {
		s.slots.Release(1)
	}
}

// suspend records what the body waits for and gives up its slot.
func (s *Scheduler) suspend(st *taskState, awaiting []graph.Node) {
	names := make([]string, len(awaiting))
	for i, n := range awaiting {
		names[i] = n.String()
	}
	st.mu.Lock()
	st.phase = PhaseSuspended
	st.awaiting = names
	st.mu.Unlock()
	s.release(st)
}

// InFlight returns the bodies currently running, sorted by node.
func (s *Scheduler) InFlight() []TaskInfo {
	s.mu.Lock()
	states := make([]*taskState, 0, len(s.tasks))
	for _, st := range s.tasks {
		states = append(states, st)
	}
	s.mu.Unlock()

	out := make([]TaskInfo, len(states))
	for i, st := range states {
		st.mu.Lock()
		out[i] = TaskInfo{Node: st.node, Phase: st.phase, Awaiting: slices.Clone(st.awaiting)}
		st.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b TaskInfo) int { return strings.Compare(a.Node, b.Node) })
	return out
}
