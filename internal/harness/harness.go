package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/rules"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/testutil"
	"github.com/roach88/strata/internal/workunit"
)

// CountRule is the name of the counted rule behind the count op.
const CountRule = "count_files"

// countGlobs is the subject of the count rule: space separated patterns.
type countGlobs struct {
	Globs string
}

type fileCount int

// stepResult is what a named step produced.
type stepResult struct {
	digest fs.Digest
	files  []string
	count  int
	err    error
	code   string
}

// Harness executes one scenario against a fresh scheduler.
type Harness struct {
	sched  *engine.Scheduler
	store  *store.Store
	root   string
	out    string
	runs   *testutil.Counter
	named  map[string]*stepResult
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh build root, output directory and in-memory
// store, all released before Run returns. Run ids and workunit clocks are
// deterministic. The error is reserved for setup failures; step failures and
// failed assertions are reported through the Result.
func Run(scenario *Scenario) (*Result, error) {
	root, err := os.MkdirTemp("", "strata-harness-root-")
	if err != nil {
		return nil, fmt.Errorf("failed to create build root: %w", err)
	}
	defer os.RemoveAll(root)

	out, err := os.MkdirTemp("", "strata-harness-out-")
	if err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	defer os.RemoveAll(out)

	if err := writeFiles(root, scenario.Files); err != nil {
		return nil, fmt.Errorf("failed to seed build root: %w", err)
	}

	st, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:  st,
		root:   root,
		out:    out,
		runs:   &testutil.Counter{},
		named:  make(map[string]*stepResult),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	runID := scenario.RunID
	if runID == "" {
		runID = scenario.Name
	}
	clock := testutil.NewDeterministicClock()
	h.sched, err = h.newScheduler(
		engine.WithRunIDGenerator(testutil.NewFixedIDGenerator(runID)),
		engine.WithWorkunits(workunit.NewStore(
			workunit.WithClock(clock.Now),
			workunit.WithIDGenerator(workunit.NewSequenceGenerator("wu")),
		)),
	)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()
	aliases := newAliaser()
	expectThrow := make(map[string]bool)
	for _, a := range scenario.Assertions {
		if a.Type == AssertThrows {
			expectThrow[a.Ref] = true
		}
	}

	for i, step := range scenario.Steps {
		event, res := h.executeStep(ctx, i+1, step, aliases)
		result.Trace = append(result.Trace, event)
		if step.As != "" {
			h.named[step.As] = res
		}
		if res.err != nil && !expectThrow[step.As] {
			result.AddError(fmt.Sprintf("step %d (%s) failed: %v", i+1, step.Op, res.err))
		}
	}

	for _, name := range h.runs.Names() {
		result.Runs[name] = h.runs.Get(name)
	}

	for _, a := range scenario.Assertions {
		if err := h.evaluate(a, result); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// newScheduler builds the intrinsic rule set plus the counted rule.
func (h *Harness) newScheduler(opts ...engine.Option) (*engine.Scheduler, error) {
	count := rules.Func1(CountRule, func(ctx rules.Context, g countGlobs) (fileCount, error) {
		h.runs.Inc(CountRule)
		d, err := rules.Get[fs.Digest](ctx, fs.NewPathGlobs(strings.Fields(g.Globs)...))
		if err != nil {
			return 0, err
		}
		snap, err := rules.Get[fs.Snapshot](ctx, d)
		if err != nil {
			return 0, err
		}
		return fileCount(len(snap.Files)), nil
	}, rules.WithGets(
		rules.GetSpecFor[fs.Digest, fs.PathGlobs](),
		rules.GetSpecFor[fs.Snapshot, fs.Digest](),
	))

	rg, err := engine.RegisterIntrinsics(rules.NewBuilder().WithLogger(h.logger)).
		Register(count).
		Root(intern.TypeOf[countGlobs]()).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build rule graph: %w", err)
	}

	opts = append([]engine.Option{
		engine.WithBuildRoot(h.root),
		engine.WithLogger(h.logger),
	}, opts...)
	return engine.New(rg, h.store, opts...)
}

func (h *Harness) executeStep(ctx context.Context, n int, step Step, aliases *aliaser) (TraceEvent, *stepResult) {
	event := TraceEvent{Step: n, Op: step.Op, As: step.As}
	res := &stepResult{}

	switch step.Op {
	case OpWrite:
		res.err = writeFiles(h.root, step.Files)
		event.Paths = sortedKeys(step.Files)

	case OpRemove:
		for _, p := range step.Paths {
			if err := os.RemoveAll(filepath.Join(h.root, filepath.FromSlash(p))); err != nil {
				res.err = err
				break
			}
		}
		event.Paths = step.Paths

	case OpInvalidate:
		invalidated := h.sched.InvalidateFiles(step.Paths) > 0
		event.Paths = step.Paths
		event.Invalidated = &invalidated

	case OpInvalidateAll:
		invalidated := h.sched.InvalidateAll() > 0
		event.Invalidated = &invalidated

	case OpCount:
		var v any
		v, res.err = h.request(ctx, countGlobs{Globs: strings.Join(step.Globs, " ")}, intern.TypeOf[fileCount]())
		if res.err == nil {
			res.count = int(v.(fileCount))
			event.Count = &res.count
		}

	case OpMaterialize:
		src, err := h.lookup(step.Ref)
		if err != nil {
			res.err = err
			break
		}
		res.digest = src.digest
		event.Digest = aliases.alias(src.digest)
		event.Paths = []string{step.Dest}
		res.err = h.sched.MaterializeDirectories(ctx, []store.MaterializeRequest{
			{Dest: filepath.Join(h.out, filepath.FromSlash(step.Dest)), Digest: src.digest},
		})

	default:
		subject, err := h.snapshotSubject(step)
		if err != nil {
			res.err = err
			break
		}
		var v any
		v, res.err = h.request(ctx, subject, intern.TypeOf[fs.Snapshot]())
		if res.err == nil {
			snap := v.(fs.Snapshot)
			res.digest = snap.Digest
			res.files = snap.Files
			if res.files == nil {
				res.files = []string{}
			}
			event.Digest = aliases.alias(snap.Digest)
			event.Files = res.files
		}
	}

	if res.err != nil {
		res.code = errorCode(res.err)
		event.Error = res.code
		event.Digest = ""
		event.Files = nil
		event.Count = nil
	}
	return event, res
}

// snapshotSubject maps the digest-producing ops to intrinsic subjects.
func (h *Harness) snapshotSubject(step Step) (any, error) {
	switch step.Op {
	case OpCapture:
		g := fs.NewPathGlobs(step.Globs...)
		if step.Policy != "" {
			policy, err := fs.ParseGlobMatchPolicy(step.Policy)
			if err != nil {
				return nil, err
			}
			g.MatchPolicy = policy
		}
		return g, nil

	case OpMerge:
		digests := make([]fs.Digest, 0, len(step.Refs))
		for _, ref := range step.Refs {
			src, err := h.lookup(ref)
			if err != nil {
				return nil, err
			}
			digests = append(digests, src.digest)
		}
		return fs.MergeDigests{Digests: digests}, nil

	case OpSubset:
		src, err := h.lookup(step.Ref)
		if err != nil {
			return nil, err
		}
		return fs.DigestSubset{Digest: src.digest, Globs: fs.NewPathGlobs(step.Globs...)}, nil

	case OpAddPrefix:
		src, err := h.lookup(step.Ref)
		if err != nil {
			return nil, err
		}
		return fs.AddPrefix{Digest: src.digest, Prefix: step.Prefix}, nil

	case OpRemovePrefix:
		src, err := h.lookup(step.Ref)
		if err != nil {
			return nil, err
		}
		return fs.RemovePrefix{Digest: src.digest, Prefix: step.Prefix}, nil
	}
	return nil, fmt.Errorf("unknown op %q", step.Op)
}

// lookup returns a named result that produced a digest.
func (h *Harness) lookup(name string) (*stepResult, error) {
	res, ok := h.named[name]
	if !ok {
		return nil, fmt.Errorf("no step named %q", name)
	}
	if res.err != nil {
		return nil, fmt.Errorf("step %q failed: %w", name, res.err)
	}
	return res, nil
}

func (h *Harness) request(ctx context.Context, subject any, product intern.TypeID) (any, error) {
	results, err := h.sched.Execute(ctx, engine.NewExecutionRequest().Add(subject, product))
	if len(results) == 1 && results[0].Err != nil {
		return nil, results[0].Err
	}
	if err != nil {
		return nil, err
	}
	return results[0].Value, nil
}

// errorCode classifies a step failure for traces and throws assertions.
func errorCode(err error) string {
	var gme *fs.GlobMatchError
	var conflict *store.MergeConflictError
	var overlap *store.OverlapError
	var rt *engine.RuntimeError
	switch {
	case errors.As(err, &gme):
		return "glob_match"
	case errors.As(err, &conflict):
		return "merge_conflict"
	case errors.As(err, &overlap):
		return "overlap"
	case store.IsMissingDigest(err):
		return "missing_digest"
	case errors.Is(err, store.ErrPrefixMismatch):
		return "prefix_mismatch"
	case errors.As(err, &rt):
		return string(rt.Code)
	}
	return "error"
}

func writeFiles(root string, files map[string]string) error {
	for p, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// aliaser names digests d1, d2, ... in order of first appearance.
type aliaser struct {
	names map[fs.Digest]string
}

func newAliaser() *aliaser {
	return &aliaser{names: make(map[fs.Digest]string)}
}

func (a *aliaser) alias(d fs.Digest) string {
	if name, ok := a.names[d]; ok {
		return name
	}
	name := fmt.Sprintf("d%d", len(a.names)+1)
	a.names[d] = name
	return name
}
