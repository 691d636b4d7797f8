package engine

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/rules"
)

type root struct {
	subject any
	product intern.TypeID
}

// ExecutionRequest is a batch of roots: products requested for subjects.
type ExecutionRequest struct {
	roots []root

	// IncludeTrace attaches the failing node path to every throw of the
	// resulting ExecutionError. See Trace.
	IncludeTrace bool
}

// NewExecutionRequest creates an empty request.
func NewExecutionRequest() *ExecutionRequest {
	return &ExecutionRequest{}
}

// Add requests product for subject.
func (r *ExecutionRequest) Add(subject any, product intern.TypeID) *ExecutionRequest {
	r.roots = append(r.roots, root{subject: subject, product: product})
	return r
}

// Product requests every product for every subject, subject-major.
func (r *ExecutionRequest) Product(products []intern.TypeID, subjects ...any) *ExecutionRequest {
	for _, s := range subjects {
		for _, p := range products {
			r.Add(s, p)
		}
	}
	return r
}

// Len returns the number of roots.
func (r *ExecutionRequest) Len() int {
	return len(r.roots)
}

// Result is the outcome of one root: Value on Return, Err on Throw.
type Result struct {
	Subject any
	Product intern.TypeID
	Value   any
	Err     error
}

// IsThrow reports whether the root failed.
func (r Result) IsThrow() bool {
	return r.Err != nil
}

// Execute runs every root concurrently and returns one Result per root in
// submission order. A Throw in one root never stops the others.
//
// The error is nil when every root returned, *ExecutionError listing the
// distinct throws otherwise, or the context error when ctx was cancelled.
func (s *Scheduler) Execute(ctx context.Context, req *ExecutionRequest) ([]Result, error) {
	runID := s.runIDs.Generate()
	ctx, wu := s.workunits.Start(ctx, "execute", map[string]string{
		"run_id": runID,
		"roots":  strconv.Itoa(len(req.roots)),
	})
	// concurrent batches may attribute each other's hits; the total is exact
	hitsBefore := s.graph.Hits()

	results := make([]Result, len(req.roots))
	nodes := make([]graph.Node, len(req.roots))
	var g errgroup.Group
	for i, r := range req.roots {
		g.Go(func() error {
			var v any
			var err error
			nodes[i], v, err = s.executeRoot(ctx, r)
			results[i] = Result{Subject: r.subject, Product: r.product, Value: v, Err: err}
			s.metrics.RootCompleted(err != nil)
			return nil
		})
	}
	_ = g.Wait()
	s.metrics.RecordHits(s.graph.Hits() - hitsBefore)

	if err := ctx.Err(); err != nil {
		wu.End(err)
		s.logger.Debug("execution cancelled", "run_id", runID, "error", err)
		return results, err
	}

	execErr := s.collectThrows(req, results, nodes)
	if execErr != nil {
		wu.End(execErr)
		s.logger.Debug("execution failed", "run_id", runID, "throws", len(execErr.Throws))
		return results, execErr
	}
	wu.End(nil)
	s.logger.Debug("execution complete", "run_id", runID, "roots", len(results))
	return results, nil
}

func (s *Scheduler) executeRoot(ctx context.Context, r root) (graph.Node, any, error) {
	q := rules.Query{Param: intern.TypeOfValue(r.subject), Product: r.product}
	if _, ok := s.rules.Lookup(q.Param, q.Product); !ok {
		return nil, nil, newNoQueryError(q)
	}
	key, err := s.interner.Intern(r.subject)
	if err != nil {
		return nil, nil, err
	}
	n := Select{Query: q, Subject: key}
	v, err := s.graph.Get(ctx, nil, n)
	return n, v, err
}

// collectThrows deduplicates root throws by type and message, in root order.
func (s *Scheduler) collectThrows(req *ExecutionRequest, results []Result, nodes []graph.Node) *ExecutionError {
	var throws []error
	seen := make(map[string]bool)
	for i, r := range results {
		if r.Err == nil {
			continue
		}
		key := throwKey(r.Err)
		if seen[key] {
			continue
		}
		seen[key] = true
		err := r.Err
		if req.IncludeTrace && nodes[i] != nil {
			err = &tracedError{err: r.Err, trace: s.trace(nodes[i])}
		}
		throws = append(throws, err)
	}
	if len(throws) == 0 {
		return nil
	}
	return &ExecutionError{Throws: throws}
}

// trace follows failed dependencies from n down to the node that failed
// first.
func (s *Scheduler) trace(n graph.Node) []string {
	path := []string{n.String()}
	seen := map[graph.Node]bool{n: true}
	for cur := n; ; {
		var next graph.Node
		for _, d := range s.graph.Dependencies(cur) {
			info, ok := s.graph.Peek(d)
			if ok && info.Err != nil && !seen[d] {
				next = d
				break
			}
		}
		if next == nil {
			return path
		}
		seen[next] = true
		path = append(path, next.String())
		cur = next
	}
}
