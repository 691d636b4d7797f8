package engine

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/rules"
)

// taskContext is the rules.Context a body runs with. Every Get is checked
// against the rule's declared gets and recorded as a graph edge.
type taskContext struct {
	context.Context

	sched *Scheduler
	node  *graph.Context
	task  Task
	state *taskState
}

var _ rules.Context = (*taskContext)(nil)

// pendingGet is one prepared request: either an inline value, an error, or a
// node to wait for.
type pendingGet struct {
	node  graph.Node
	value any
	err   error
}

func (tc *taskContext) prepare(req rules.GetRequest) pendingGet {
	spec := req.Spec()
	rule := tc.task.Entry.Rule
	if !rule.Declares(spec) {
		return pendingGet{err: newUndeclaredGetError(tc.task.String(), spec)}
	}
	dep, ok := tc.task.Entry.DependencyFor(spec)
	if !ok {
		return pendingGet{err: newUndeclaredGetError(tc.task.String(), spec)}
	}

	switch dep.Kind {
	case rules.EntryParam:
		return pendingGet{value: req.Subject}
	case rules.EntrySingleton:
		return pendingGet{value: dep.Singleton.Value}
	}
	key, err := tc.sched.interner.Intern(req.Subject)
	if err != nil {
		return pendingGet{err: err}
	}
	return pendingGet{node: Task{Entry: dep, Subject: key}}
}

// await suspends the body until every pending node completes. Values and
// errors are returned in request order.
func (tc *taskContext) await(pending []pendingGet) ([]any, []error) {
	vals := make([]any, len(pending))
	errs := make([]error, len(pending))
	var nodes []graph.Node
	for i, p := range pending {
		vals[i], errs[i] = p.value, p.err
		if p.node != nil {
			nodes = append(nodes, p.node)
		}
	}
	if len(nodes) == 0 {
		return vals, errs
	}

	tc.sched.suspend(tc.state, nodes)
	defer func() {
		// the body's context is detached, so re-acquiring cannot fail
		_ = tc.sched.acquire(tc.Context, tc.state)
	}()

	var g errgroup.Group
	for i, p := range pending {
		if p.node == nil {
			continue
		}
		g.Go(func() error {
			vals[i], errs[i] = tc.node.Get(tc.Context, p.node)
			return nil
		})
	}
	_ = g.Wait()
	return vals, errs
}

// Get implements rules.Context.
func (tc *taskContext) Get(product intern.TypeID, subject any) (any, error) {
	vals, errs := tc.await([]pendingGet{tc.prepare(rules.GetRequest{Product: product, Subject: subject})})
	if errs[0] != nil {
		return nil, cyclicAsError(errs[0])
	}
	return vals[0], nil
}

// GetOptional implements rules.Context.
func (tc *taskContext) GetOptional(product intern.TypeID, subject any) (any, bool, error) {
	vals, errs := tc.await([]pendingGet{tc.prepare(rules.GetRequest{Product: product, Subject: subject})})
	switch {
	case errors.Is(errs[0], graph.ErrCyclicValue):
		return nil, false, nil
	case errs[0] != nil:
		return nil, false, errs[0]
	}
	return vals[0], true, nil
}

// MultiGet implements rules.Context. Every request runs to completion even
// when an earlier one fails.
func (tc *taskContext) MultiGet(reqs ...rules.GetRequest) ([]any, error) {
	pending := make([]pendingGet, len(reqs))
	for i, req := range reqs {
		pending[i] = tc.prepare(req)
	}
	vals, errs := tc.await(pending)
	for _, err := range errs {
		if err != nil {
			return nil, cyclicAsError(err)
		}
	}
	return vals, nil
}

// Workunit implements rules.Context.
func (tc *taskContext) Workunit(name string, labels map[string]string) rules.Span {
	_, h := tc.sched.workunits.Start(tc.Context, name, labels)
	return h
}

// cyclicAsError reports a tolerated cycle reached through a plain Get.
func cyclicAsError(err error) error {
	if errors.Is(err, graph.ErrCyclicValue) {
		return rules.ErrCyclic
	}
	return err
}

// taskContextOf recovers the engine context from a rule body's context.
// Intrinsics use it to reach the scheduler.
func taskContextOf(ctx rules.Context) (*taskContext, error) {
	tc, ok := ctx.(*taskContext)
	if !ok {
		return nil, errors.New("engine: intrinsic called outside the scheduler")
	}
	return tc, nil
}
