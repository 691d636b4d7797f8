package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/metrics"
	"github.com/roach88/strata/internal/rules"
	"github.com/roach88/strata/internal/store"
	"github.com/roach88/strata/internal/workunit"
)

type (
	inA struct{ N int }
	inB struct{ N int }
	inC struct{ N int }
)

// calls counts rule invocations by label.
type calls struct {
	mu sync.Mutex
	n  map[string]int
}

func newCalls() *calls {
	return &calls{n: make(map[string]int)}
}

func (c *calls) inc(label string) {
	c.mu.Lock()
	c.n[label]++
	c.mu.Unlock()
}

func (c *calls) get(label string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[label]
}

func newScheduler(t *testing.T, b *rules.Builder, opts ...Option) *Scheduler {
	t.Helper()
	rg, err := b.Build()
	require.NoError(t, err)
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	opts = append([]Option{WithBuildRoot(t.TempDir())}, opts...)
	s, err := New(rg, st, opts...)
	require.NoError(t, err)
	return s
}

func itoaRule(c *calls) *rules.TaskRule {
	return rules.Func1("itoa", func(_ rules.Context, x int) (string, error) {
		c.inc(strconv.Itoa(x))
		if x%2 == 0 {
			return "", errors.New("even numbers unsupported")
		}
		return strconv.Itoa(x), nil
	})
}

func TestNew_RequiresGraphAndStore(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	defer st.Close()

	_, err = New(nil, st)
	assert.Error(t, err)

	rg, err := rules.NewBuilder().Build()
	require.NoError(t, err)
	_, err = New(rg, nil)
	assert.Error(t, err)
}

func TestExecute_ResultsInSubmissionOrder(t *testing.T) {
	c := newCalls()
	f := rules.Func1("f", func(_ rules.Context, x int) (string, error) {
		c.inc("f")
		return strconv.Itoa(x), nil
	})
	s := newScheduler(t, rules.NewBuilder().Register(f).Root(intern.TypeOf[int]()))

	req := NewExecutionRequest().Product([]intern.TypeID{intern.TypeOf[string]()}, 1, 2, 3)
	results, err := s.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, results, 3)

	var got []any
	for _, r := range results {
		assert.False(t, r.IsThrow())
		got = append(got, r.Value)
	}
	assert.Equal(t, []any{"1", "2", "3"}, got)
	assert.Equal(t, 1, results[0].Subject)
	assert.Equal(t, 3, c.get("f"))
}

func TestExecute_ChainRunsOncePerSubject(t *testing.T) {
	c := newCalls()
	g := rules.Func1("g", func(_ rules.Context, a inA) (inB, error) {
		c.inc("g" + strconv.Itoa(a.N))
		time.Sleep(5 * time.Millisecond)
		return inB{N: a.N * 10}, nil
	})
	h := rules.Func1("h", func(_ rules.Context, b inB) (inC, error) {
		c.inc("h" + strconv.Itoa(b.N))
		return inC{N: b.N + 1}, nil
	})
	s := newScheduler(t, rules.NewBuilder().Register(g, h).Root(intern.TypeOf[inA]()))

	req := NewExecutionRequest().Product([]intern.TypeID{intern.TypeOf[inC]()}, inA{1}, inA{2})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := s.Execute(context.Background(), req)
			assert.NoError(t, err)
			assert.Equal(t, inC{N: 11}, results[0].Value)
			assert.Equal(t, inC{N: 21}, results[1].Value)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, c.get("g1"))
	assert.Equal(t, 1, c.get("g2"))
	assert.Equal(t, 1, c.get("h10"))
	assert.Equal(t, 1, c.get("h20"))
}

func TestExecute_PartialBatchFailure(t *testing.T) {
	c := newCalls()
	s := newScheduler(t, rules.NewBuilder().Register(itoaRule(c)).Root(intern.TypeOf[int]()))

	req := NewExecutionRequest().Product([]intern.TypeID{intern.TypeOf[string]()}, 1, 2, 3)
	results, err := s.Execute(context.Background(), req)
	require.Error(t, err)

	assert.Equal(t, "1", results[0].Value)
	assert.True(t, results[1].IsThrow())
	assert.EqualError(t, results[1].Err, "even numbers unsupported")
	assert.Equal(t, "3", results[2].Value)

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Len(t, ee.Throws, 1)
}

func TestExecute_DeduplicatesThrows(t *testing.T) {
	c := newCalls()
	s := newScheduler(t, rules.NewBuilder().Register(itoaRule(c)).Root(intern.TypeOf[int]()))

	req := NewExecutionRequest().Product([]intern.TypeID{intern.TypeOf[string]()}, 2, 4, 6)
	_, err := s.Execute(context.Background(), req)

	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	require.Len(t, ee.Throws, 1)
	assert.Contains(t, err.Error(), "even numbers unsupported")
}

func TestExecute_ThrowsAreMemoized(t *testing.T) {
	c := newCalls()
	s := newScheduler(t, rules.NewBuilder().Register(itoaRule(c)).Root(intern.TypeOf[int]()))
	req := NewExecutionRequest().Add(2, intern.TypeOf[string]())

	for range 3 {
		results, err := s.Execute(context.Background(), req)
		require.Error(t, err)
		assert.True(t, results[0].IsThrow())
	}
	assert.Equal(t, 1, c.get("2"))
}

func TestExecute_IncludeTrace(t *testing.T) {
	c := newCalls()
	s := newScheduler(t, rules.NewBuilder().Register(itoaRule(c)).Root(intern.TypeOf[int]()))
	req := NewExecutionRequest().Add(2, intern.TypeOf[string]())
	req.IncludeTrace = true

	_, err := s.Execute(context.Background(), req)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)

	trace := Trace(ee.Throws[0])
	require.Len(t, trace, 2)
	assert.Contains(t, trace[0], "Select(string for int#")
	assert.Contains(t, trace[1], "itoa(int#")
	assert.Contains(t, err.Error(), " -> ")
	assert.Nil(t, Trace(errors.New("plain")))
}

func TestExecute_NoQuery(t *testing.T) {
	c := newCalls()
	s := newScheduler(t, rules.NewBuilder().Register(itoaRule(c)).Root(intern.TypeOf[int]()))

	results, err := s.Execute(context.Background(), NewExecutionRequest().Add("x", intern.TypeOf[string]()))
	require.Error(t, err)
	assert.True(t, HasCode(results[0].Err, ErrCodeNoQuery))
	assert.Contains(t, results[0].Err.Error(), "NO_QUERY")
}

func TestExecute_UndeclaredGet(t *testing.T) {
	sneaky := rules.Func1("sneaky", func(ctx rules.Context, x int) (string, error) {
		v, err := rules.Get[inA](ctx, x)
		return strconv.Itoa(v.N), err
	})
	s := newScheduler(t, rules.NewBuilder().Register(sneaky).Root(intern.TypeOf[int]()))

	results, _ := s.Execute(context.Background(), NewExecutionRequest().Add(1, intern.TypeOf[string]()))
	require.True(t, results[0].IsThrow())
	assert.True(t, HasCode(results[0].Err, ErrCodeUndeclaredGet))
	assert.Contains(t, results[0].Err.Error(), "sneaky(")
}

func TestExecute_TypeMismatch(t *testing.T) {
	bad := &rules.TaskRule{
		Name:      "bad",
		Output:    intern.TypeOf[string](),
		Selectors: []intern.TypeID{intern.TypeOf[int]()},
		Body: func(rules.Context, []any) (any, error) {
			return 42, nil
		},
	}
	s := newScheduler(t, rules.NewBuilder().Register(bad).Root(intern.TypeOf[int]()))

	results, _ := s.Execute(context.Background(), NewExecutionRequest().Add(1, intern.TypeOf[string]()))
	assert.True(t, HasCode(results[0].Err, ErrCodeTypeMismatch))
	assert.Contains(t, results[0].Err.Error(), "returned int, want string")
}

func TestExecute_PanicBecomesThrow(t *testing.T) {
	boom := rules.Func1("boom", func(_ rules.Context, x int) (string, error) {
		panic("kaboom")
	})
	s := newScheduler(t, rules.NewBuilder().Register(boom).Root(intern.TypeOf[int]()), WithParallelism(1))

	results, err := s.Execute(context.Background(), NewExecutionRequest().Add(1, intern.TypeOf[string]()).Add(2, intern.TypeOf[string]()))
	require.Error(t, err)
	for _, r := range results {
		assert.True(t, IsPanic(r.Err))
	}

	var re *RuntimeError
	require.ErrorAs(t, results[0].Err, &re)
	assert.Equal(t, "kaboom", re.Message)
	assert.NotEmpty(t, re.Details["stack"])
	assert.Empty(t, s.InFlight(), "panicking bodies release their slot")
}

func TestMultiGet_CompletesAllAndReportsFirstFailure(t *testing.T) {
	type leaf struct {
		Name string
		Fail bool
	}
	type leafOut string
	type pairReq struct{}
	type pairOut []leafOut

	c := newCalls()
	leafRule := rules.Func1("leaf", func(_ rules.Context, l leaf) (leafOut, error) {
		if l.Fail {
			return "", errors.New("leaf " + l.Name + " failed")
		}
		time.Sleep(20 * time.Millisecond)
		c.inc(l.Name)
		return leafOut(l.Name), nil
	})
	pairRule := rules.Func1("pair", func(ctx rules.Context, _ pairReq) (pairOut, error) {
		vals, err := ctx.MultiGet(
			rules.NewGet[leafOut](leaf{Name: "a", Fail: true}),
			rules.NewGet[leafOut](leaf{Name: "b"}),
			rules.NewGet[leafOut](leaf{Name: "c", Fail: true}),
		)
		if err != nil {
			return nil, err
		}
		out := make(pairOut, len(vals))
		for i, v := range vals {
			out[i] = v.(leafOut)
		}
		return out, nil
	}, rules.WithGets(rules.GetSpecFor[leafOut, leaf]()))

	s := newScheduler(t, rules.NewBuilder().Register(leafRule, pairRule).Root(intern.TypeOf[pairReq]()))
	results, err := s.Execute(context.Background(), NewExecutionRequest().Add(pairReq{}, intern.TypeOf[pairOut]()))
	require.Error(t, err)
	assert.EqualError(t, results[0].Err, "leaf a failed")
	assert.Equal(t, 1, c.get("b"), "sibling of a failed get still runs to completion")
}

func TestMultiGet_ResultsInRequestOrder(t *testing.T) {
	delay := rules.Func1("delay", func(_ rules.Context, ms int) (string, error) {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return strconv.Itoa(ms), nil
	})
	collect := rules.Func1("collect", func(ctx rules.Context, in inA) (inB, error) {
		got, err := rules.GetAll[string](ctx, 30, 1, 15)
		if err != nil {
			return inB{}, err
		}
		n, _ := strconv.Atoi(got[0] + got[1] + got[2])
		return inB{N: n}, nil
	}, rules.WithGets(rules.GetSpecFor[string, int]()))

	s := newScheduler(t, rules.NewBuilder().Register(delay, collect).Root(intern.TypeOf[inA]()))
	results, err := s.Execute(context.Background(), NewExecutionRequest().Add(inA{}, intern.TypeOf[inB]()))
	require.NoError(t, err)
	assert.Equal(t, inB{N: 30115}, results[0].Value)
}

func TestGetOptional_ToleratedCycle(t *testing.T) {
	type outA string
	type outB string

	left := rules.Func1("left", func(ctx rules.Context, n inA) (outA, error) {
		b, err := rules.Get[outB](ctx, n)
		if err != nil {
			return "", err
		}
		return outA("a:" + string(b)), nil
	}, rules.WithGets(rules.GetSpecFor[outB, inA]()), rules.CycleTolerant())
	right := rules.Func1("right", func(ctx rules.Context, n inA) (outB, error) {
		a, err := rules.GetOptional[outA](ctx, n)
		if err != nil {
			return "", err
		}
		if !a.Present {
			return "none", nil
		}
		return outB("b:" + string(a.Value)), nil
	}, rules.WithGets(rules.GetSpecFor[outA, inA]()), rules.CycleTolerant())

	s := newScheduler(t, rules.NewBuilder().Register(left, right).Root(intern.TypeOf[inA]()))
	results, err := s.Execute(context.Background(), NewExecutionRequest().Add(inA{1}, intern.TypeOf[outA]()))
	require.NoError(t, err)
	assert.Equal(t, outA("a:none"), results[0].Value)
}

func TestExecute_CancelledWaitKeepsComputation(t *testing.T) {
	release := make(chan struct{})
	c := newCalls()
	slow := rules.Func1("slow", func(_ rules.Context, x int) (string, error) {
		c.inc("slow")
		<-release
		return "done", nil
	})
	s := newScheduler(t, rules.NewBuilder().Register(slow).Root(intern.TypeOf[int]()))
	req := NewExecutionRequest().Add(1, intern.TypeOf[string]())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Execute(ctx, req)
		errc <- err
	}()
	require.Eventually(t, func() bool { return c.get("slow") == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	results, err := s.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "done", results[0].Value)
	assert.Equal(t, 1, c.get("slow"))
}

func TestInFlight_ShowsSuspendedTasks(t *testing.T) {
	release := make(chan struct{})
	child := rules.Func1("child", func(_ rules.Context, x int) (string, error) {
		<-release
		return "child", nil
	})
	parent := rules.Func1("parent", func(ctx rules.Context, a inA) (inB, error) {
		if _, err := rules.Get[string](ctx, a.N); err != nil {
			return inB{}, err
		}
		return inB{N: a.N}, nil
	}, rules.WithGets(rules.GetSpecFor[string, int]()))
	s := newScheduler(t, rules.NewBuilder().Register(child, parent).Root(intern.TypeOf[inA]()), WithParallelism(1))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Execute(context.Background(), NewExecutionRequest().Add(inA{7}, intern.TypeOf[inB]()))
	}()

	require.Eventually(t, func() bool { return len(s.InFlight()) == 2 }, time.Second, time.Millisecond)
	infos := s.InFlight()
	assert.Equal(t, PhaseRunnable, infos[0].Phase)
	assert.Contains(t, infos[0].Node, "child(")
	assert.Equal(t, PhaseSuspended, infos[1].Phase)
	assert.Contains(t, infos[1].Node, "parent(")
	require.Len(t, infos[1].Awaiting, 1)
	assert.Contains(t, infos[1].Awaiting[0], "child(")

	close(release)
	<-done
	assert.Empty(t, s.InFlight())
}

func TestExecute_DeepChainWithOneSlot(t *testing.T) {
	depth := rules.Func1("depth", func(ctx rules.Context, n int) (string, error) {
		if n == 0 {
			return "0", nil
		}
		below, err := rules.Get[string](ctx, n-1)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(n) + "," + below, nil
	}, rules.WithGets(rules.GetSpecFor[string, int]()))
	s := newScheduler(t, rules.NewBuilder().Register(depth).Root(intern.TypeOf[int]()), WithParallelism(1))

	results, err := s.Execute(context.Background(), NewExecutionRequest().Add(4, intern.TypeOf[string]()))
	require.NoError(t, err)
	assert.Equal(t, "4,3,2,1,0", results[0].Value)
}

func TestExecute_Singleton(t *testing.T) {
	type level int
	scaled := rules.Func2("scaled", func(_ rules.Context, x int, l level) (string, error) {
		return strconv.Itoa(x * int(l)), nil
	})
	s := newScheduler(t, rules.NewBuilder().
		Register(scaled, rules.Singleton(level(3))).
		Root(intern.TypeOf[int]()))

	results, err := s.Execute(context.Background(), NewExecutionRequest().Add(5, intern.TypeOf[string]()))
	require.NoError(t, err)
	assert.Equal(t, "15", results[0].Value)
}

func TestExecute_WorkunitsAndMetrics(t *testing.T) {
	c := newCalls()
	units := workunit.NewStore(workunit.WithIDGenerator(workunit.NewSequenceGenerator("wu")))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s := newScheduler(t,
		rules.NewBuilder().Register(itoaRule(c)).Root(intern.TypeOf[int]()),
		WithWorkunits(units),
		WithMetrics(m),
		WithRunIDGenerator(workunit.NewSequenceGenerator("run")),
	)

	req := NewExecutionRequest().Product([]intern.TypeID{intern.TypeOf[string]()}, 1, 2)
	_, err := s.Execute(context.Background(), req)
	require.Error(t, err)
	_, _ = s.Execute(context.Background(), req)

	var execute, failed int
	for _, wu := range units.Completed() {
		if wu.Name == "execute" {
			execute++
			assert.Equal(t, "2", wu.Labels["roots"])
		}
		if wu.Outcome == workunit.OutcomeFailure && wu.Labels["kind"] == "task" {
			failed++
		}
	}
	assert.Equal(t, 2, execute)
	assert.Equal(t, 1, failed, "the failing task ran once")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Executions.WithLabelValues("return")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Executions.WithLabelValues("throw")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NodeRuns.WithLabelValues("task")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Throws.WithLabelValues("task")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.CacheHits), 2.0)
}
