package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testNode struct {
	name     string
	tolerant bool
}

func (n testNode) String() string      { return n.name }
func (n testNode) CycleTolerant() bool { return n.tolerant }

func node(name string) testNode { return testNode{name: name} }

type body func(ctx context.Context, c *Context) (any, error)

// testRunner dispatches on node name and counts runs.
type testRunner struct {
	mu     sync.Mutex
	bodies map[string]body
	counts map[string]int
}

func newTestRunner() *testRunner {
	return &testRunner{bodies: make(map[string]body), counts: make(map[string]int)}
}

func (r *testRunner) set(name string, b body) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies[name] = b
}

func (r *testRunner) Run(ctx context.Context, c *Context) (any, error) {
	name := c.Node().String()
	r.mu.Lock()
	r.counts[name]++
	b := r.bodies[name]
	r.mu.Unlock()
	return b(ctx, c)
}

func (r *testRunner) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}

func constant(v any) body {
	return func(context.Context, *Context) (any, error) { return v, nil }
}

func TestGet_MemoizesUnderConcurrency(t *testing.T) {
	r := newTestRunner()
	r.set("slow", func(ctx context.Context, c *Context) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return 42, nil
	})
	g := New(r)

	const callers = 50
	var wg sync.WaitGroup
	results := make([]any, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := g.Get(context.Background(), nil, node("slow"))
			assert.NoError(t, err)
			results[i] = v
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.count("slow"), "body must run exactly once")
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, g.Len())
}

func TestGet_MemoizesErrors(t *testing.T) {
	r := newTestRunner()
	boom := errors.New("boom")
	r.set("fail", func(context.Context, *Context) (any, error) { return nil, boom })
	g := New(r)

	for range 3 {
		_, err := g.Get(context.Background(), nil, node("fail"))
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, 1, r.count("fail"))
}

func TestGet_RecordsEdges(t *testing.T) {
	r := newTestRunner()
	r.set("a", func(ctx context.Context, c *Context) (any, error) {
		b, err := c.Get(ctx, node("b"))
		if err != nil {
			return nil, err
		}
		return b.(string) + "!", nil
	})
	r.set("b", constant("b"))
	g := New(r)

	v, err := g.Get(context.Background(), nil, node("a"))
	require.NoError(t, err)
	assert.Equal(t, "b!", v)
	assert.Equal(t, []Node{node("b")}, g.Dependencies(node("a")))
	assert.Equal(t, []Node{node("a")}, g.Dependents(node("b")))
	assert.Equal(t, 1, g.Metrics().Edges)
}

func cyclicPair(r *testRunner) {
	get := func(other string) body {
		return func(ctx context.Context, c *Context) (any, error) {
			return c.Get(ctx, node(other))
		}
	}
	r.set("a", get("b"))
	r.set("b", get("a"))
}

func TestGet_DetectsCycle(t *testing.T) {
	r := newTestRunner()
	cyclicPair(r)
	g := New(r)

	_, err := g.Get(context.Background(), nil, node("a"))
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"b", "a", "b"}, ce.Path)
	assert.True(t, IsCycleError(err))
}

func TestGet_SelfCycle(t *testing.T) {
	r := newTestRunner()
	r.set("self", func(ctx context.Context, c *Context) (any, error) {
		return c.Get(ctx, node("self"))
	})
	g := New(r)

	_, err := g.Get(context.Background(), nil, node("self"))
	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"self", "self"}, ce.Path)
}

func TestGet_TolerantCycle(t *testing.T) {
	r := newTestRunner()
	g := New(r)

	a := testNode{name: "a", tolerant: true}
	b := testNode{name: "b", tolerant: true}
	r.set("a", func(ctx context.Context, c *Context) (any, error) {
		return c.Get(ctx, b)
	})
	r.set("b", func(ctx context.Context, c *Context) (any, error) {
		_, err := c.Get(ctx, a)
		if errors.Is(err, ErrCyclicValue) {
			return "default", nil
		}
		return "unexpected", err
	})

	v, err := g.Get(context.Background(), nil, a)
	require.NoError(t, err)
	assert.Equal(t, "default", v)
}

func TestGet_CancelledWaiterStopsWaiting(t *testing.T) {
	r := newTestRunner()
	release := make(chan struct{})
	r.set("blocked", func(context.Context, *Context) (any, error) {
		<-release
		return "done", nil
	})
	g := New(r)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := g.Get(ctx, nil, node("blocked"))
		errc <- err
	}()

	require.Eventually(t, func() bool { return g.Metrics().Running == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	v, err := g.Get(context.Background(), nil, node("blocked"))
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, 1, r.count("blocked"), "the shared computation keeps running")
}

func TestGet_RecoversPanics(t *testing.T) {
	r := newTestRunner()
	r.set("panics", func(context.Context, *Context) (any, error) { panic("kaboom") })
	g := New(r)

	_, err := g.Get(context.Background(), nil, node("panics"))
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "panic in panics: kaboom", pe.Error())
	assert.NotEmpty(t, pe.Stack)
}

func TestGet_CancellationNotMemoized(t *testing.T) {
	r := newTestRunner()
	calls := 0
	r.set("flaky", func(context.Context, *Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, context.Canceled
		}
		return "ok", nil
	})
	g := New(r)

	_, err := g.Get(context.Background(), nil, node("flaky"))
	assert.ErrorIs(t, err, context.Canceled)
	v, err := g.Get(context.Background(), nil, node("flaky"))
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
