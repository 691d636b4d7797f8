package workunit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestStore(t *testing.T) (*Store, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tick := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return NewStore(
		WithTracerProvider(tp),
		WithIDGenerator(NewSequenceGenerator("wu")),
		WithClock(clock),
	), rec
}

func TestStore_Tree(t *testing.T) {
	s, rec := newTestStore(t)

	ctx, root := s.Start(context.Background(), "root", map[string]string{"product": "Snapshot"})
	_, child := s.Start(ctx, "child", nil)
	child.End(nil)
	root.End(nil)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "wu-1", all[0].ID)
	assert.Equal(t, "", all[0].ParentID)
	assert.Equal(t, "wu-1", all[1].ParentID)
	assert.Equal(t, OutcomeSuccess, all[0].Outcome)
	assert.Equal(t, map[string]string{"product": "Snapshot"}, all[0].Labels)
	assert.Equal(t, 3*time.Second, all[0].Duration())

	assert.Equal(t, []WorkUnit{all[1]}, s.Children("wu-1"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "child", spans[0].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
	assert.Equal(t, codes.Ok, spans[1].Status().Code)
}

func TestStore_Outcomes(t *testing.T) {
	s, rec := newTestStore(t)

	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeSuccess},
		{errors.New("compile failed"), OutcomeFailure},
		{fmt.Errorf("waiting: %w", context.Canceled), OutcomeAborted},
	}
	for _, tc := range cases {
		_, h := s.Start(context.Background(), "unit", nil)
		h.End(tc.err)
		h.End(errors.New("ignored"))

		wu, ok := s.Get(h.ID())
		require.True(t, ok)
		assert.Equal(t, tc.want, wu.Outcome)
	}

	failed, _ := s.Get("wu-2")
	assert.Equal(t, "compile failed", failed.Error)
	assert.Equal(t, codes.Error, rec.Ended()[1].Status().Code)
	assert.Len(t, rec.Ended(), 3, "End is idempotent")
}

func TestStore_RunningAndCompleted(t *testing.T) {
	s, _ := newTestStore(t)

	_, a := s.Start(context.Background(), "a", nil)
	_, b := s.Start(context.Background(), "b", nil)
	a.End(nil)

	require.Len(t, s.Running(), 1)
	assert.Equal(t, b.ID(), s.Running()[0].ID)
	require.Len(t, s.Completed(), 1)
	assert.Equal(t, "a", s.Completed()[0].Name)
	assert.Zero(t, s.Running()[0].Duration())

	s.Reset()
	assert.Empty(t, s.All())
}

func TestFromContext(t *testing.T) {
	s, _ := newTestStore(t)
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx, h := s.Start(context.Background(), "a", nil)
	id, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, h.ID(), id)
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	g := UUIDv7Generator{}
	seen := make(map[string]bool)
	for range 100 {
		id := g.Generate()
		assert.Len(t, id, 36)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
