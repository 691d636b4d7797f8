package workunit

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is how a WorkUnit finished.
type Outcome string

const (
	// OutcomeRunning marks a unit that has not ended.
	OutcomeRunning Outcome = ""
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	// OutcomeAborted marks work abandoned because its requester cancelled.
	OutcomeAborted Outcome = "ABORTED"
)

// WorkUnit is one timed unit of work.
type WorkUnit struct {
	ID       string
	Name     string
	ParentID string
	Labels   map[string]string
	Start    time.Time
	End      time.Time
	Outcome  Outcome

	// Error is the failure message for FAILURE and ABORTED units.
	Error string
}

// Duration is End - Start, or zero for a running unit.
func (w WorkUnit) Duration() time.Duration {
	if w.End.IsZero() {
		return 0
	}
	return w.End.Sub(w.Start)
}

// Option configures a Store.
type Option func(*Store)

// WithTracerProvider mirrors units as spans of tp instead of the global
// provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithIDGenerator sets the unit id generator. Default UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// WithClock sets the time source. Default time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

const tracerName = "github.com/roach88/strata/workunit"

// Store holds every unit started through it.
//
// Thread-safety: Store is safe for concurrent use.
type Store struct {
	tracer trace.Tracer
	ids    IDGenerator
	now    func() time.Time
	logger *slog.Logger

	mu    sync.Mutex
	units map[string]*WorkUnit
	order []string
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		tracer: otel.Tracer(tracerName),
		ids:    UUIDv7Generator{},
		now:    time.Now,
		logger: slog.Default(),
		units:  make(map[string]*WorkUnit),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ctxKey struct{}

// FromContext returns the id of the unit ctx runs under.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok
}

// Handle is an open unit. End must be called exactly once; later calls are
// ignored.
type Handle struct {
	store *Store
	id    string
	span  trace.Span
	once  sync.Once
}

// ID returns the unit id.
func (h *Handle) ID() string {
	return h.id
}

// Start opens a unit named name as a child of the unit carried by ctx. The
// returned context carries the new unit and its span.
func (s *Store) Start(ctx context.Context, name string, labels map[string]string) (context.Context, *Handle) {
	parent, _ := FromContext(ctx)
	id := s.ids.Generate()

	attrs := make([]attribute.KeyValue, 0, len(labels)+1)
	attrs = append(attrs, attribute.String("workunit.id", id))
	for _, k := range sortedKeys(labels) {
		attrs = append(attrs, attribute.String(k, labels[k]))
	}
	ctx, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))

	wu := &WorkUnit{
		ID:       id,
		Name:     name,
		ParentID: parent,
		Labels:   cloneLabels(labels),
		Start:    s.now(),
	}
	s.mu.Lock()
	s.units[id] = wu
	s.order = append(s.order, id)
	s.mu.Unlock()

	return context.WithValue(ctx, ctxKey{}, id), &Handle{store: s, id: id, span: span}
}

// End closes the unit. A nil err is SUCCESS, a context cancellation is
// ABORTED, anything else is FAILURE.
func (h *Handle) End(err error) {
	h.once.Do(func() {
		outcome := OutcomeSuccess
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			outcome = OutcomeAborted
		default:
			outcome = OutcomeFailure
		}
		h.store.finish(h.id, outcome, err)

		if err != nil {
			h.span.RecordError(err)
			h.span.SetStatus(codes.Error, err.Error())
		} else {
			h.span.SetStatus(codes.Ok, "")
		}
		h.span.SetAttributes(attribute.String("workunit.outcome", string(outcome)))
		h.span.End()
	})
}

func (s *Store) finish(id string, outcome Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wu, ok := s.units[id]
	if !ok {
		return
	}
	wu.End = s.now()
	wu.Outcome = outcome
	if err != nil {
		wu.Error = err.Error()
	}
	if outcome != OutcomeSuccess {
		s.logger.Debug("workunit ended", "name", wu.Name, "outcome", outcome, "error", wu.Error)
	}
}

// Get returns a copy of the unit with the given id.
func (s *Store) Get(id string) (WorkUnit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wu, ok := s.units[id]
	if !ok {
		return WorkUnit{}, false
	}
	return copyUnit(wu), true
}

// All returns every unit in start order.
func (s *Store) All() []WorkUnit {
	return s.filter(func(*WorkUnit) bool { return true })
}

// Completed returns every ended unit in start order.
func (s *Store) Completed() []WorkUnit {
	return s.filter(func(w *WorkUnit) bool { return w.Outcome != OutcomeRunning })
}

// Running returns every unit that has not ended, in start order.
func (s *Store) Running() []WorkUnit {
	return s.filter(func(w *WorkUnit) bool { return w.Outcome == OutcomeRunning })
}

// Children returns the direct children of the unit with the given id.
func (s *Store) Children(id string) []WorkUnit {
	return s.filter(func(w *WorkUnit) bool { return w.ParentID == id })
}

func (s *Store) filter(keep func(*WorkUnit) bool) []WorkUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WorkUnit
	for _, id := range s.order {
		if wu := s.units[id]; keep(wu) {
			out = append(out, copyUnit(wu))
		}
	}
	return out
}

// Reset drops every recorded unit.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = make(map[string]*WorkUnit)
	s.order = nil
}

func copyUnit(w *WorkUnit) WorkUnit {
	out := *w
	out.Labels = cloneLabels(w.Labels)
	return out
}

func cloneLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
