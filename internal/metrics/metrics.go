// Package metrics defines the Prometheus collectors the engine reports to.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "strata"

// Collectors groups every engine metric. A nil *Collectors is valid and
// records nothing, so callers never need to check.
type Collectors struct {
	NodeRuns      *prometheus.CounterVec
	NodeDuration  *prometheus.HistogramVec
	CacheHits     prometheus.Counter
	Throws        *prometheus.CounterVec
	Invalidations *prometheus.CounterVec
	InFlight      prometheus.Gauge
	Executions    *prometheus.CounterVec
	StoreOps      *prometheus.CounterVec
}

// New registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() to stay isolated from the global registry.
func New(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		NodeRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "node_runs_total",
			Help:      "Node computations started, by node kind",
		}, []string{"kind"}),
		NodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "node_duration_seconds",
			Help:      "Node computation time, by node kind",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"kind"}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "cache_hits_total",
			Help:      "Requests answered from memoized results",
		}),
		Throws: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "throws_total",
			Help:      "Node computations that failed, by node kind",
		}, []string{"kind"}),
		Invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "invalidations_total",
			Help:      "Nodes invalidated, by effect (cleared or dirtied)",
		}, []string{"effect"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tasks_in_flight",
			Help:      "Rule bodies currently running or suspended",
		}),
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "roots_total",
			Help:      "Execution roots completed, by result (return or throw)",
		}, []string{"result"}),
		StoreOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Store operations issued by the engine, by operation",
		}, []string{"op"}),
	}
}

// NodeRun records a started computation.
func (c *Collectors) NodeRun(kind string, seconds float64, failed bool) {
	if c == nil {
		return
	}
	c.NodeRuns.WithLabelValues(kind).Inc()
	c.NodeDuration.WithLabelValues(kind).Observe(seconds)
	if failed {
		c.Throws.WithLabelValues(kind).Inc()
	}
}

// RecordHits adds n memoized answers.
func (c *Collectors) RecordHits(n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.CacheHits.Add(float64(n))
}

// Invalidated records an invalidation pass.
func (c *Collectors) Invalidated(cleared, dirtied int) {
	if c == nil {
		return
	}
	c.Invalidations.WithLabelValues("cleared").Add(float64(cleared))
	c.Invalidations.WithLabelValues("dirtied").Add(float64(dirtied))
}

// TaskStarted and TaskFinished track rule bodies in flight.
func (c *Collectors) TaskStarted() {
	if c == nil {
		return
	}
	c.InFlight.Inc()
}

// TaskFinished is the counterpart of TaskStarted.
func (c *Collectors) TaskFinished() {
	if c == nil {
		return
	}
	c.InFlight.Dec()
}

// RootCompleted records one execution root.
func (c *Collectors) RootCompleted(throw bool) {
	if c == nil {
		return
	}
	result := "return"
	if throw {
		result = "throw"
	}
	c.Executions.WithLabelValues(result).Inc()
}

// StoreOp records a store operation issued by an intrinsic.
func (c *Collectors) StoreOp(op string) {
	if c == nil {
		return
	}
	c.StoreOps.WithLabelValues(op).Inc()
}
