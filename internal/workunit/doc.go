// Package workunit records a tree of timed units of work with outcomes.
//
// The engine opens one WorkUnit per node computation and rule bodies may
// open children through rules.Context.Workunit. Each unit is mirrored as an
// OpenTelemetry span, so any tracer provider (an OTLP exporter in
// production, tracetest.SpanRecorder in tests) sees the same tree.
//
// The parent of a new unit is the unit carried by the context passed to
// Start. Units started from a context without one are roots.
package workunit
