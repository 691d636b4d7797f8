// Package rules declares build rules and validates them into a RuleGraph.
//
// A TaskRule is a function from selector values to one output type. It may
// also issue sub-requests ("Gets") at runtime, but every (output, input)
// pair it can Get must be declared up front. A SingletonRule supplies a
// constant for one output type.
//
// Builder.Build resolves, before anything runs, which rule provides each
// (subject type, product type) pair reachable from the declared roots and
// queries. Construction fails with a *ValidationError when a pair has more
// than one provider (ambiguity), a required pair has none (missing rule), a
// cycle runs through a rule not flagged cycle-tolerant, or a rule is never
// used. The resulting RuleGraph is immutable and safe for concurrent use.
//
// # Resolution model
//
// Each request carries a single subject. A rule's selectors are resolved
// against the same subject type as the rule itself; a Get(O, I) is resolved
// with I as the new subject type. When the subject type equals the requested
// product the subject itself is the answer, and no rule is consulted.
//
// # Rule bodies
//
// Bodies receive a Context, which embeds context.Context and offers Get,
// GetOptional and MultiGet. The generic helpers Get, GetOptional, MultiGet2,
// MultiGet3 and GetAll add static typing on top.
package rules
