package rules

import (
	"fmt"
	"strings"

	"github.com/roach88/strata/internal/intern"
)

// ValidationError collects every problem found by Builder.Build.
// The engine refuses to start when Build returns one.
type ValidationError struct {
	Errors []error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = "  - " + err.Error()
	}
	return fmt.Sprintf("invalid rule graph (%d errors):\n%s", len(e.Errors), strings.Join(msgs, "\n"))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Errors
}

// AmbiguityError reports more than one provider for a pair.
type AmbiguityError struct {
	Subject    intern.TypeID
	Product    intern.TypeID
	Candidates []string
}

// Error implements the error interface.
func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous rules for %s from %s: %s",
		e.Product, e.Subject, strings.Join(e.Candidates, ", "))
}

// MissingRuleError reports a requirement no rule can satisfy.
type MissingRuleError struct {
	Subject intern.TypeID
	Product intern.TypeID

	// Rule names the requesting rule, or "query" for an explicit query.
	Rule string
}

// Error implements the error interface.
func (e *MissingRuleError) Error() string {
	return fmt.Sprintf("no rule provides %s from %s (required by %s)", e.Product, e.Subject, e.Rule)
}

// CycleError reports a dependency cycle through a rule that is not
// cycle-tolerant. Path starts and ends with the same rule.
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "rule cycle: " + strings.Join(e.Path, " -> ")
}

// UnreachableError reports a rule no query can reach.
type UnreachableError struct {
	Rule string
}

// Error implements the error interface.
func (e *UnreachableError) Error() string {
	return fmt.Sprintf("rule %s is not reachable from any root or query", e.Rule)
}

// InvalidRuleError reports a malformed declaration.
type InvalidRuleError struct {
	Rule   string
	Reason string
}

// Error implements the error interface.
func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid rule %s: %s", e.Rule, e.Reason)
}

// TypeMismatchError reports a value of an unexpected type.
type TypeMismatchError struct {
	Want intern.TypeID
	Got  intern.TypeID
}

// Error implements the error interface.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch: want %s, got %s", e.Want, e.Got)
}
