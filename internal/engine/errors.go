package engine

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/rules"
)

// RuntimeError represents an error detected while executing rules.
//
// Runtime errors include:
//   - No query: a root asks for a (subject type, product) the graph lacks
//   - Undeclared get: a body issues a Get its rule did not declare
//   - Type mismatch: a body returns a value of the wrong type
//   - Panic: a body panicked
//
// A RuntimeError completes its node as a Throw like any other body error.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Node names the node that failed, when there is one.
	Node string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNoQuery indicates the rule graph has no query for a root.
	ErrCodeNoQuery RuntimeErrorCode = "NO_QUERY"

	// ErrCodeUndeclaredGet indicates a body issued a Get it did not declare.
	ErrCodeUndeclaredGet RuntimeErrorCode = "UNDECLARED_GET"

	// ErrCodeTypeMismatch indicates a body returned a value of the wrong type.
	ErrCodeTypeMismatch RuntimeErrorCode = "TYPE_MISMATCH"

	// ErrCodePanic indicates a body panicked.
	ErrCodePanic RuntimeErrorCode = "PANIC"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.Node)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode returns true if err is or wraps a RuntimeError with code.
func HasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsPanic returns true if err reports a recovered panic.
func IsPanic(err error) bool {
	return HasCode(err, ErrCodePanic)
}

func newNoQueryError(q rules.Query) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeNoQuery,
		Message: fmt.Sprintf("no rules provide %s for %s", q.Product, q.Param),
		Details: map[string]string{
			"param":   q.Param.String(),
			"product": q.Product.String(),
		},
	}
}

func newUndeclaredGetError(node string, spec rules.GetSpec) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeUndeclaredGet,
		Message: fmt.Sprintf("%s was not declared", spec),
		Node:    node,
	}
}

func newTypeMismatchError(node string, want intern.TypeID, got any) *RuntimeError {
	gotName := "nil"
	if got != nil {
		gotName = reflect.TypeOf(got).String()
	}
	return &RuntimeError{
		Code:    ErrCodeTypeMismatch,
		Message: fmt.Sprintf("returned %s, want %s", gotName, want),
		Node:    node,
	}
}

func newPanicError(node string, value any, stack []byte) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodePanic,
		Message: fmt.Sprint(value),
		Node:    node,
		Details: map[string]string{"stack": string(stack)},
	}
}

// ExecutionError aggregates the distinct Throws of one Execute call.
// Throws that share a type and message are reported once.
type ExecutionError struct {
	Throws []error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	if len(e.Throws) == 1 {
		return "execution failed: " + describeThrow(e.Throws[0])
	}
	lines := make([]string, len(e.Throws))
	for i, t := range e.Throws {
		lines[i] = "  " + describeThrow(t)
	}
	return fmt.Sprintf("execution failed with %d errors:\n%s", len(e.Throws), strings.Join(lines, "\n"))
}

// Unwrap returns every distinct throw.
func (e *ExecutionError) Unwrap() []error {
	return e.Throws
}

func describeThrow(err error) string {
	if trace := Trace(err); len(trace) > 0 {
		return fmt.Sprintf("%s\n    in %s", err, strings.Join(trace, " -> "))
	}
	return err.Error()
}

// tracedError attaches the chain of failing nodes from a root to a throw.
type tracedError struct {
	err   error
	trace []string
}

func (e *tracedError) Error() string {
	return e.err.Error()
}

func (e *tracedError) Unwrap() error {
	return e.err
}

// Trace returns the node path from the root to the failing node recorded for
// err, or nil when the request did not ask for traces.
func Trace(err error) []string {
	var te *tracedError
	if errors.As(err, &te) {
		return slices.Clone(te.trace)
	}
	return nil
}

// throwKey identifies a throw for deduplication.
func throwKey(err error) string {
	return fmt.Sprintf("%T|%s", err, err.Error())
}
