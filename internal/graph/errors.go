package graph

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCyclicValue is returned by Get when the requested node sits on a cycle
// through the caller and every node on that cycle is cycle-tolerant.
var ErrCyclicValue = errors.New("cyclic value")

// CycleError reports a dependency cycle discovered while running nodes.
// Path starts with the requesting node and ends with it again.
type CycleError struct {
	Path []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// IsCycleError returns true if err is or wraps a *CycleError.
func IsCycleError(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// PanicError is a panic recovered from a node computation.
type PanicError struct {
	Node  string
	Value any
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return "panic in " + e.Node + ": " + formatPanic(e.Value)
}

func formatPanic(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}
