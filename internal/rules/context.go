package rules

import (
	"context"
	"errors"

	"github.com/roach88/strata/internal/intern"
)

// ErrCyclic is reported by GetOptional when the requested value sits on a
// cycle back to the caller. Only cycle-tolerant rules observe it, and only as
// an absent Optional.
var ErrCyclic = errors.New("value depends on itself")

// GetRequest asks for Product computed from Subject.
type GetRequest struct {
	Product intern.TypeID
	Subject any
}

// NewGet builds a request for a T computed from subject.
func NewGet[T any](subject any) GetRequest {
	return GetRequest{Product: intern.TypeOf[T](), Subject: subject}
}

// Spec returns the GetSpec the request must be declared under.
func (g GetRequest) Spec() GetSpec {
	return GetSpec{Output: g.Product, Input: intern.TypeOfValue(g.Subject)}
}

// Span is an open unit of observed work.
type Span interface {
	// End closes the span; a non-nil err marks it failed.
	End(err error)
}

// Context is what a rule body sees. Get, GetOptional and MultiGet are the
// only points at which a body suspends.
type Context interface {
	context.Context

	// Get computes product for subject. The (product, subject type) pair
	// must be declared in the rule's Gets.
	Get(product intern.TypeID, subject any) (any, error)

	// GetOptional is Get for cycle-tolerant rules: a cyclic edge yields
	// present=false instead of an error.
	GetOptional(product intern.TypeID, subject any) (value any, present bool, err error)

	// MultiGet runs every request concurrently and waits for all of them.
	// Results are in request order; the error, if any, is the first failure
	// in request order.
	MultiGet(reqs ...GetRequest) ([]any, error)

	// Workunit opens a child span of the current rule's span.
	Workunit(name string, labels map[string]string) Span
}

// Optional is a value that may be absent.
type Optional[T any] struct {
	Value   T
	Present bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Present: true}
}

// None is the absent Optional.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get computes a T for subject.
func Get[T any](ctx Context, subject any) (T, error) {
	v, err := ctx.Get(intern.TypeOf[T](), subject)
	if err != nil {
		var zero T
		return zero, err
	}
	return cast[T](v)
}

// GetOptional computes a T for subject, absent on a cyclic edge.
func GetOptional[T any](ctx Context, subject any) (Optional[T], error) {
	v, present, err := ctx.GetOptional(intern.TypeOf[T](), subject)
	if err != nil || !present {
		return None[T](), err
	}
	t, err := cast[T](v)
	if err != nil {
		return None[T](), err
	}
	return Some(t), nil
}

// MultiGet2 runs two requests concurrently.
func MultiGet2[A, B any](ctx Context, ga, gb GetRequest) (A, B, error) {
	var (
		a A
		b B
	)
	vals, err := ctx.MultiGet(ga, gb)
	if err != nil {
		return a, b, err
	}
	if a, err = cast[A](vals[0]); err != nil {
		return a, b, err
	}
	b, err = cast[B](vals[1])
	return a, b, err
}

// MultiGet3 runs three requests concurrently.
func MultiGet3[A, B, C any](ctx Context, ga, gb, gc GetRequest) (A, B, C, error) {
	var (
		a A
		b B
		c C
	)
	vals, err := ctx.MultiGet(ga, gb, gc)
	if err != nil {
		return a, b, c, err
	}
	if a, err = cast[A](vals[0]); err != nil {
		return a, b, c, err
	}
	if b, err = cast[B](vals[1]); err != nil {
		return a, b, c, err
	}
	c, err = cast[C](vals[2])
	return a, b, c, err
}

// GetAll computes a T for each subject concurrently, in subject order.
func GetAll[T any](ctx Context, subjects ...any) ([]T, error) {
	reqs := make([]GetRequest, len(subjects))
	for i, s := range subjects {
		reqs[i] = NewGet[T](s)
	}
	vals, err := ctx.MultiGet(reqs...)
	if err != nil {
		return nil, err
	}
	out := make([]T, len(vals))
	for i, v := range vals {
		if out[i], err = cast[T](v); err != nil {
			return nil, err
		}
	}
	return out, nil
}
