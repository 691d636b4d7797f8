package rules

import (
	"fmt"
	"strings"

	"github.com/roach88/strata/internal/intern"
)

// Rule is either a *TaskRule or a *SingletonRule.
type Rule interface {
	// ProductType is the type the rule provides.
	ProductType() intern.TypeID
	// String names the rule in diagnostics.
	String() string
}

// GetSpec declares a sub-request a rule body may issue: a value of type
// Output computed for a subject of type Input.
type GetSpec struct {
	Output intern.TypeID
	Input  intern.TypeID
}

// GetSpecFor returns the GetSpec for Get[O] with a subject of type I.
func GetSpecFor[O, I any]() GetSpec {
	return GetSpec{Output: intern.TypeOf[O](), Input: intern.TypeOf[I]()}
}

// String renders the spec as Get(Output, Input).
func (g GetSpec) String() string {
	return fmt.Sprintf("Get(%s, %s)", g.Output, g.Input)
}

// Body computes a rule's output. args holds one value per selector, in
// selector order.
type Body func(ctx Context, args []any) (any, error)

// TaskRule is a registered function with static metadata.
type TaskRule struct {
	Name      string
	Output    intern.TypeID
	Selectors []intern.TypeID
	Gets      []GetSpec

	// CycleTolerant allows the rule to sit on a dependency cycle. A tolerant
	// rule observes the cyclic edge as an absent GetOptional result.
	CycleTolerant bool

	Body Body
}

// ProductType implements Rule.
func (r *TaskRule) ProductType() intern.TypeID {
	return r.Output
}

// String implements Rule.
func (r *TaskRule) String() string {
	sels := make([]string, len(r.Selectors))
	for i, s := range r.Selectors {
		sels[i] = s.String()
	}
	return fmt.Sprintf("%s(%s) -> %s", r.Name, strings.Join(sels, ", "), r.Output)
}

// Declares reports whether spec is one of the rule's declared Gets.
func (r *TaskRule) Declares(spec GetSpec) bool {
	for _, g := range r.Gets {
		if g == spec {
			return true
		}
	}
	return false
}

// SingletonRule provides a constant value for its type.
type SingletonRule struct {
	Output intern.TypeID
	Value  any
}

// Singleton creates a SingletonRule for v's dynamic type.
func Singleton(v any) *SingletonRule {
	return &SingletonRule{Output: intern.TypeOfValue(v), Value: v}
}

// ProductType implements Rule.
func (r *SingletonRule) ProductType() intern.TypeID {
	return r.Output
}

// String implements Rule.
func (r *SingletonRule) String() string {
	return fmt.Sprintf("Singleton(%s)", r.Output)
}

// Option tweaks a rule built by Func0, Func1 or Func2.
type Option func(*TaskRule)

// WithGets declares the sub-requests the body may issue.
func WithGets(specs ...GetSpec) Option {
	return func(r *TaskRule) {
		r.Gets = append(r.Gets, specs...)
	}
}

// CycleTolerant marks the rule as allowed on a dependency cycle.
func CycleTolerant() Option {
	return func(r *TaskRule) {
		r.CycleTolerant = true
	}
}

func newTask(name string, output intern.TypeID, selectors []intern.TypeID, body Body, opts []Option) *TaskRule {
	r := &TaskRule{Name: name, Output: output, Selectors: selectors, Body: body}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Func1 declares a rule computing O from one selector of type A.
func Func1[A, O any](name string, fn func(ctx Context, a A) (O, error), opts ...Option) *TaskRule {
	body := func(ctx Context, args []any) (any, error) {
		a, err := cast[A](args[0])
		if err != nil {
			return nil, err
		}
		return fn(ctx, a)
	}
	return newTask(name, intern.TypeOf[O](), []intern.TypeID{intern.TypeOf[A]()}, body, opts)
}

// Func2 declares a rule computing O from selectors of types A and B.
func Func2[A, B, O any](name string, fn func(ctx Context, a A, b B) (O, error), opts ...Option) *TaskRule {
	body := func(ctx Context, args []any) (any, error) {
		a, err := cast[A](args[0])
		if err != nil {
			return nil, err
		}
		b, err := cast[B](args[1])
		if err != nil {
			return nil, err
		}
		return fn(ctx, a, b)
	}
	return newTask(name, intern.TypeOf[O](),
		[]intern.TypeID{intern.TypeOf[A](), intern.TypeOf[B]()}, body, opts)
}

// cast converts a value produced by the engine to T.
func cast[T any](v any) (T, error) {
	t, ok := v.(T)
	if !ok {
		var zero T
		return zero, &TypeMismatchError{Want: intern.TypeOf[T](), Got: intern.TypeOfValue(v)}
	}
	return t, nil
}
