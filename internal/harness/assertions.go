package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Step, event.Op)
			if event.As != "" {
				fmt.Fprintf(&buf, " as %s", event.As)
			}
			switch {
			case event.Error != "":
				fmt.Fprintf(&buf, " error=%s", event.Error)
			case event.Digest != "":
				fmt.Fprintf(&buf, " digest=%s", event.Digest)
			}
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// evaluate dispatches one assertion.
func (h *Harness) evaluate(a Assertion, result *Result) error {
	switch a.Type {
	case AssertSnapshotFiles:
		return h.assertSnapshotFiles(a, result.Trace)
	case AssertSameDigest:
		return h.assertDigests(a, result.Trace, true)
	case AssertDifferentDigest:
		return h.assertDigests(a, result.Trace, false)
	case AssertCountEquals:
		return h.assertCountEquals(a, result.Trace)
	case AssertRuleRuns:
		return assertRuleRuns(a, result)
	case AssertThrows:
		return h.assertThrows(a, result.Trace)
	case AssertFileContent:
		return h.assertFileContent(a, result.Trace)
	}
	return fmt.Errorf("unknown assertion type: %s", a.Type)
}

func (h *Harness) assertSnapshotFiles(a Assertion, trace []TraceEvent) error {
	res, err := h.lookup(a.Ref)
	if err != nil {
		return &AssertionError{
			Type:     AssertSnapshotFiles,
			Expected: fmt.Sprintf("%s to produce files %v", a.Ref, a.Files),
			Actual:   err.Error(),
			Trace:    trace,
		}
	}
	want := slices.Clone(a.Files)
	slices.Sort(want)
	if !slices.Equal(want, res.files) {
		return &AssertionError{
			Type:     AssertSnapshotFiles,
			Expected: fmt.Sprintf("%s files %v", a.Ref, want),
			Actual:   fmt.Sprintf("%v", res.files),
			Trace:    trace,
		}
	}
	return nil
}

// assertDigests checks every ref has the same digest (same) or that no two
// refs share one (!same).
func (h *Harness) assertDigests(a Assertion, trace []TraceEvent, same bool) error {
	kind := AssertDifferentDigest
	if same {
		kind = AssertSameDigest
	}

	seen := make(map[string]string, len(a.Refs))
	var first string
	for i, ref := range a.Refs {
		res, err := h.lookup(ref)
		if err != nil {
			return &AssertionError{Type: kind, Expected: fmt.Sprintf("%s to produce a digest", ref), Actual: err.Error(), Trace: trace}
		}
		d := res.digest.String()
		if same {
			if i == 0 {
				first = d
			} else if d != first {
				return &AssertionError{
					Type:     kind,
					Expected: fmt.Sprintf("%s and %s to share a digest", a.Refs[0], ref),
					Actual:   fmt.Sprintf("%s != %s", first, d),
					Trace:    trace,
				}
			}
			continue
		}
		if prev, ok := seen[d]; ok {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s and %s to differ", prev, ref),
				Actual:   fmt.Sprintf("both are %s", d),
				Trace:    trace,
			}
		}
		seen[d] = ref
	}
	return nil
}

func (h *Harness) assertCountEquals(a Assertion, trace []TraceEvent) error {
	res, err := h.lookup(a.Ref)
	if err != nil {
		return &AssertionError{Type: AssertCountEquals, Expected: fmt.Sprintf("%s = %d", a.Ref, a.Count), Actual: err.Error(), Trace: trace}
	}
	if res.count != a.Count {
		return &AssertionError{
			Type:     AssertCountEquals,
			Expected: fmt.Sprintf("%s = %d", a.Ref, a.Count),
			Actual:   fmt.Sprintf("%d", res.count),
			Trace:    trace,
		}
	}
	return nil
}

func assertRuleRuns(a Assertion, result *Result) error {
	if got := result.Runs[a.Rule]; got != a.Count {
		return &AssertionError{
			Type:     AssertRuleRuns,
			Expected: fmt.Sprintf("rule %s to run %d time(s)", a.Rule, a.Count),
			Actual:   fmt.Sprintf("ran %d time(s)", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

func (h *Harness) assertThrows(a Assertion, trace []TraceEvent) error {
	res, ok := h.named[a.Ref]
	switch {
	case !ok:
		return &AssertionError{Type: AssertThrows, Expected: fmt.Sprintf("%s to fail with %s", a.Ref, a.Code), Actual: "no such step", Trace: trace}
	case res.err == nil:
		return &AssertionError{Type: AssertThrows, Expected: fmt.Sprintf("%s to fail with %s", a.Ref, a.Code), Actual: "succeeded", Trace: trace}
	case res.code != a.Code:
		return &AssertionError{
			Type:     AssertThrows,
			Expected: fmt.Sprintf("%s to fail with %s", a.Ref, a.Code),
			Actual:   fmt.Sprintf("failed with %s: %v", res.code, res.err),
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertFileContent(a Assertion, trace []TraceEvent) error {
	data, err := os.ReadFile(filepath.Join(h.out, filepath.FromSlash(a.Path)))
	if err != nil {
		return &AssertionError{Type: AssertFileContent, Expected: fmt.Sprintf("%s = %q", a.Path, a.Content), Actual: err.Error(), Trace: trace}
	}
	if string(data) != a.Content {
		return &AssertionError{
			Type:     AssertFileContent,
			Expected: fmt.Sprintf("%s = %q", a.Path, a.Content),
			Actual:   fmt.Sprintf("%q", data),
			Trace:    trace,
		}
	}
	return nil
}
