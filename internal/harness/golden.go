package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/strata/internal/canonical"
)

// TraceSnapshot captures the complete trace for a scenario execution.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot for canonical JSON serialization.
// Empty event fields are omitted.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"step": event.Step,
			"op":   event.Op,
		}
		if event.As != "" {
			eventMap["as"] = event.As
		}
		if event.Digest != "" {
			eventMap["digest"] = event.Digest
		}
		if event.Files != nil {
			eventMap["files"] = event.Files
		}
		if len(event.Paths) > 0 {
			eventMap["paths"] = event.Paths
		}
		if event.Count != nil {
			eventMap["count"] = *event.Count
		}
		if event.Invalidated != nil {
			eventMap["invalidated"] = *event.Invalidated
		}
		if event.Error != "" {
			eventMap["error"] = event.Error
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario": s.ScenarioName,
		"trace":    traceList,
	}
}

// MarshalTrace renders a result's trace as canonical JSON.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return canonical.Marshal(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass separately.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
