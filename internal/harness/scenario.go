package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines a filesystem scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Files seeds the build root: slash paths to content.
	Files map[string]string `yaml:"files,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions"`

	// RunID is the fixed scheduler run id. Defaults to the scenario name.
	RunID string `yaml:"run_id,omitempty"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op string `yaml:"op"`

	// As names the step's result for later steps and assertions.
	As string `yaml:"as,omitempty"`

	// Globs are include patterns, "!"-prefixed for excludes
	// (capture, count, subset).
	Globs []string `yaml:"globs,omitempty"`

	// Policy is the glob match policy (capture).
	Policy string `yaml:"policy,omitempty"`

	// Files are written into the build root (write).
	Files map[string]string `yaml:"files,omitempty"`

	// Paths are removed or invalidated (remove, invalidate).
	Paths []string `yaml:"paths,omitempty"`

	// Refs name earlier results (merge).
	Refs []string `yaml:"refs,omitempty"`

	// Ref names an earlier result (subset, add_prefix, remove_prefix,
	// materialize).
	Ref string `yaml:"ref,omitempty"`

	// Prefix is the directory added or removed (add_prefix, remove_prefix).
	Prefix string `yaml:"prefix,omitempty"`

	// Dest is relative to the output directory (materialize).
	Dest string `yaml:"dest,omitempty"`
}

// Step operations.
const (
	OpWrite         = "write"
	OpRemove        = "remove"
	OpInvalidate    = "invalidate"
	OpInvalidateAll = "invalidate_all"
	OpCapture       = "capture"
	OpCount         = "count"
	OpMerge         = "merge"
	OpSubset        = "subset"
	OpAddPrefix     = "add_prefix"
	OpRemovePrefix  = "remove_prefix"
	OpMaterialize   = "materialize"
)

// Assertion validates the outcome of a scenario.
type Assertion struct {
	// Type selects the check; see the Assert* constants.
	Type string `yaml:"type"`

	// Ref names one step result (snapshot_files, count_equals, throws).
	Ref string `yaml:"ref,omitempty"`

	// Refs names several step results (same_digest, different_digest).
	Refs []string `yaml:"refs,omitempty"`

	// Files is the exact expected file list (snapshot_files).
	Files []string `yaml:"files,omitempty"`

	// Rule is a counted rule name (rule_runs).
	Rule string `yaml:"rule,omitempty"`

	// Count is the expected number (count_equals, rule_runs).
	Count int `yaml:"count,omitempty"`

	// Code is the expected error code (throws).
	Code string `yaml:"code,omitempty"`

	// Path is relative to the output directory (file_content).
	Path string `yaml:"path,omitempty"`

	// Content is the expected file content (file_content).
	Content string `yaml:"content,omitempty"`
}

// Assertion type constants.
const (
	AssertSnapshotFiles   = "snapshot_files"
	AssertSameDigest      = "same_digest"
	AssertDifferentDigest = "different_digest"
	AssertCountEquals     = "count_equals"
	AssertRuleRuns        = "rule_runs"
	AssertThrows          = "throws"
	AssertFileContent     = "file_content"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks required fields and that every reference names an
// earlier step.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	named := make(map[string]bool)
	for i, step := range s.Steps {
		if err := validateStep(i, &step, named); err != nil {
			return err
		}
		if step.As != "" {
			if named[step.As] {
				return fmt.Errorf("steps[%d]: duplicate name %q", i, step.As)
			}
			named[step.As] = true
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a, named); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step, named map[string]bool) error {
	ref := func(name string) error {
		if !named[name] {
			return fmt.Errorf("steps[%d]: %q does not name an earlier step", i, name)
		}
		return nil
	}

	switch step.Op {
	case OpWrite:
		if len(step.Files) == 0 {
			return fmt.Errorf("steps[%d]: files is required for write", i)
		}
	case OpRemove, OpInvalidate:
		if len(step.Paths) == 0 {
			return fmt.Errorf("steps[%d]: paths is required for %s", i, step.Op)
		}
	case OpInvalidateAll:
	case OpCapture, OpCount:
		if len(step.Globs) == 0 {
			return fmt.Errorf("steps[%d]: globs is required for %s", i, step.Op)
		}
	case OpMerge:
		if len(step.Refs) == 0 {
			return fmt.Errorf("steps[%d]: refs is required for merge", i)
		}
		for _, r := range step.Refs {
			if err := ref(r); err != nil {
				return err
			}
		}
	case OpSubset:
		if len(step.Globs) == 0 {
			return fmt.Errorf("steps[%d]: globs is required for subset", i)
		}
		return ref(step.Ref)
	case OpAddPrefix, OpRemovePrefix:
		if step.Prefix == "" {
			return fmt.Errorf("steps[%d]: prefix is required for %s", i, step.Op)
		}
		return ref(step.Ref)
	case OpMaterialize:
		if step.Dest == "" {
			return fmt.Errorf("steps[%d]: dest is required for materialize", i)
		}
		return ref(step.Ref)
	case "":
		return fmt.Errorf("steps[%d]: op is required", i)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
	}
	return nil
}

func validateAssertion(i int, a *Assertion, named map[string]bool) error {
	ref := func(name string) error {
		if !named[name] {
			return fmt.Errorf("assertions[%d]: %q does not name a step", i, name)
		}
		return nil
	}

	switch a.Type {
	case AssertSnapshotFiles, AssertCountEquals:
		return ref(a.Ref)
	case AssertThrows:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for throws", i)
		}
		return ref(a.Ref)
	case AssertSameDigest, AssertDifferentDigest:
		if len(a.Refs) < 2 {
			return fmt.Errorf("assertions[%d]: at least two refs are required for %s", i, a.Type)
		}
		for _, r := range a.Refs {
			if err := ref(r); err != nil {
				return err
			}
		}
	case AssertRuleRuns:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for rule_runs", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for rule_runs", i)
		}
	case AssertFileContent:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for file_content", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}
