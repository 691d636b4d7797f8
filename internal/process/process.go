package process

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roach88/strata/internal/canonical"
	"github.com/roach88/strata/internal/fs"
)

// CacheScope decides which results the action cache keeps.
type CacheScope string

const (
	// ScopeSuccessful caches only zero exits. It is the default.
	ScopeSuccessful CacheScope = "successful"
	// ScopeAlways caches every completed run, including failures.
	ScopeAlways CacheScope = "always"
	// ScopePerRestart caches in memory for the life of the executor only.
	ScopePerRestart CacheScope = "per_restart"
)

// ParseCacheScope validates a scope name. Empty means successful.
func ParseCacheScope(s string) (CacheScope, error) {
	switch CacheScope(s) {
	case "", ScopeSuccessful:
		return ScopeSuccessful, nil
	case ScopeAlways, ScopePerRestart:
		return CacheScope(s), nil
	}
	return "", fmt.Errorf("unknown cache scope %q (want successful, always or per_restart)", s)
}

// ErrInvalidProcess is wrapped by every Process.Validate failure.
var ErrInvalidProcess = errors.New("invalid process")

// Process describes one command to run in a sandbox.
type Process struct {
	Argv []string
	Env  map[string]string

	// InputDigest is materialized into the sandbox before the command runs.
	InputDigest fs.Digest
	// WorkingDirectory is relative to the sandbox root.
	WorkingDirectory string

	// OutputFiles and OutputDirectories are captured, relative to the
	// sandbox root, into Result.OutputDigest.
	OutputFiles       []string
	OutputDirectories []string

	// Timeout of zero means no timeout.
	Timeout time.Duration

	Description string
	CacheScope  CacheScope
}

// String returns the description, or the argv when there is none.
func (p Process) String() string {
	if p.Description != "" {
		return p.Description
	}
	return strings.Join(p.Argv, " ")
}

// Validate checks the process can run.
func (p Process) Validate() error {
	if len(p.Argv) == 0 || p.Argv[0] == "" {
		return fmt.Errorf("%w: empty argv", ErrInvalidProcess)
	}
	if _, err := fs.CleanRelative(p.WorkingDirectory); err != nil {
		return fmt.Errorf("%w: working directory: %v", ErrInvalidProcess, err)
	}
	for _, out := range slices.Concat(p.OutputFiles, p.OutputDirectories) {
		clean, err := fs.CleanRelative(out)
		if err != nil {
			return fmt.Errorf("%w: output %q: %v", ErrInvalidProcess, out, err)
		}
		if clean == "" {
			return fmt.Errorf("%w: output %q names the sandbox root", ErrInvalidProcess, out)
		}
	}
	if p.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidProcess)
	}
	if _, err := ParseCacheScope(string(p.CacheScope)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProcess, err)
	}
	return nil
}

// Key is the action-cache key: the canonical digest of everything that
// affects the result. Description and CacheScope do not.
func (p Process) Key() ([32]byte, error) {
	env := make(canonical.Object, len(p.Env))
	for k, v := range p.Env {
		env[k] = canonical.String(v)
	}
	files := slices.Sorted(slices.Values(p.OutputFiles))
	dirs := slices.Sorted(slices.Values(p.OutputDirectories))
	input := p.InputDigest
	if input.IsZero() {
		input = fs.EmptyDirectoryDigest
	}
	return canonical.Hash(canonical.DomainAction, canonical.Object{
		"argv":               canonical.Strings(p.Argv),
		"env":                env,
		"input_digest":       canonical.String(input.String()),
		"working_directory":  canonical.String(p.WorkingDirectory),
		"output_files":       canonical.Strings(files),
		"output_directories": canonical.Strings(dirs),
		"timeout_ms":         canonical.Int(p.Timeout.Milliseconds()),
	})
}

// Result is the outcome of a process that ran to completion or timed out.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte

	StdoutDigest fs.Digest
	StderrDigest fs.Digest
	OutputDigest fs.Digest

	Duration time.Duration
	TimedOut bool
	CacheHit bool

	Description string
}

// Check returns *FailedError for a non-zero exit.
func (r Result) Check() error {
	if r.ExitCode == 0 && !r.TimedOut {
		return nil
	}
	return &FailedError{
		Description: r.Description,
		ExitCode:    r.ExitCode,
		TimedOut:    r.TimedOut,
		Stderr:      string(r.Stderr),
	}
}

// FailedError reports a process that exited non-zero.
type FailedError struct {
	Description string
	ExitCode    int
	TimedOut    bool
	Stderr      string
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("process %q timed out", e.Description)
	}
	msg := fmt.Sprintf("process %q failed with exit code %d", e.Description, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ":\n" + stderr
	}
	return msg
}

// IsFailed returns true if err is or wraps a *FailedError.
func IsFailed(err error) bool {
	var fe *FailedError
	return errors.As(err, &fe)
}

// Executor runs processes.
type Executor interface {
	Run(ctx context.Context, p Process) (Result, error)
}
