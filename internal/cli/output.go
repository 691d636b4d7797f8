package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/strata/internal/config"
	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/rules"
	"github.com/roach88/strata/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The requested work failed (a throw, a merge conflict, a non-zero process)
	ExitCommandError = 2 // Command error (bad arguments, unreadable config, unopenable store)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric      = "E001" // Generic/unknown error
	ErrCodeConfig       = "E002" // Invalid or unreadable configuration
	ErrCodeArgs         = "E003" // Malformed argument (digest, glob)
	ErrCodeMissing      = "E004" // Digest not present in the store
	ErrCodeExecution    = "E005" // One or more roots threw
	ErrCodeConflict     = "E006" // Merge conflict or overlapping destinations
	ErrCodeRuleGraph    = "E007" // Rule graph failed validation
	ErrCodeGlobMismatch = "E008" // Globs matched nothing under the error policy
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode classifies err for CLIError.Code.
func ErrorCode(err error) string {
	var (
		cfgErr     *config.Error
		execErr    *engine.ExecutionError
		mergeErr   *store.MergeConflictError
		overlapErr *store.OverlapError
		validErr   *rules.ValidationError
		globErr    *fs.GlobMatchError
	)
	switch {
	case errors.As(err, &cfgErr):
		return ErrCodeConfig
	case errors.As(err, &globErr):
		return ErrCodeGlobMismatch
	case errors.Is(err, store.ErrMissingDigest):
		return ErrCodeMissing
	case errors.As(err, &mergeErr), errors.As(err, &overlapErr):
		return ErrCodeConflict
	case errors.As(err, &validErr):
		return ErrCodeRuleGraph
	case errors.As(err, &execErr):
		return ErrCodeExecution
	}
	return ErrCodeGeneric
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Texter renders a payload for text output. Payloads without it are
// printed with fmt.Println.
type Texter interface {
	Text(w io.Writer) error
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	if t, ok := data.(Texter); ok {
		return t.Text(f.Writer)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.GetErrWriter(), "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.GetErrWriter(), "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns it wrapped with exitCode, so RunE can
// `return f.Fail(...)`.
func (f *OutputFormatter) Fail(exitCode int, message string, err error) error {
	var details any
	var execErr *engine.ExecutionError
	if errors.As(err, &execErr) {
		msgs := make([]string, len(execErr.Throws))
		for i, t := range execErr.Throws {
			msgs[i] = t.Error()
		}
		details = msgs
	}
	if outErr := f.Error(ErrorCode(err), fmt.Sprintf("%s: %v", message, err), details); outErr != nil {
		return outErr
	}
	return WrapExitError(exitCode, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
