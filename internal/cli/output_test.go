package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/config"
	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/store"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Success(MaterializeOutput{Digest: fs.EmptyDirectoryDigest, Dest: "out"})
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   MaterializeOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, fs.EmptyDirectoryDigest, resp.Data.Digest)
	assert.Equal(t, "out", resp.Data.Dest)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	err := formatter.Error(ErrCodeMissing, "missing digest", map[string]string{"digest": "x"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMissing, resp.Error.Code)
	assert.Equal(t, "missing digest", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextUsesTexter(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(CatOutput{Content: []byte("raw bytes")}))
	assert.Equal(t, "raw bytes", buf.String())
}

func TestOutputFormatter_TextFallsBackToPrintln(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success(fs.EmptyFileDigest))
	assert.Equal(t, fs.EmptyFileDigest.String()+"\n", buf.String())
}

func TestOutputFormatter_TextErrorGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: out, ErrWriter: errOut, Verbose: true}

	require.NoError(t, formatter.Error(ErrCodeGeneric, "boom", "ctx"))
	assert.Empty(t, out.String())
	assert.Contains(t, errOut.String(), "Error [E001]: boom")
	assert.Contains(t, errOut.String(), "Details: ctx")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	execErr := &engine.ExecutionError{Throws: []error{errors.New("one"), errors.New("two")}}
	err := formatter.Fail(ExitFailure, "capture failed", execErr)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, ErrCodeExecution, resp.Error.Code)
	assert.Equal(t, []any{"one", "two"}, resp.Error.Details)
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: tt.verbose}

			formatter.VerboseLog("captured %d files", 3)

			if tt.wantLog {
				assert.Contains(t, buf.String(), "captured 3 files")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&config.Error{Path: "x", Err: errors.New("bad")}, ErrCodeConfig},
		{fmt.Errorf("load: %w", store.ErrMissingDigest), ErrCodeMissing},
		{&store.MergeConflictError{Path: "a"}, ErrCodeConflict},
		{&store.OverlapError{First: "a", Second: "a/b"}, ErrCodeConflict},
		{&engine.ExecutionError{Throws: []error{&fs.GlobMatchError{}}}, ErrCodeGlobMismatch},
		{&engine.ExecutionError{Throws: []error{errors.New("x")}}, ErrCodeExecution},
		{errors.New("other"), ErrCodeGeneric},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorCode(tt.err), "%v", tt.err)
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad args")))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "inner", errors.New("cause")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}
