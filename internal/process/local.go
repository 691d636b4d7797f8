package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/store"
)

// LocalOption configures a LocalExecutor.
type LocalOption func(*LocalExecutor)

// WithConcurrency bounds how many processes run at once. Default
// runtime.GOMAXPROCS(0).
func WithConcurrency(n int) LocalOption {
	return func(e *LocalExecutor) {
		if n > 0 {
			e.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithSandboxRoot creates sandboxes under dir instead of os.TempDir().
func WithSandboxRoot(dir string) LocalOption {
	return func(e *LocalExecutor) {
		e.sandboxRoot = dir
	}
}

// WithKeepSandboxes leaves sandbox directories on disk for debugging.
func WithKeepSandboxes() LocalOption {
	return func(e *LocalExecutor) {
		e.keepSandboxes = true
	}
}

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l *slog.Logger) LocalOption {
	return func(e *LocalExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// LocalExecutor runs processes on this machine, each in a fresh sandbox
// directory holding only its input tree.
//
// The environment is hermetic: the child sees exactly Process.Env.
type LocalExecutor struct {
	store         *store.Store
	sem           *semaphore.Weighted
	sandboxRoot   string
	keepSandboxes bool
	logger        *slog.Logger
}

// NewLocalExecutor creates an executor that reads inputs from and writes
// outputs to st.
func NewLocalExecutor(st *store.Store, opts ...LocalOption) *LocalExecutor {
	e := &LocalExecutor{
		store:  st,
		sem:    semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run implements Executor.
func (e *LocalExecutor) Run(ctx context.Context, p Process) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer e.sem.Release(1)

	sandbox, err := os.MkdirTemp(e.sandboxRoot, "strata-process-")
	if err != nil {
		return Result{}, fmt.Errorf("create sandbox: %w", err)
	}
	if e.keepSandboxes {
		e.logger.Info("keeping sandbox", "process", p.String(), "dir", sandbox)
	} else {
		defer os.RemoveAll(sandbox)
	}

	if err := e.prepare(ctx, sandbox, p); err != nil {
		return Result{}, err
	}

	res, err := e.exec(ctx, sandbox, p)
	if err != nil {
		return Result{}, err
	}

	if res.StdoutDigest, err = e.store.StoreFileBytes(ctx, res.Stdout); err != nil {
		return Result{}, err
	}
	if res.StderrDigest, err = e.store.StoreFileBytes(ctx, res.Stderr); err != nil {
		return Result{}, err
	}
	if res.OutputDigest, err = e.captureOutputs(ctx, sandbox, p); err != nil {
		return Result{}, err
	}
	return res, nil
}

// prepare materializes the input tree and creates the parents of every
// declared output so the command can write them.
func (e *LocalExecutor) prepare(ctx context.Context, sandbox string, p Process) error {
	if !p.InputDigest.IsZero() {
		if err := e.store.MaterializeDirectory(ctx, sandbox, p.InputDigest); err != nil {
			return fmt.Errorf("materialize input: %w", err)
		}
	}
	dirs := []string{p.WorkingDirectory}
	for _, f := range p.OutputFiles {
		dirs = append(dirs, filepath.Dir(filepath.FromSlash(f)))
	}
	dirs = append(dirs, p.OutputDirectories...)
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(sandbox, filepath.FromSlash(d)), 0o755); err != nil {
			return fmt.Errorf("prepare sandbox: %w", err)
		}
	}
	return nil
}

func (e *LocalExecutor) exec(ctx context.Context, sandbox string, p Process) (Result, error) {
	runCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	argv0 := p.Argv[0]
	if !filepath.IsAbs(argv0) && filepath.Base(argv0) != argv0 {
		// relative paths such as ./build.sh resolve inside the sandbox
		argv0 = filepath.Join(sandbox, filepath.FromSlash(p.WorkingDirectory), argv0)
	}
	cmd := exec.CommandContext(runCtx, argv0, p.Argv[1:]...)
	cmd.Dir = filepath.Join(sandbox, filepath.FromSlash(p.WorkingDirectory))
	cmd.Env = hermeticEnv(p.Env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:      stdout.Bytes(),
		Stderr:      stderr.Bytes(),
		Duration:    time.Since(start),
		Description: p.String(),
	}

	var exitErr *exec.ExitError
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.ExitCode = -1
		res.TimedOut = true
	case ctx.Err() != nil:
		return Result{}, ctx.Err()
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return Result{}, fmt.Errorf("run %s: %w", p.String(), err)
	}

	e.logger.Debug("process finished",
		"process", p.String(),
		"exit_code", res.ExitCode,
		"duration", res.Duration,
	)
	return res, nil
}

func (e *LocalExecutor) captureOutputs(ctx context.Context, sandbox string, p Process) (fs.Digest, error) {
	if len(p.OutputFiles) == 0 && len(p.OutputDirectories) == 0 {
		return fs.EmptyDirectoryDigest, nil
	}
	globs := fs.PathGlobs{
		Include:     slices.Clone(p.OutputFiles),
		MatchPolicy: fs.PolicyIgnore,
		Description: "outputs of " + p.String(),
	}
	for _, d := range p.OutputDirectories {
		globs.Include = append(globs.Include, d+"/**")
	}
	pfs, err := fs.NewPosixFS(sandbox)
	if err != nil {
		return fs.Digest{}, err
	}
	snap, err := e.store.Capture(ctx, e.store.DiskSource(pfs), globs)
	if err != nil {
		return fs.Digest{}, fmt.Errorf("capture outputs: %w", err)
	}
	return snap.Digest, nil
}

func hermeticEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)
	return out
}
