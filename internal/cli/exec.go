package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/process"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Input       string
	Env         []string
	WorkDir     string
	OutputFiles []string
	OutputDirs  []string
	Description string
}

// ExecOutput is the result of a process run.
type ExecOutput struct {
	ExitCode     int       `json:"exit_code"`
	TimedOut     bool      `json:"timed_out,omitempty"`
	CacheHit     bool      `json:"cache_hit"`
	Stdout       string    `json:"stdout"`
	Stderr       string    `json:"stderr"`
	OutputDigest fs.Digest `json:"output_digest"`
}

// Text prints stdout followed by a summary line.
func (x ExecOutput) Text(w io.Writer) error {
	if _, err := io.WriteString(w, x.Stdout); err != nil {
		return err
	}
	cached := ""
	if x.CacheHit {
		cached = " (cached)"
	}
	_, err := fmt.Fprintf(w, "exit %d, outputs %s%s\n", x.ExitCode, x.OutputDigest, cached)
	return err
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec [flags] -- <argv>...",
		Short: "Run a process in a sandbox over a stored input tree",
		Long: `Run a command in a fresh sandbox holding only the --input tree, with
exactly the --env environment. Declared outputs are captured into the store.

Results are cached by the full process description; the timeout and cache
scope come from the config.

Example:
  strata exec --input <digest> --output-file out.txt -- /bin/sh -c 'wc -l in.txt > out.txt'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Input, "input", "", "input directory digest")
	cmd.Flags().StringArrayVar(&opts.Env, "env", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "working directory relative to the sandbox")
	cmd.Flags().StringArrayVar(&opts.OutputFiles, "output-file", nil, "file to capture (repeatable)")
	cmd.Flags().StringArrayVar(&opts.OutputDirs, "output-dir", nil, "directory to capture (repeatable)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "human-readable description")

	return cmd
}

func runExec(opts *ExecOptions, cmd *cobra.Command, argv []string) error {
	e, err := opts.openEnv(cmd, "")
	if err != nil {
		return err
	}
	defer e.close(opts.RootOptions)

	p := process.Process{
		Argv:              argv,
		Env:               map[string]string{},
		WorkingDirectory:  opts.WorkDir,
		OutputFiles:       opts.OutputFiles,
		OutputDirectories: opts.OutputDirs,
		Timeout:           e.cfg.Process.Timeout,
		Description:       opts.Description,
		CacheScope:        e.cfg.Process.CacheScope,
	}
	if opts.Input != "" {
		ds, err := parseDigests(e.out, []string{opts.Input})
		if err != nil {
			return err
		}
		p.InputDigest = ds[0]
	}
	for _, kv := range opts.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return e.out.Fail(ExitCommandError, "invalid --env", fmt.Errorf("want KEY=VALUE, got %q", kv))
		}
		p.Env[k] = v
	}
	if err := p.Validate(); err != nil {
		return e.out.Fail(ExitCommandError, "invalid process", err)
	}

	v, err := execOne(cmd, e, p, intern.TypeOf[process.Result]())
	if err != nil {
		return e.out.Fail(ExitFailure, "process could not run", err)
	}
	res := v.(process.Result)
	if err := e.out.Success(ExecOutput{
		ExitCode:     res.ExitCode,
		TimedOut:     res.TimedOut,
		CacheHit:     res.CacheHit,
		Stdout:       string(res.Stdout),
		Stderr:       string(res.Stderr),
		OutputDigest: res.OutputDigest,
	}); err != nil {
		return err
	}
	if err := res.Check(); err != nil {
		return WrapExitError(ExitFailure, "process failed", err)
	}
	return nil
}
