package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/intern"
)

// SnapshotOptions holds flags for the snapshot command.
type SnapshotOptions struct {
	*RootOptions
	Policy string
}

// SnapshotOutput is the result of a capture.
type SnapshotOutput struct {
	Digest fs.Digest `json:"digest"`
	Files  []string  `json:"files"`
	Dirs   []string  `json:"dirs"`
}

// Text prints the digest, then one file per line.
func (s SnapshotOutput) Text(w io.Writer) error {
	if _, err := fmt.Fprintln(w, s.Digest); err != nil {
		return err
	}
	for _, f := range s.Files {
		if _, err := fmt.Fprintf(w, "  %s\n", f); err != nil {
			return err
		}
	}
	return nil
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot <root> <glob>...",
		Short: "Capture files matching globs into the store",
		Long: `Capture the files under <root> matching the globs and print the
resulting directory digest and file list.

Globs use ** for any number of directories and a leading ! to exclude.

Example:
  strata snapshot . 'src/**/*.go' '!**/*_test.go'`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(opts, cmd, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&opts.Policy, "policy", "", "glob match policy (ignore|warn|error); defaults to the config")

	return cmd
}

func runSnapshot(opts *SnapshotOptions, cmd *cobra.Command, root string, patterns []string) error {
	e, err := opts.openEnv(cmd, root)
	if err != nil {
		return err
	}
	defer e.close(opts.RootOptions)

	globs := fs.NewPathGlobs(patterns...)
	globs.MatchPolicy = e.cfg.Globs.MatchPolicy
	if opts.Policy != "" {
		if globs.MatchPolicy, err = fs.ParseGlobMatchPolicy(opts.Policy); err != nil {
			return e.out.Fail(ExitCommandError, "invalid --policy", err)
		}
	}
	if err := globs.Validate(); err != nil {
		return e.out.Fail(ExitCommandError, "invalid globs", err)
	}

	req := engine.NewExecutionRequest().Add(globs, intern.TypeOf[fs.Snapshot]())
	results, err := e.sched.Execute(commandContext(cmd), req)
	if err != nil {
		return e.out.Fail(ExitFailure, "capture failed", err)
	}
	snap := results[0].Value.(fs.Snapshot)
	e.out.VerboseLog("captured %d files in %d directories", len(snap.Files), len(snap.Dirs))
	return e.out.Success(SnapshotOutput{Digest: snap.Digest, Files: snap.Files, Dirs: snap.Dirs})
}
