package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/engine"
	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/store"
)

// parseDigests parses <hex>/<size> arguments.
func parseDigests(out *OutputFormatter, args []string) ([]fs.Digest, error) {
	digests := make([]fs.Digest, len(args))
	for i, a := range args {
		d, err := fs.ParseDigest(a)
		if err != nil {
			if outErr := out.Error(ErrCodeArgs, err.Error(), nil); outErr != nil {
				return nil, outErr
			}
			return nil, WrapExitError(ExitCommandError, "invalid digest", err)
		}
		digests[i] = d
	}
	return digests, nil
}

// execOne runs a single root through the scheduler.
func execOne(cmd *cobra.Command, e *env, subject any, product intern.TypeID) (any, error) {
	results, err := e.sched.Execute(commandContext(cmd), engine.NewExecutionRequest().Add(subject, product))
	if err != nil {
		return nil, err
	}
	return results[0].Value, nil
}

// CatOutput is a file's content.
type CatOutput struct {
	Digest  fs.Digest `json:"digest"`
	Content []byte    `json:"content"`
}

// Text writes the raw bytes.
func (c CatOutput) Text(w io.Writer) error {
	_, err := w.Write(c.Content)
	return err
}

// NewCatCommand creates the cat command.
func NewCatCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <digest>",
		Short: "Print the bytes of a stored file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(cmd, "")
			if err != nil {
				return err
			}
			defer e.close(rootOpts)

			ds, err := parseDigests(e.out, args)
			if err != nil {
				return err
			}
			data, err := e.store.LoadFileBytes(commandContext(cmd), ds[0])
			if err != nil {
				return e.out.Fail(ExitFailure, "failed to load file", err)
			}
			return e.out.Success(CatOutput{Digest: ds[0], Content: data})
		},
	}
}

// LsEntry is one flattened member of a directory digest.
type LsEntry struct {
	Kind       fs.EntryKind `json:"kind"`
	Path       string       `json:"path"`
	Digest     *fs.Digest   `json:"digest,omitempty"`
	Executable bool         `json:"executable,omitempty"`
	Target     string       `json:"target,omitempty"`
}

// LsOutput lists a directory digest.
type LsOutput struct {
	Digest  fs.Digest `json:"digest"`
	Entries []LsEntry `json:"entries"`
}

// Text prints one entry per line.
func (l LsOutput) Text(w io.Writer) error {
	for _, e := range l.Entries {
		var err error
		switch e.Kind {
		case fs.EntryFile:
			mode := "-"
			if e.Executable {
				mode = "x"
			}
			_, err = fmt.Fprintf(w, "file    %s %s %s\n", mode, e.Digest, e.Path)
		case fs.EntrySymlink:
			_, err = fmt.Fprintf(w, "symlink %s -> %s\n", e.Path, e.Target)
		default:
			_, err = fmt.Fprintf(w, "dir     %s/\n", e.Path)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// NewLsCommand creates the ls command.
func NewLsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls <digest>",
		Short: "List the entries of a stored directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(cmd, "")
			if err != nil {
				return err
			}
			defer e.close(rootOpts)

			ds, err := parseDigests(e.out, args)
			if err != nil {
				return err
			}
			v, err := execOne(cmd, e, ds[0], intern.TypeOf[fs.DigestEntries]())
			if err != nil {
				return e.out.Fail(ExitFailure, "failed to list directory", err)
			}
			out := LsOutput{Digest: ds[0], Entries: []LsEntry{}}
			for _, ent := range v.(fs.DigestEntries) {
				le := LsEntry{Kind: ent.Kind, Path: ent.Path, Executable: ent.Executable, Target: ent.Target}
				if ent.Kind == fs.EntryFile {
					d := ent.Digest
					le.Digest = &d
				}
				out.Entries = append(out.Entries, le)
			}
			return e.out.Success(out)
		},
	}
}

// NewMergeCommand creates the merge command.
func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <digest>...",
		Short: "Merge stored directories into one",
		Long: `Merge directory digests into a single tree and print its digest.

Identical entries at the same path merge cleanly; differing files at one
path are a conflict.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(cmd, "")
			if err != nil {
				return err
			}
			defer e.close(rootOpts)

			ds, err := parseDigests(e.out, args)
			if err != nil {
				return err
			}
			v, err := execOne(cmd, e, fs.MergeDigests{Digests: ds}, intern.TypeOf[fs.Digest]())
			if err != nil {
				return e.out.Fail(ExitFailure, "merge failed", err)
			}
			return e.out.Success(v.(fs.Digest))
		},
	}
}

// MaterializeOutput reports a written tree.
type MaterializeOutput struct {
	Digest fs.Digest `json:"digest"`
	Dest   string    `json:"dest"`
}

// Text prints a one-line summary.
func (m MaterializeOutput) Text(w io.Writer) error {
	_, err := fmt.Fprintf(w, "materialized %s to %s\n", m.Digest, m.Dest)
	return err
}

// NewMaterializeCommand creates the materialize command.
func NewMaterializeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "materialize <digest> <dest>",
		Short: "Write a stored directory to disk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := rootOpts.openEnv(cmd, "")
			if err != nil {
				return err
			}
			defer e.close(rootOpts)

			ds, err := parseDigests(e.out, args[:1])
			if err != nil {
				return err
			}
			reqs := []store.MaterializeRequest{{Dest: args[1], Digest: ds[0]}}
			if err := e.sched.MaterializeDirectories(commandContext(cmd), reqs); err != nil {
				return e.out.Fail(ExitFailure, "materialize failed", err)
			}
			return e.out.Success(MaterializeOutput{Digest: ds[0], Dest: args[1]})
		},
	}
}
