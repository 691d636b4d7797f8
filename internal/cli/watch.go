package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/watch"
)

// WatchEvent is one line of watch output.
type WatchEvent struct {
	Paths       []string   `json:"paths,omitempty"`
	All         bool       `json:"all,omitempty"`
	Invalidated int        `json:"invalidated"`
	Digest      *fs.Digest `json:"digest,omitempty"`
}

func (w WatchEvent) String() string {
	s := fmt.Sprintf("invalidated %d nodes for %d paths", w.Invalidated, len(w.Paths))
	if w.All {
		s = fmt.Sprintf("invalidated %d nodes (full)", w.Invalidated)
	}
	if w.Digest != nil {
		s += " -> " + w.Digest.String()
	}
	return s
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <root> [glob...]",
		Short: "Watch a build root and report invalidations",
		Long: `Watch <root> for changes and print each invalidation batch until
interrupted.

With globs, the matching snapshot is captured up front and recomputed after
every batch; its digest is printed alongside the batch.

Example:
  strata watch . 'src/**'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(rootOpts, cmd, args[0], args[1:])
		},
	}
}

func runWatch(opts *RootOptions, cmd *cobra.Command, root string, patterns []string) error {
	e, err := opts.openEnv(cmd, root)
	if err != nil {
		return err
	}
	defer e.close(opts)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	capture := func() (*fs.Digest, error) {
		if len(patterns) == 0 {
			return nil, nil
		}
		globs := fs.NewPathGlobs(patterns...)
		v, err := execOne(cmd, e, globs, intern.TypeOf[fs.Digest]())
		if err != nil {
			return nil, err
		}
		d := v.(fs.Digest)
		return &d, nil
	}
	if _, err := capture(); err != nil {
		return e.out.Fail(ExitFailure, "initial capture failed", err)
	}

	batches := make(chan watch.Batch, 16)
	w, err := watch.New(e.cfg.BuildRoot, e.sched, e.cfg.Watch.Ignore,
		watch.WithDebounce(e.cfg.Watch.Debounce),
		watch.WithLogger(opts.logger()),
		watch.WithBatchHook(func(b watch.Batch) { batches <- b }),
	)
	if err != nil {
		return e.out.Fail(ExitCommandError, "failed to start watcher", err)
	}
	e.out.VerboseLog("watching %s (%d directories)", w.Root(), len(w.WatchList()))

	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx)
		close(batches)
	}()

	for b := range batches {
		ev := WatchEvent{Paths: b.Paths, All: b.All, Invalidated: b.Invalidated}
		d, err := capture()
		if err != nil {
			opts.logger().Warn("capture failed", "error", err)
		}
		ev.Digest = d
		if err := e.out.Success(ev); err != nil {
			return err
		}
	}
	if err := <-done; err != nil && err != context.Canceled {
		return e.out.Fail(ExitFailure, "watcher failed", err)
	}
	return nil
}
