package engine

import (
	"context"

	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/graph"
	"github.com/roach88/strata/internal/store"
)

// InvalidateFiles invalidates the filesystem nodes that read any of paths,
// anything below them, or their immediate parent directories, and dirties
// everything that depended on them. Invalidating a directory therefore
// re-reads every file under it.
// Paths are relative to the build root; absolute paths under the root are
// accepted. Returns the number of nodes cleared or dirtied.
func (s *Scheduler) InvalidateFiles(paths []string) int {
	changed := make(map[string]bool, len(paths))
	parents := make(map[string]bool, len(paths))
	for _, p := range paths {
		rel, err := s.posix.Rel(p)
		if err != nil {
			s.logger.Warn("ignoring path outside build root", "path", p, "error", err)
			continue
		}
		changed[rel] = true
		// creating or deleting rel changes its parent's listing
		if ps := fs.Parents(rel); len(ps) > 0 {
			parents[ps[0]] = true
		}
	}
	if len(changed) == 0 {
		return 0
	}

	res := s.graph.InvalidateFrom(func(n graph.Node) bool {
		f, ok := n.(FSNode)
		if !ok {
			return false
		}
		p := f.FSPath()
		if changed[p] || parents[p] {
			return true
		}
		for _, dir := range fs.Parents(p) {
			if changed[dir] {
				return true
			}
		}
		return false
	})
	s.metrics.Invalidated(res.Cleared, res.Dirtied)
	s.logger.Debug("invalidated files",
		"paths", len(paths),
		"cleared", res.Cleared,
		"dirtied", res.Dirtied,
	)
	return res.Total()
}

// InvalidateAll invalidates every filesystem node. Watchers call it when
// they may have missed events.
func (s *Scheduler) InvalidateAll() int {
	res := s.graph.InvalidateFrom(func(n graph.Node) bool {
		_, ok := n.(FSNode)
		return ok
	})
	s.metrics.Invalidated(res.Cleared, res.Dirtied)
	s.logger.Info("invalidated all filesystem nodes",
		"cleared", res.Cleared,
		"dirtied", res.Dirtied,
	)
	return res.Total()
}

// CaptureSnapshots captures each request straight from disk, one snapshot
// per request in request order. Captures here are not memoized.
func (s *Scheduler) CaptureSnapshots(ctx context.Context, reqs []store.PathGlobsAndRoot) ([]fs.Snapshot, error) {
	s.metrics.StoreOp("capture")
	return s.store.CaptureSnapshots(ctx, reqs)
}

// MergeDirectories merges digests into one tree.
func (s *Scheduler) MergeDirectories(ctx context.Context, digests []fs.Digest) (fs.Digest, error) {
	s.metrics.StoreOp("merge")
	return s.store.MergeDirectories(ctx, digests)
}

// MaterializeDirectories writes every request to disk. Overlapping
// destinations fail the whole batch before anything is written.
func (s *Scheduler) MaterializeDirectories(ctx context.Context, reqs []store.MaterializeRequest) error {
	s.metrics.StoreOp("materialize")
	return s.store.MaterializeDirectories(ctx, reqs)
}
