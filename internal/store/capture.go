package store

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/strata/internal/fs"
)

// Source is a filesystem that can be captured: it lists directories, digests
// files into the store and reads symlinks.
type Source interface {
	fs.Lister
	DigestFile(ctx context.Context, p string) (fs.Digest, error)
	ReadLink(ctx context.Context, p string) (string, error)
}

// PathGlobsAndRoot is one capture request.
type PathGlobsAndRoot struct {
	Globs fs.PathGlobs
	Root  string
}

// diskSource captures straight from disk.
type diskSource struct {
	*fs.PosixFS
	store *Store
}

func (d diskSource) DigestFile(ctx context.Context, p string) (fs.Digest, error) {
	data, err := d.ReadFile(ctx, p)
	if err != nil {
		return fs.Digest{}, err
	}
	return d.store.StoreFileBytes(ctx, data)
}

// DiskSource returns a Source reading from pfs and storing file content in s.
func (s *Store) DiskSource(pfs *fs.PosixFS) Source {
	return diskSource{PosixFS: pfs, store: s}
}

// CaptureSnapshot walks root, matches globs, stores every matched file and
// returns the snapshot. Identical content and globs always yield the same
// digest.
func (s *Store) CaptureSnapshot(ctx context.Context, globs fs.PathGlobs, root string) (fs.Snapshot, error) {
	pfs, err := fs.NewPosixFS(root)
	if err != nil {
		return fs.Snapshot{}, err
	}
	return s.Capture(ctx, s.DiskSource(pfs), globs)
}

// CaptureSnapshots runs each request concurrently and returns one snapshot
// per request, in request order. The first failure in request order is
// returned.
func (s *Store) CaptureSnapshots(ctx context.Context, reqs []PathGlobsAndRoot) ([]fs.Snapshot, error) {
	out := make([]fs.Snapshot, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, req := range reqs {
		g.Go(func() error {
			out[i], errs[i] = s.CaptureSnapshot(ctx, req.Globs, req.Root)
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("capture %d (%s in %s): %w", i, reqs[i].Globs, reqs[i].Root, err)
		}
	}
	return out, nil
}

// Capture expands globs against src and records the matched tree.
func (s *Store) Capture(ctx context.Context, src Source, globs fs.PathGlobs) (fs.Snapshot, error) {
	exp, err := fs.Expand(ctx, src, globs)
	if err != nil {
		return fs.Snapshot{}, err
	}
	if err := globs.Enforce(exp.Matched, s.logger); err != nil {
		return fs.Snapshot{}, err
	}

	b := fs.NewTreeBuilder()
	for _, st := range exp.Stats {
		switch st.Kind {
		case fs.KindFile:
			digest, err := src.DigestFile(ctx, st.Path)
			if err != nil {
				return fs.Snapshot{}, err
			}
			if err := b.AddFile(st.Path, digest, st.Executable); err != nil {
				return fs.Snapshot{}, err
			}
		case fs.KindLink:
			target, err := src.ReadLink(ctx, st.Path)
			if err != nil {
				return fs.Snapshot{}, err
			}
			if err := b.AddSymlink(st.Path, target); err != nil {
				return fs.Snapshot{}, err
			}
		}
	}

	root, dirs, err := b.Build()
	if err != nil {
		return fs.Snapshot{}, err
	}
	if err := s.recordTree(ctx, dirs); err != nil {
		return fs.Snapshot{}, err
	}

	s.logger.Debug("captured snapshot",
		"globs", globs.String(),
		"files", len(exp.Stats),
		"digest", root.String(),
	)
	return s.SnapshotOf(ctx, root)
}
