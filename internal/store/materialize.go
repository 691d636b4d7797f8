package store

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/strata/internal/fs"
)

// MaterializeRequest writes Digest to the directory Dest.
type MaterializeRequest struct {
	Dest   string
	Digest fs.Digest
}

// MaterializeDirectory writes the tree rooted at d into dest, creating it if
// needed. Existing files at the same paths are replaced.
func (s *Store) MaterializeDirectory(ctx context.Context, dest string, d fs.Digest) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return fmt.Errorf("materialize %s: %w", dest, err)
	}
	return s.walk(ctx, d, "", func(p string, dir *fs.Directory, _ fs.Digest) error {
		base := filepath.Join(dest, filepath.FromSlash(p))
		if err := os.MkdirAll(base, 0o755); err != nil {
			return fmt.Errorf("materialize %s: %w", base, err)
		}
		for _, f := range dir.Files {
			data, err := s.LoadFileBytes(ctx, f.Digest)
			if err != nil {
				return err
			}
			mode := os.FileMode(0o644)
			if f.Executable {
				mode = 0o755
			}
			target := filepath.Join(base, f.Name)
			if err := removeExisting(target); err != nil {
				return err
			}
			if err := os.WriteFile(target, data, mode); err != nil {
				return fmt.Errorf("materialize %s: %w", target, err)
			}
		}
		for _, l := range dir.Symlinks {
			target := filepath.Join(base, l.Name)
			if err := removeExisting(target); err != nil {
				return err
			}
			if err := os.Symlink(filepath.FromSlash(l.Target), target); err != nil {
				return fmt.Errorf("materialize %s: %w", target, err)
			}
		}
		return nil
	})
}

// removeExisting deletes a file or symlink about to be replaced. A missing
// target is fine; any other failure is returned.
func removeExisting(target string) error {
	if err := os.Remove(target); err != nil && !errors.Is(err, iofs.ErrNotExist) {
		return fmt.Errorf("materialize %s: %w", target, err)
	}
	return nil
}

// MaterializeDirectories checks the batch for overlapping destinations, then
// writes every request concurrently. Overlap fails the whole batch before
// anything is written.
func (s *Store) MaterializeDirectories(ctx context.Context, reqs []MaterializeRequest) error {
	if err := CheckOverlap(reqs); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, req := range reqs {
		g.Go(func() error {
			return s.MaterializeDirectory(ctx, req.Dest, req.Digest)
		})
	}
	return g.Wait()
}

// CheckOverlap returns *OverlapError if two destinations are equal or one is
// a component-wise prefix of the other.
func CheckOverlap(reqs []MaterializeRequest) error {
	paths := make([]string, len(reqs))
	for i, r := range reqs {
		abs, err := filepath.Abs(r.Dest)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", r.Dest, err)
		}
		paths[i] = abs
	}
	for i := range paths {
		for j := i + 1; j < len(paths); j++ {
			if isPathPrefix(paths[i], paths[j]) || isPathPrefix(paths[j], paths[i]) {
				return &OverlapError{First: reqs[i].Dest, Second: reqs[j].Dest}
			}
		}
	}
	return nil
}

func isPathPrefix(parent, child string) bool {
	if parent == child {
		return true
	}
	if !strings.HasSuffix(parent, string(filepath.Separator)) {
		parent += string(filepath.Separator)
	}
	return strings.HasPrefix(child, parent)
}
