package store

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/roach88/strata/internal/fs"
)

type walkFunc func(p string, dir *fs.Directory, digest fs.Digest) error

// walk visits every directory of the tree rooted at d in pre-order, with
// children in name order. p is the directory's path relative to the root.
func (s *Store) walk(ctx context.Context, d fs.Digest, p string, fn walkFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.LoadDirectory(ctx, d)
	if err != nil {
		return err
	}
	if err := fn(p, dir, d); err != nil {
		return err
	}
	for _, sub := range dir.Dirs {
		if err := s.walk(ctx, sub.Digest, path.Join(p, sub.Name), fn); err != nil {
			return err
		}
	}
	return nil
}

// ExpandDirectory returns every directory node of the tree rooted at d.
func (s *Store) ExpandDirectory(ctx context.Context, d fs.Digest) (map[fs.Digest]*fs.Directory, error) {
	out := make(map[fs.Digest]*fs.Directory)
	err := s.walk(ctx, d, "", func(_ string, dir *fs.Directory, digest fs.Digest) error {
		out[digest] = dir
		return nil
	})
	return out, err
}

// SnapshotOf flattens the tree rooted at d.
func (s *Store) SnapshotOf(ctx context.Context, d fs.Digest) (fs.Snapshot, error) {
	snap := fs.Snapshot{Digest: d, Files: []string{}, Dirs: []string{}}
	err := s.walk(ctx, d, "", func(p string, dir *fs.Directory, _ fs.Digest) error {
		if p != "" {
			snap.Dirs = append(snap.Dirs, p)
		}
		for _, f := range dir.Files {
			snap.Files = append(snap.Files, path.Join(p, f.Name))
		}
		for _, l := range dir.Symlinks {
			snap.Files = append(snap.Files, path.Join(p, l.Name))
		}
		return nil
	})
	if err != nil {
		return fs.Snapshot{}, err
	}
	sortStrings(snap.Files)
	sortStrings(snap.Dirs)
	return snap, nil
}

// Entries flattens the tree rooted at d into files, symlinks and empty
// directories, sorted by path.
func (s *Store) Entries(ctx context.Context, d fs.Digest) (fs.DigestEntries, error) {
	var out fs.DigestEntries
	err := s.walk(ctx, d, "", func(p string, dir *fs.Directory, _ fs.Digest) error {
		if p != "" && dir.IsEmpty() {
			out = append(out, fs.Entry{Kind: fs.EntryDir, Path: p})
		}
		for _, f := range dir.Files {
			out = append(out, fs.Entry{
				Kind:       fs.EntryFile,
				Path:       path.Join(p, f.Name),
				Digest:     f.Digest,
				Executable: f.Executable,
			})
		}
		for _, l := range dir.Symlinks {
			out = append(out, fs.Entry{Kind: fs.EntrySymlink, Path: path.Join(p, l.Name), Target: l.Target})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortEntries(out)
	return out, nil
}

// Contents returns the bytes of every file in the tree rooted at d.
func (s *Store) Contents(ctx context.Context, d fs.Digest) (fs.DigestContents, error) {
	entries, err := s.Entries(ctx, d)
	if err != nil {
		return nil, err
	}
	out := make(fs.DigestContents, 0, len(entries))
	for _, e := range entries {
		if e.Kind != fs.EntryFile {
			continue
		}
		data, err := s.LoadFileBytes(ctx, e.Digest)
		if err != nil {
			return nil, fmt.Errorf("contents of %s: %w", e.Path, err)
		}
		out = append(out, fs.FileContent{Path: e.Path, Content: data, Executable: e.Executable})
	}
	return out, nil
}

// buildFromEntries rebuilds and records a tree from flattened entries.
func (s *Store) buildFromEntries(ctx context.Context, entries fs.DigestEntries) (fs.Digest, error) {
	b := fs.NewTreeBuilder()
	for _, e := range entries {
		var err error
		switch e.Kind {
		case fs.EntryFile:
			err = b.AddFile(e.Path, e.Digest, e.Executable)
		case fs.EntrySymlink:
			err = b.AddSymlink(e.Path, e.Target)
		case fs.EntryDir:
			err = b.AddDir(e.Path)
		}
		if err != nil {
			return fs.Digest{}, err
		}
	}
	root, dirs, err := b.Build()
	if err != nil {
		return fs.Digest{}, err
	}
	if err := s.recordTree(ctx, dirs); err != nil {
		return fs.Digest{}, err
	}
	return root, nil
}

// AddPrefix nests the tree rooted at d under prefix.
func (s *Store) AddPrefix(ctx context.Context, d fs.Digest, prefix string) (fs.Digest, error) {
	prefix, err := fs.CleanRelative(prefix)
	if err != nil {
		return fs.Digest{}, err
	}
	if prefix == "" {
		return d, nil
	}
	comps := strings.Split(prefix, "/")
	cur := d
	for i := len(comps) - 1; i >= 0; i-- {
		cur, err = s.RecordDirectory(ctx, &fs.Directory{Dirs: []fs.DirNode{{Name: comps[i], Digest: cur}}})
		if err != nil {
			return fs.Digest{}, err
		}
	}
	return cur, nil
}

// RemovePrefix returns the subtree at prefix. Every entry of the tree must
// be under prefix; otherwise the result wraps ErrPrefixMismatch.
func (s *Store) RemovePrefix(ctx context.Context, d fs.Digest, prefix string) (fs.Digest, error) {
	prefix, err := fs.CleanRelative(prefix)
	if err != nil {
		return fs.Digest{}, err
	}
	cur := d
	walked := ""
	for _, comp := range strings.Split(prefix, "/") {
		if comp == "" {
			continue
		}
		dir, err := s.LoadDirectory(ctx, cur)
		if err != nil {
			return fs.Digest{}, err
		}
		sub, ok := dir.Dir(comp)
		if !ok {
			if dir.IsEmpty() {
				return fs.EmptyDirectoryDigest, nil
			}
			return fs.Digest{}, fmt.Errorf("%w: %q not found under %q", ErrPrefixMismatch, comp, walked)
		}
		if len(dir.Dirs) != 1 || len(dir.Files) != 0 || len(dir.Symlinks) != 0 {
			return fs.Digest{}, fmt.Errorf("%w: %q has siblings of %q", ErrPrefixMismatch, walked, comp)
		}
		walked = path.Join(walked, comp)
		cur = sub.Digest
	}
	return cur, nil
}

// Subset returns the part of the tree rooted at d selected by globs. The
// glob match policy applies.
func (s *Store) Subset(ctx context.Context, d fs.Digest, globs fs.PathGlobs) (fs.Digest, error) {
	if err := globs.Validate(); err != nil {
		return fs.Digest{}, err
	}
	entries, err := s.Entries(ctx, d)
	if err != nil {
		return fs.Digest{}, err
	}

	matched := make([]bool, len(globs.Include))
	var keep fs.DigestEntries
	for _, e := range entries {
		if globs.Excluded(e.Path) {
			continue
		}
		selected := false
		for i, inc := range globs.Include {
			if fs.NewPathGlobs(inc).Matches(e.Path) {
				matched[i] = true
				selected = true
			}
		}
		if selected {
			keep = append(keep, e)
		}
	}
	if err := globs.Enforce(matched, s.logger); err != nil {
		return fs.Digest{}, err
	}
	return s.buildFromEntries(ctx, keep)
}

// CreateDigest stores literal entries and returns the resulting tree.
func (s *Store) CreateDigest(ctx context.Context, req fs.CreateDigest) (fs.Digest, error) {
	entries := make(fs.DigestEntries, 0, len(req.Entries))
	for _, ce := range req.Entries {
		switch {
		case ce.Directory:
			entries = append(entries, fs.Entry{Kind: fs.EntryDir, Path: ce.Path})
		case ce.Target != "":
			entries = append(entries, fs.Entry{Kind: fs.EntrySymlink, Path: ce.Path, Target: ce.Target})
		default:
			digest, err := s.StoreFileBytes(ctx, ce.Content)
			if err != nil {
				return fs.Digest{}, err
			}
			entries = append(entries, fs.Entry{
				Kind:       fs.EntryFile,
				Path:       ce.Path,
				Digest:     digest,
				Executable: ce.Executable,
			})
		}
	}
	return s.buildFromEntries(ctx, entries)
}

func sortStrings(ss []string) {
	slices.Sort(ss)
}

func sortEntries(es fs.DigestEntries) {
	slices.SortFunc(es, func(a, b fs.Entry) int { return strings.Compare(a.Path, b.Path) })
}
