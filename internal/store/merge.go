package store

import (
	"context"
	"path"
	"slices"

	"github.com/roach88/strata/internal/fs"
)

// MergeDirectories unions the given trees. Identical entries at one path are
// merged; a file whose content or mode differs, a symlink whose target
// differs, or a file where another input has a directory fails with
// *MergeConflictError naming the path.
func (s *Store) MergeDirectories(ctx context.Context, digests []fs.Digest) (fs.Digest, error) {
	return s.merge(ctx, "", digests)
}

func (s *Store) merge(ctx context.Context, at string, digests []fs.Digest) (fs.Digest, error) {
	uniq := uniqueDigests(digests)
	switch len(uniq) {
	case 0:
		return fs.EmptyDirectoryDigest, nil
	case 1:
		return uniq[0], nil
	}

	files := make(map[string]fs.FileNode)
	links := make(map[string]fs.SymlinkNode)
	subdirs := make(map[string][]fs.Digest)

	for _, d := range uniq {
		dir, err := s.LoadDirectory(ctx, d)
		if err != nil {
			return fs.Digest{}, err
		}
		for _, f := range dir.Files {
			p := path.Join(at, f.Name)
			if existing, ok := files[f.Name]; ok && existing != f {
				return fs.Digest{}, &MergeConflictError{Path: p, Reason: "files differ"}
			}
			files[f.Name] = f
		}
		for _, l := range dir.Symlinks {
			p := path.Join(at, l.Name)
			if existing, ok := links[l.Name]; ok && existing != l {
				return fs.Digest{}, &MergeConflictError{Path: p, Reason: "symlink targets differ"}
			}
			links[l.Name] = l
		}
		for _, sub := range dir.Dirs {
			subdirs[sub.Name] = append(subdirs[sub.Name], sub.Digest)
		}
	}

	merged := &fs.Directory{}
	for name, f := range files {
		if _, ok := links[name]; ok {
			return fs.Digest{}, &MergeConflictError{Path: path.Join(at, name), Reason: "file and symlink"}
		}
		if _, ok := subdirs[name]; ok {
			return fs.Digest{}, &MergeConflictError{Path: path.Join(at, name), Reason: "file and directory"}
		}
		merged.Files = append(merged.Files, f)
	}
	for name, l := range links {
		if _, ok := subdirs[name]; ok {
			return fs.Digest{}, &MergeConflictError{Path: path.Join(at, name), Reason: "symlink and directory"}
		}
		merged.Symlinks = append(merged.Symlinks, l)
	}
	for name, ds := range subdirs {
		sub, err := s.merge(ctx, path.Join(at, name), ds)
		if err != nil {
			return fs.Digest{}, err
		}
		merged.Dirs = append(merged.Dirs, fs.DirNode{Name: name, Digest: sub})
	}

	return s.RecordDirectory(ctx, merged)
}

func uniqueDigests(ds []fs.Digest) []fs.Digest {
	out := make([]fs.Digest, 0, len(ds))
	for _, d := range ds {
		if d == fs.EmptyDirectoryDigest || slices.Contains(out, d) {
			continue
		}
		out = append(out, d)
	}
	return out
}
