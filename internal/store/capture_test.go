package store

import (
	"context"
	"errors"
	iofs "io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/fs"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

func TestCaptureSnapshotSelectsGlob(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hi", "b.bin": "\x00\x01"})

	snap, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("*.txt"), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, snap.Files)
	assert.Empty(t, snap.Dirs)

	// touching an unselected file does not change the digest
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.bin"), []byte("changed"), 0o644))
	again, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("*.txt"), root)
	require.NoError(t, err)
	assert.Equal(t, snap.Digest, again.Digest)
}

func TestCaptureIsDeterministicAcrossGlobs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"src/a.go":    "package a",
		"src/b.go":    "package a",
		"src/doc.txt": "doc",
	})

	a, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("src/*.go"), root)
	require.NoError(t, err)
	b, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("**/*.go", "!**/*.txt"), root)
	require.NoError(t, err)
	c, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("src/a.go", "src/b.go"), root)
	require.NoError(t, err)

	assert.Equal(t, a.Digest, b.Digest)
	assert.Equal(t, a.Digest, c.Digest)
	assert.Equal(t, []string{"src/a.go", "src/b.go"}, a.Files)
	assert.Equal(t, []string{"src"}, a.Dirs)

	other := t.TempDir()
	writeTree(t, other, map[string]string{"src/a.go": "package a", "src/b.go": "package a"})
	d, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("**"), other)
	require.NoError(t, err)
	assert.Equal(t, a.Digest, d.Digest, "identical trees in different roots share a digest")
}

func TestCaptureMatchPolicy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hi"})

	globs := fs.NewPathGlobs("*.md")
	globs.MatchPolicy = fs.PolicyError

	_, err := s.CaptureSnapshot(ctx, globs, root)
	var gme *fs.GlobMatchError
	require.ErrorAs(t, err, &gme)

	globs.MatchPolicy = fs.PolicyWarn
	snap, err := s.CaptureSnapshot(ctx, globs, root)
	require.NoError(t, err)
	assert.Equal(t, fs.EmptyDirectoryDigest, snap.Digest)
}

func TestCaptureRecordsSymlinksAndModes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "hi"})
	require.NoError(t, os.WriteFile(filepath.Join(root, "run.sh"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(root, "link")))

	snap, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("**"), root)
	require.NoError(t, err)

	entries, err := s.Entries(ctx, snap.Digest)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, fs.Entry{Kind: fs.EntryFile, Path: "a.txt", Digest: fs.DigestOf([]byte("hi"))}, entries[0])
	assert.Equal(t, fs.Entry{Kind: fs.EntrySymlink, Path: "link", Target: "a.txt"}, entries[1])
	assert.True(t, entries[2].Executable)
}

func TestCaptureSnapshotsBatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r1, r2 := t.TempDir(), t.TempDir()
	writeTree(t, r1, map[string]string{"one.txt": "1"})
	writeTree(t, r2, map[string]string{"two.txt": "2"})

	snaps, err := s.CaptureSnapshots(ctx, []PathGlobsAndRoot{
		{Globs: fs.NewPathGlobs("*"), Root: r1},
		{Globs: fs.NewPathGlobs("*"), Root: r2},
	})
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, []string{"one.txt"}, snaps[0].Files)
	assert.Equal(t, []string{"two.txt"}, snaps[1].Files)

	_, err = s.CaptureSnapshots(ctx, []PathGlobsAndRoot{
		{Globs: fs.NewPathGlobs("*"), Root: r1},
		{Globs: fs.NewPathGlobs("*"), Root: filepath.Join(r2, "missing")},
	})
	assert.ErrorContains(t, err, "capture 1")
}

func TestMaterializeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root := t.TempDir()
	files := map[string]string{
		"a.txt":       "alpha",
		"dir/b.txt":   "beta",
		"dir/sub/c":   "gamma",
		"other/d.txt": "",
	}
	writeTree(t, root, files)

	snap, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("**"), root)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, s.MaterializeDirectory(ctx, dest, snap.Digest))

	for rel, content := range files {
		got, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(rel)))
		require.NoError(t, err, rel)
		assert.Equal(t, content, string(got), rel)
	}

	again, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("**"), dest)
	require.NoError(t, err)
	assert.Equal(t, snap.Digest, again.Digest)
}

func TestMaterializeDirectoriesOverlap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := t.TempDir()

	err := s.MaterializeDirectories(ctx, []MaterializeRequest{
		{Dest: filepath.Join(base, "a"), Digest: fs.EmptyDirectoryDigest},
		{Dest: filepath.Join(base, "a-b"), Digest: fs.EmptyDirectoryDigest},
		{Dest: filepath.Join(base, "a", "c"), Digest: fs.EmptyDirectoryDigest},
	})
	var overlap *OverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, filepath.Join(base, "a"), overlap.First)
	assert.Equal(t, filepath.Join(base, "a", "c"), overlap.Second)

	_, statErr := os.Stat(filepath.Join(base, "a"))
	assert.True(t, os.IsNotExist(statErr), "nothing is written when the batch overlaps")

	require.NoError(t, s.MaterializeDirectories(ctx, []MaterializeRequest{
		{Dest: filepath.Join(base, "a"), Digest: fs.EmptyDirectoryDigest},
		{Dest: filepath.Join(base, "ab"), Digest: fs.EmptyDirectoryDigest},
	}))
}

func TestMaterializeReplacesExisting(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "new"})
	snap, err := s.CaptureSnapshot(ctx, fs.NewPathGlobs("**"), src)
	require.NoError(t, err)

	dest := t.TempDir()
	writeTree(t, dest, map[string]string{"a.txt": "old"})
	require.NoError(t, s.MaterializeDirectory(ctx, dest, snap.Digest))
	got, err := os.ReadFile(filepath.Join(dest, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))

	// a non-empty directory in the way cannot be removed
	blocked := t.TempDir()
	writeTree(t, blocked, map[string]string{"a.txt/keep": "x"})
	err = s.MaterializeDirectory(ctx, blocked, snap.Digest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), filepath.Join(blocked, "a.txt"))
}

func TestRemoveExisting(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, removeExisting(filepath.Join(dir, "missing")))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	require.NoError(t, removeExisting(file))
	_, err := os.Stat(file)
	assert.True(t, os.IsNotExist(err))

	writeTree(t, dir, map[string]string{"full/child": "x"})
	err = removeExisting(filepath.Join(dir, "full"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, iofs.ErrNotExist))
}
