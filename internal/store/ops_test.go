package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/fs"
)

func create(t *testing.T, s *Store, files map[string]string) fs.Digest {
	t.Helper()
	var entries []fs.CreateEntry
	for p, c := range files {
		entries = append(entries, fs.CreateEntry{Path: p, Content: []byte(c)})
	}
	d, err := s.CreateDigest(context.Background(), fs.CreateDigest{Entries: entries})
	require.NoError(t, err)
	return d
}

func TestMergeDirectories(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := create(t, s, map[string]string{"x/a.txt": "a", "shared.txt": "same"})
	b := create(t, s, map[string]string{"x/b.txt": "b", "shared.txt": "same"})

	merged, err := s.MergeDirectories(ctx, []fs.Digest{a, b, fs.EmptyDirectoryDigest})
	require.NoError(t, err)

	snap, err := s.SnapshotOf(ctx, merged)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared.txt", "x/a.txt", "x/b.txt"}, snap.Files)

	want := create(t, s, map[string]string{"x/a.txt": "a", "x/b.txt": "b", "shared.txt": "same"})
	assert.Equal(t, want, merged)

	single, err := s.MergeDirectories(ctx, []fs.Digest{a})
	require.NoError(t, err)
	assert.Equal(t, a, single)

	empty, err := s.MergeDirectories(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, fs.EmptyDirectoryDigest, empty)
}

func TestMergeDirectoriesConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tests := []struct {
		name string
		a, b map[string]string
		path string
	}{
		{"content", map[string]string{"d/f": "1"}, map[string]string{"d/f": "2"}, "d/f"},
		{"file vs dir", map[string]string{"d": "file"}, map[string]string{"d/f": "x"}, "d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.MergeDirectories(ctx, []fs.Digest{create(t, s, tt.a), create(t, s, tt.b)})
			var conflict *MergeConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tt.path, conflict.Path)
		})
	}
}

func TestAddAndRemovePrefix(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := create(t, s, map[string]string{"a.txt": "a"})

	prefixed, err := s.AddPrefix(ctx, d, "out/bin")
	require.NoError(t, err)
	snap, err := s.SnapshotOf(ctx, prefixed)
	require.NoError(t, err)
	assert.Equal(t, []string{"out/bin/a.txt"}, snap.Files)
	assert.Equal(t, []string{"out", "out/bin"}, snap.Dirs)

	back, err := s.RemovePrefix(ctx, prefixed, "out/bin")
	require.NoError(t, err)
	assert.Equal(t, d, back)

	same, err := s.AddPrefix(ctx, d, ".")
	require.NoError(t, err)
	assert.Equal(t, d, same)

	mixed := create(t, s, map[string]string{"out/a": "a", "stray": "s"})
	_, err = s.RemovePrefix(ctx, mixed, "out")
	assert.ErrorIs(t, err, ErrPrefixMismatch)
}

func TestSubset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	d := create(t, s, map[string]string{"a.go": "a", "a_test.go": "t", "doc/readme.md": "r"})

	sub, err := s.Subset(ctx, d, fs.NewPathGlobs("**/*.go", "!*_test.go"))
	require.NoError(t, err)
	assert.Equal(t, create(t, s, map[string]string{"a.go": "a"}), sub)

	strict := fs.NewPathGlobs("*.rs")
	strict.MatchPolicy = fs.PolicyError
	_, err = s.Subset(ctx, d, strict)
	var gme *fs.GlobMatchError
	assert.ErrorAs(t, err, &gme)
}

func TestCreateDigestAndContents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	d, err := s.CreateDigest(ctx, fs.CreateDigest{Entries: []fs.CreateEntry{
		{Path: "bin/tool", Content: []byte("#!"), Executable: true},
		{Path: "empty", Directory: true},
		{Path: "link", Target: "bin/tool"},
	}})
	require.NoError(t, err)

	contents, err := s.Contents(ctx, d)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, fs.FileContent{Path: "bin/tool", Content: []byte("#!"), Executable: true}, contents[0])

	entries, err := s.Entries(ctx, d)
	require.NoError(t, err)
	var kinds []fs.EntryKind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []fs.EntryKind{fs.EntryFile, fs.EntryDir, fs.EntrySymlink}, kinds)

	_, err = s.CreateDigest(ctx, fs.CreateDigest{Entries: []fs.CreateEntry{
		{Path: "x", Content: []byte("1")},
		{Path: "x", Content: []byte("2")},
	}})
	var conflict *fs.ConflictError
	assert.ErrorAs(t, err, &conflict)
}
