package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string, mode os.FileMode) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), mode))
}

func TestPosixFSScandir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", "b", 0o644)
	writeFile(t, root, "run.sh", "#!/bin/sh", 0o755)
	writeFile(t, root, "sub/c.txt", "c", 0o644)
	writeFile(t, root, ".git/HEAD", "ref", 0o644)
	require.NoError(t, os.Symlink("b.txt", filepath.Join(root, "link")))

	pfs, err := NewPosixFS(root, ".git")
	require.NoError(t, err)

	listing, err := pfs.Scandir(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, listing, 4)

	assert.Equal(t, Stat{Path: "b.txt", Kind: KindFile}, listing[0])
	assert.Equal(t, Stat{Path: "link", Kind: KindLink}, listing[1])
	assert.Equal(t, Stat{Path: "run.sh", Kind: KindFile, Executable: true}, listing[2])
	assert.Equal(t, Stat{Path: "sub", Kind: KindDir}, listing[3])

	missing, err := pfs.Scandir(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, missing)

	target, err := pfs.ReadLink(context.Background(), "link")
	require.NoError(t, err)
	assert.Equal(t, "b.txt", target)
}

func TestPosixFSRel(t *testing.T) {
	root := t.TempDir()
	pfs, err := NewPosixFS(root)
	require.NoError(t, err)

	rel, err := pfs.Rel(filepath.Join(pfs.Root, "a", "b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", rel)

	rel, err = pfs.Rel("a/./c")
	require.NoError(t, err)
	assert.Equal(t, "a/c", rel)

	_, err = pfs.Rel(filepath.Dir(pfs.Root))
	assert.Error(t, err)
}

func TestExpand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.txt", "hi", 0o644)
	writeFile(t, root, "b.bin", "\x00", 0o644)
	writeFile(t, root, "docs/x.txt", "x", 0o644)
	writeFile(t, root, "docs/gen/y.txt", "y", 0o644)

	pfs, err := NewPosixFS(root)
	require.NoError(t, err)

	exp, err := Expand(context.Background(), pfs, NewPathGlobs("*.txt"))
	require.NoError(t, err)
	require.Len(t, exp.Stats, 1)
	assert.Equal(t, "a.txt", exp.Stats[0].Path)
	assert.Equal(t, []bool{true}, exp.Matched)

	exp, err = Expand(context.Background(), pfs, NewPathGlobs("**/*.txt", "!docs/gen", "*.none"))
	require.NoError(t, err)
	var paths []string
	for _, st := range exp.Stats {
		paths = append(paths, st.Path)
	}
	assert.Equal(t, []string{"a.txt", "docs/x.txt"}, paths)
	assert.Equal(t, []bool{true, false}, exp.Matched)
}
