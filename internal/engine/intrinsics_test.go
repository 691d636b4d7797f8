package engine

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/process"
	"github.com/roach88/strata/internal/rules"
	"github.com/roach88/strata/internal/store"
)

// exitExecutor returns a fixed exit code without running anything.
type exitExecutor struct {
	code int
	runs atomic.Int32
}

func (e *exitExecutor) Run(_ context.Context, p process.Process) (process.Result, error) {
	e.runs.Add(1)
	return process.Result{
		ExitCode:     e.code,
		Stderr:       []byte("compile error"),
		OutputDigest: fs.EmptyDirectoryDigest,
		Description:  p.Description,
	}, nil
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for p, content := range files {
		abs := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
		require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	}
}

func execOne(t *testing.T, s *Scheduler, subject any, product intern.TypeID) any {
	t.Helper()
	results, err := s.Execute(context.Background(), NewExecutionRequest().Add(subject, product))
	require.NoError(t, err)
	return results[0].Value
}

func TestIntrinsics_BuildCleanly(t *testing.T) {
	rg, err := RegisterIntrinsics(rules.NewBuilder()).Build()
	require.NoError(t, err)

	_, ok := rg.Lookup(intern.TypeOf[fs.PathGlobs](), intern.TypeOf[fs.Snapshot]())
	assert.True(t, ok, "snapshots of globs chain through Digest")
	_, ok = rg.Lookup(intern.TypeOf[process.Process](), intern.TypeOf[process.Result]())
	assert.True(t, ok)
}

func TestIntrinsics_CaptureFromBuildRoot(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.txt": "hi", "b.bin": "\x00\x01"})
	s := newScheduler(t, RegisterIntrinsics(rules.NewBuilder()), WithBuildRoot(root))

	snap := execOne(t, s, fs.NewPathGlobs("*.txt"), intern.TypeOf[fs.Snapshot]()).(fs.Snapshot)
	assert.Equal(t, []string{"a.txt"}, snap.Files)

	// touching an unmatched file changes nothing once re-read
	writeFiles(t, root, map[string]string{"b.bin": "changed"})
	assert.Positive(t, s.InvalidateFiles([]string{"b.bin"}))
	again := execOne(t, s, fs.NewPathGlobs("*.txt"), intern.TypeOf[fs.Snapshot]()).(fs.Snapshot)
	assert.Equal(t, snap.Digest, again.Digest)

	direct, err := s.Store().CaptureSnapshot(context.Background(), fs.NewPathGlobs("*.txt"), root)
	require.NoError(t, err)
	assert.Equal(t, snap.Digest, direct.Digest)
}

func TestIntrinsics_DigestOperations(t *testing.T) {
	s := newScheduler(t, RegisterIntrinsics(rules.NewBuilder()))

	create := fs.CreateDigest{Entries: []fs.CreateEntry{
		{Path: "src/a.txt", Content: []byte("a")},
		{Path: "src/b.txt", Content: []byte("b")},
	}}
	d := execOne(t, s, create, intern.TypeOf[fs.Digest]()).(fs.Digest)

	contents := execOne(t, s, d, intern.TypeOf[fs.DigestContents]()).(fs.DigestContents)
	require.Len(t, contents, 2)
	assert.Equal(t, "src/a.txt", contents[0].Path)
	assert.Equal(t, []byte("a"), contents[0].Content)

	stripped := execOne(t, s, fs.RemovePrefix{Digest: d, Prefix: "src"}, intern.TypeOf[fs.Digest]()).(fs.Digest)
	prefixed := execOne(t, s, fs.AddPrefix{Digest: stripped, Prefix: "src"}, intern.TypeOf[fs.Digest]()).(fs.Digest)
	assert.Equal(t, d, prefixed)

	subset := execOne(t, s, fs.DigestSubset{Digest: d, Globs: fs.NewPathGlobs("**/a.txt")}, intern.TypeOf[fs.Snapshot]()).(fs.Snapshot)
	assert.Equal(t, []string{"src/a.txt"}, subset.Files)

	other := execOne(t, s, fs.CreateDigest{Entries: []fs.CreateEntry{{Path: "c.txt", Content: []byte("c")}}}, intern.TypeOf[fs.Digest]()).(fs.Digest)
	merged := execOne(t, s, fs.MergeDigests{Digests: []fs.Digest{d, other}}, intern.TypeOf[fs.Snapshot]()).(fs.Snapshot)
	assert.Equal(t, []string{"c.txt", "src/a.txt", "src/b.txt"}, merged.Files)

	entries := execOne(t, s, d, intern.TypeOf[fs.DigestEntries]()).(fs.DigestEntries)
	assert.Len(t, entries, 2)
}

func TestIntrinsics_NonZeroExitIsValue(t *testing.T) {
	type compiled struct{ Output fs.Digest }
	exec := &exitExecutor{code: 1}

	compile := rules.Func1("compile", func(ctx rules.Context, p process.Process) (compiled, error) {
		res, err := rules.Get[process.Result](ctx, p)
		if err != nil {
			return compiled{}, err
		}
		if err := res.Check(); err != nil {
			return compiled{}, err
		}
		return compiled{Output: res.OutputDigest}, nil
	}, rules.WithGets(rules.GetSpecFor[process.Result, process.Process]()))

	s := newScheduler(t, RegisterIntrinsics(rules.NewBuilder()).Register(compile), WithProcessExecutor(exec))
	p := process.Process{Argv: []string{"cc", "main.c"}, Description: "compile main.c"}

	res := execOne(t, s, p, intern.TypeOf[process.Result]()).(process.Result)
	assert.Equal(t, 1, res.ExitCode)

	results, err := s.Execute(context.Background(), NewExecutionRequest().Add(p, intern.TypeOf[compiled]()))
	require.Error(t, err)
	assert.True(t, process.IsFailed(results[0].Err))
	assert.Equal(t, int32(1), exec.runs.Load(), "process result is memoized")
}

func TestScheduler_BatchedFacade(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"x/one.txt": "1", "y/two.txt": "2"})
	s := newScheduler(t, RegisterIntrinsics(rules.NewBuilder()))
	ctx := context.Background()

	snaps, err := s.CaptureSnapshots(ctx, []store.PathGlobsAndRoot{
		{Globs: fs.NewPathGlobs("x/*"), Root: root},
		{Globs: fs.NewPathGlobs("y/*"), Root: root},
	})
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	merged, err := s.MergeDirectories(ctx, []fs.Digest{snaps[0].Digest, snaps[1].Digest})
	require.NoError(t, err)

	out := t.TempDir()
	err = s.MaterializeDirectories(ctx, []store.MaterializeRequest{
		{Dest: filepath.Join(out, "a"), Digest: merged},
		{Dest: filepath.Join(out, "b"), Digest: snaps[0].Digest},
	})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(out, "a", "y", "two.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))

	err = s.MaterializeDirectories(ctx, []store.MaterializeRequest{
		{Dest: filepath.Join(out, "c"), Digest: merged},
		{Dest: filepath.Join(out, "c", "nested"), Digest: merged},
	})
	var overlap *store.OverlapError
	assert.ErrorAs(t, err, &overlap)
}
