package engine

import (
	"context"

	"github.com/roach88/strata/internal/fs"
	"github.com/roach88/strata/internal/intern"
	"github.com/roach88/strata/internal/process"
	"github.com/roach88/strata/internal/rules"
)

// Intrinsics returns the built-in rules over the store, the build root and
// the process executor. Register them alongside user rules, usually through
// RegisterIntrinsics.
func Intrinsics() []rules.Rule {
	return []rules.Rule{
		rules.Func1("path_globs_to_digest", pathGlobsToDigest),
		rules.Func1("digest_to_snapshot", digestToSnapshot),
		rules.Func1("digest_to_contents", digestToContents),
		rules.Func1("digest_to_entries", digestToEntries),
		rules.Func1("merge_digests", mergeDigests),
		rules.Func1("add_prefix", addPrefix),
		rules.Func1("remove_prefix", removePrefix),
		rules.Func1("digest_subset", digestSubset),
		rules.Func1("create_digest", createDigest),
		rules.Func1("run_process", runProcess),
	}
}

// IntrinsicInputs are the subject types intrinsics accept.
func IntrinsicInputs() []intern.TypeID {
	return []intern.TypeID{
		intern.TypeOf[fs.PathGlobs](),
		intern.TypeOf[fs.Digest](),
		intern.TypeOf[fs.MergeDigests](),
		intern.TypeOf[fs.AddPrefix](),
		intern.TypeOf[fs.RemovePrefix](),
		intern.TypeOf[fs.DigestSubset](),
		intern.TypeOf[fs.CreateDigest](),
		intern.TypeOf[process.Process](),
	}
}

// RegisterIntrinsics registers the intrinsics on b and marks their input
// types as roots, so every intrinsic is reachable.
func RegisterIntrinsics(b *rules.Builder) *rules.Builder {
	return b.Register(Intrinsics()...).Root(IntrinsicInputs()...)
}

// nodeSource is a store.Source that reads the build root through
// filesystem nodes, recording an edge from the calling task to each one.
type nodeSource struct {
	tc *taskContext
}

func (n nodeSource) Scandir(ctx context.Context, dir string) (fs.DirectoryListing, error) {
	v, err := n.tc.node.Get(ctx, Scandir{Dir: dir})
	if err != nil {
		return nil, err
	}
	return v.(fs.DirectoryListing), nil
}

func (n nodeSource) DigestFile(ctx context.Context, p string) (fs.Digest, error) {
	v, err := n.tc.node.Get(ctx, DigestFile{Path: p})
	if err != nil {
		return fs.Digest{}, err
	}
	return v.(fs.Digest), nil
}

func (n nodeSource) ReadLink(ctx context.Context, p string) (string, error) {
	v, err := n.tc.node.Get(ctx, ReadLink{Path: p})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func pathGlobsToDigest(ctx rules.Context, g fs.PathGlobs) (fs.Digest, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return fs.Digest{}, err
	}
	tc.sched.metrics.StoreOp("capture")
	snap, err := tc.sched.store.Capture(tc, nodeSource{tc: tc}, g)
	if err != nil {
		return fs.Digest{}, err
	}
	return snap.Digest, nil
}

func digestToSnapshot(ctx rules.Context, d fs.Digest) (fs.Snapshot, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return fs.Snapshot{}, err
	}
	tc.sched.metrics.StoreOp("snapshot")
	return tc.sched.store.SnapshotOf(tc, d)
}

func digestToContents(ctx rules.Context, d fs.Digest) (fs.DigestContents, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return nil, err
	}
	tc.sched.metrics.StoreOp("contents")
	return tc.sched.store.Contents(tc, d)
}

func digestToEntries(ctx rules.Context, d fs.Digest) (fs.DigestEntries, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return nil, err
	}
	tc.sched.metrics.StoreOp("entries")
	return tc.sched.store.Entries(tc, d)
}

func mergeDigests(ctx rules.Context, req fs.MergeDigests) (fs.Digest, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return fs.Digest{}, err
	}
	tc.sched.metrics.StoreOp("merge")
	return tc.sched.store.MergeDirectories(tc, req.Digests)
}

func addPrefix(ctx rules.Context, req fs.AddPrefix) (fs.Digest, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return fs.Digest{}, err
	}
	tc.sched.metrics.StoreOp("add_prefix")
	return tc.sched.store.AddPrefix(tc, req.Digest, req.Prefix)
}

func removePrefix(ctx rules.Context, req fs.RemovePrefix) (fs.Digest, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return fs.Digest{}, err
	}
	tc.sched.metrics.StoreOp("remove_prefix")
	return tc.sched.store.RemovePrefix(tc, req.Digest, req.Prefix)
}

func digestSubset(ctx rules.Context, req fs.DigestSubset) (fs.Digest, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return fs.Digest{}, err
	}
	tc.sched.metrics.StoreOp("subset")
	return tc.sched.store.Subset(tc, req.Digest, req.Globs)
}

func createDigest(ctx rules.Context, req fs.CreateDigest) (fs.Digest, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return fs.Digest{}, err
	}
	tc.sched.metrics.StoreOp("create")
	return tc.sched.store.CreateDigest(tc, req)
}

// runProcess returns the process result whatever the exit code. Rules that
// need success call Result.Check.
func runProcess(ctx rules.Context, p process.Process) (process.Result, error) {
	tc, err := taskContextOf(ctx)
	if err != nil {
		return process.Result{}, err
	}
	return tc.sched.executor.Run(tc, p)
}
