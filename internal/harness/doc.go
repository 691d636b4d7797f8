// Package harness runs filesystem scenarios against the scheduler.
//
// A scenario seeds a build root with files, then applies a sequence of steps:
// filesystem edits, captures and digest operations executed through the
// scheduler, and invalidations. The harness records one trace event per step
// and evaluates assertions against the trace, the named step results and the
// rule run counters.
//
// # Scenario Format
//
//	name: capture_ignores_unmatched_touch
//	description: "Touching an unmatched file leaves the capture unchanged"
//	files:
//	  a.txt: hi
//	  b.bin: data
//	steps:
//	  - op: capture
//	    as: before
//	    globs: ["*.txt"]
//	  - op: write
//	    files: { b.bin: changed }
//	  - op: invalidate
//	    paths: [b.bin]
//	  - op: capture
//	    as: after
//	    globs: ["*.txt"]
//	assertions:
//	  - type: same_digest
//	    refs: [before, after]
//
// # Operations
//
//   - write, remove: edit the build root (no invalidation)
//   - invalidate, invalidate_all: call the scheduler's invalidation
//   - capture: PathGlobs to Snapshot
//   - count: run the count_files rule over globs (its runs are counted)
//   - merge, subset, add_prefix, remove_prefix: digest operations, each
//     resolved to a Snapshot
//   - materialize: write a named digest under the output directory
//
// # Assertion Types
//
//   - snapshot_files: a named result lists exactly the given files
//   - same_digest, different_digest: compare named results
//   - count_equals: a count step produced the given number
//   - rule_runs: a counted rule body ran exactly N times
//   - throws: a named step failed with the given error code
//   - file_content: a materialized file holds the given content
//
// # Deterministic Traces
//
// Digests in the trace are replaced by aliases (d1, d2, ...) assigned in
// order of first appearance, so golden files state which results are equal
// without spelling out fingerprints. Run ids and workunit timestamps come
// from testutil's fixed generators.
package harness
