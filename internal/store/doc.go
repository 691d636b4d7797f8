// Package store is the content-addressed store: durable, deduplicated
// storage of file bytes and directory nodes keyed by fs.Digest.
//
// Storage is delegated to a Backend:
//   - SQLite (mattn/go-sqlite3) for a single-file persistent store
//   - Badger (dgraph-io/badger/v4), persistent or in memory
//
// An optional Remote is consulted read-through when a digest is missing
// locally. Remote bytes are verified against the requested digest before
// they are stored; a mismatch is an error and is never cached.
//
// # Concurrency
//
// The store is append-mostly. Writes are idempotent per digest, so
// concurrent writers of the same content race harmlessly. Remote fetches of
// one digest are deduplicated with singleflight.
//
// # Batched operations
//
// CaptureSnapshots, MergeDirectories and MaterializeDirectories operate on
// batches and return one result per input, in input order.
package store
