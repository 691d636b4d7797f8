// Package fs defines the content-addressed filesystem model: digests,
// directory nodes and their canonical encoding, in-memory tree building,
// path globs, and read access to a directory on disk.
//
// A file Digest is the SHA-256 of the file bytes plus their length. A
// directory Digest is the SHA-256 of the directory's canonical JSON encoding
// (see package canonical), whose entries carry the digests of their children.
// Directory digests are therefore recursively content-addressed: two trees
// have equal digests iff they hold the same names, contents and modes.
//
// Nothing in this package persists data; see package store.
package fs
