package fs

// Snapshot is a directory digest plus its flattened listing.
// Files holds file and symlink paths; Dirs holds every directory path below
// the root. Both are sorted.
type Snapshot struct {
	Digest Digest
	Files  []string
	Dirs   []string
}

// EmptySnapshot is the snapshot of the empty directory.
func EmptySnapshot() Snapshot {
	return Snapshot{Digest: EmptyDirectoryDigest, Files: []string{}, Dirs: []string{}}
}

// FileContent is a file's path and bytes.
type FileContent struct {
	Path       string
	Content    []byte
	Executable bool
}

// EntryKind distinguishes the members of DigestEntries.
type EntryKind string

const (
	EntryFile    EntryKind = "file"
	EntryDir     EntryKind = "dir"
	EntrySymlink EntryKind = "symlink"
)

// Entry is one flattened member of a tree: a file with its digest, an empty
// directory, or a symlink with its target.
type Entry struct {
	Kind       EntryKind
	Path       string
	Digest     Digest
	Executable bool
	Target     string
}

// DigestContents is the flattened file content of a digest.
type DigestContents []FileContent

// DigestEntries is the flattened entry list of a digest.
type DigestEntries []Entry

// MergeDigests requests the union of several directory digests.
type MergeDigests struct {
	Digests []Digest
}

// AddPrefix requests the digest nested under Prefix.
type AddPrefix struct {
	Digest Digest
	Prefix string
}

// RemovePrefix requests the content below Prefix, which must hold every
// entry of Digest.
type RemovePrefix struct {
	Digest Digest
	Prefix string
}

// DigestSubset requests the part of Digest selected by Globs.
type DigestSubset struct {
	Digest Digest
	Globs  PathGlobs
}

// CreateDigest requests a digest built from literal entries.
type CreateDigest struct {
	Entries []CreateEntry
}

// CreateEntry is a file with content, a symlink (Target set) or an empty
// directory (Directory set).
type CreateEntry struct {
	Path       string
	Content    []byte
	Executable bool
	Target     string
	Directory  bool
}
