package store

import (
	"errors"
	"fmt"

	"github.com/roach88/strata/internal/fs"
)

// ErrMissingDigest is returned when content is absent locally and from the
// remote (if any).
var ErrMissingDigest = errors.New("missing digest")

// ErrPrefixMismatch is returned by RemovePrefix when the tree holds entries
// outside the prefix.
var ErrPrefixMismatch = errors.New("digest has entries outside prefix")

// MissingDigestError names the digest that could not be found.
// It matches ErrMissingDigest under errors.Is.
type MissingDigestError struct {
	Digest fs.Digest
	Kind   BlobKind
}

// Error implements the error interface.
func (e *MissingDigestError) Error() string {
	return fmt.Sprintf("missing %s digest %s", e.Kind, e.Digest)
}

// Is reports whether target is ErrMissingDigest.
func (e *MissingDigestError) Is(target error) bool {
	return target == ErrMissingDigest
}

// DigestMismatchError reports remote content whose hash differs from the
// requested digest.
type DigestMismatchError struct {
	Expected fs.Digest
	Actual   fs.Digest
}

// Error implements the error interface.
func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch: expected %s, got %s", e.Expected, e.Actual)
}

// MergeConflictError reports two merge inputs disagreeing at one path.
type MergeConflictError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict at %q: %s", e.Path, e.Reason)
}

// OverlapError reports two materialize destinations in one batch that are
// equal or nested.
type OverlapError struct {
	First  string
	Second string
}

// Error implements the error interface.
func (e *OverlapError) Error() string {
	return fmt.Sprintf("materialize destinations overlap: %q and %q", e.First, e.Second)
}

// IsMissingDigest reports whether err is (or wraps) a missing digest error.
func IsMissingDigest(err error) bool {
	return errors.Is(err, ErrMissingDigest)
}

// ErrNoAction is returned by Backend.LoadAction for an unknown key.
var ErrNoAction = errors.New("action not cached")
