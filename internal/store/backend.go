package store

import (
	"context"

	"github.com/roach88/strata/internal/fs"
)

// BlobKind separates file bytes from encoded directory nodes.
type BlobKind byte

const (
	// BlobFile is raw file content.
	BlobFile BlobKind = 'f'
	// BlobDirectory is a canonically encoded fs.Directory.
	BlobDirectory BlobKind = 'd'
)

// String returns "file" or "directory".
func (k BlobKind) String() string {
	switch k {
	case BlobFile:
		return "file"
	case BlobDirectory:
		return "directory"
	}
	return "unknown"
}

// Backend persists blobs by digest and action cache entries by key.
//
// Implementations must be safe for concurrent use. Load returns an error
// matching ErrMissingDigest when the blob is absent; LoadAction returns
// ErrNoAction. Writing an existing key is a no-op.
type Backend interface {
	Load(ctx context.Context, kind BlobKind, d fs.Digest) ([]byte, error)
	Store(ctx context.Context, kind BlobKind, d fs.Digest, data []byte) error
	Has(ctx context.Context, kind BlobKind, d fs.Digest) (bool, error)

	LoadAction(ctx context.Context, key [32]byte) ([]byte, error)
	StoreAction(ctx context.Context, key [32]byte, data []byte) error

	Close() error
}
