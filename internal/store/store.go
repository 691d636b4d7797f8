package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/strata/internal/fs"
)

// Store is the content-addressed store.
//
// Thread-safety: safe for concurrent use.
type Store struct {
	backend Backend
	remote  Remote
	flight  singleflight.Group
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRemote sets the read-through remote.
func WithRemote(r Remote) Option {
	return func(s *Store) {
		s.remote = r
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenMemory creates a Store over an in-memory Badger backend.
func OpenMemory(opts ...Option) (*Store, error) {
	b, err := OpenBadger(InMemoryBadgerConfig())
	if err != nil {
		return nil, err
	}
	return New(b, opts...), nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// StoreFileBytes stores file content and returns its digest.
func (s *Store) StoreFileBytes(ctx context.Context, data []byte) (fs.Digest, error) {
	d := fs.DigestOf(data)
	if d == fs.EmptyFileDigest {
		return d, nil
	}
	if err := s.backend.Store(ctx, BlobFile, d, data); err != nil {
		return fs.Digest{}, err
	}
	return d, nil
}

// LoadFileBytes returns the content of a file digest.
func (s *Store) LoadFileBytes(ctx context.Context, d fs.Digest) ([]byte, error) {
	if d == fs.EmptyFileDigest {
		return []byte{}, nil
	}
	return s.load(ctx, BlobFile, d)
}

// RecordDirectory encodes and stores one directory node. Children are not
// checked for presence.
func (s *Store) RecordDirectory(ctx context.Context, dir *fs.Directory) (fs.Digest, error) {
	d, data, err := dir.Encode()
	if err != nil {
		return fs.Digest{}, err
	}
	if d == fs.EmptyDirectoryDigest {
		return d, nil
	}
	if err := s.backend.Store(ctx, BlobDirectory, d, data); err != nil {
		return fs.Digest{}, err
	}
	return d, nil
}

// recordTree stores every directory produced by a TreeBuilder.
func (s *Store) recordTree(ctx context.Context, dirs map[fs.Digest]*fs.Directory) error {
	for _, dir := range dirs {
		if _, err := s.RecordDirectory(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}

// LoadDirectory returns the directory node for d.
func (s *Store) LoadDirectory(ctx context.Context, d fs.Digest) (*fs.Directory, error) {
	if d == fs.EmptyDirectoryDigest {
		return &fs.Directory{}, nil
	}
	data, err := s.load(ctx, BlobDirectory, d)
	if err != nil {
		return nil, err
	}
	return fs.DecodeDirectory(data)
}

// Has reports whether the blob is present locally.
func (s *Store) Has(ctx context.Context, kind BlobKind, d fs.Digest) (bool, error) {
	switch {
	case kind == BlobFile && d == fs.EmptyFileDigest:
		return true, nil
	case kind == BlobDirectory && d == fs.EmptyDirectoryDigest:
		return true, nil
	}
	return s.backend.Has(ctx, kind, d)
}

// load reads locally, falling back to the remote. Concurrent fetches of the
// same digest share one remote round trip.
func (s *Store) load(ctx context.Context, kind BlobKind, d fs.Digest) ([]byte, error) {
	data, err := s.backend.Load(ctx, kind, d)
	if err == nil || !errors.Is(err, ErrMissingDigest) || s.remote == nil {
		return data, err
	}

	key := string(blobKey(kind, d))
	v, err, shared := s.flight.Do(key, func() (any, error) {
		return s.fetchRemote(ctx, kind, d)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("shared remote fetch", "digest", d.String())
	}
	return v.([]byte), nil
}

func (s *Store) fetchRemote(ctx context.Context, kind BlobKind, d fs.Digest) ([]byte, error) {
	data, err := s.remote.Fetch(ctx, kind, d)
	if err != nil {
		return nil, err
	}
	if actual := fs.DigestOf(data); actual != d {
		s.logger.Error("remote digest mismatch",
			"kind", kind.String(),
			"expected", d.String(),
			"actual", actual.String(),
		)
		return nil, &DigestMismatchError{Expected: d, Actual: actual}
	}
	if err := s.backend.Store(ctx, kind, d, data); err != nil {
		return nil, fmt.Errorf("cache remote blob: %w", err)
	}
	return data, nil
}

// Upload pushes the tree rooted at d, and every file it references, to the
// remote.
func (s *Store) Upload(ctx context.Context, d fs.Digest) error {
	if s.remote == nil {
		return errors.New("no remote configured")
	}
	return s.walk(ctx, d, "", func(p string, dir *fs.Directory, dirDigest fs.Digest) error {
		if dirDigest != fs.EmptyDirectoryDigest {
			_, data, err := dir.Encode()
			if err != nil {
				return err
			}
			if err := s.remote.Upload(ctx, BlobDirectory, dirDigest, data); err != nil {
				return err
			}
		}
		for _, f := range dir.Files {
			data, err := s.LoadFileBytes(ctx, f.Digest)
			if err != nil {
				return err
			}
			if err := s.remote.Upload(ctx, BlobFile, f.Digest, data); err != nil {
				return err
			}
		}
		return nil
	})
}
