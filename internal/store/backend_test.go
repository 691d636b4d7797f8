package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/strata/internal/fs"
)

func openBackends(t *testing.T) map[string]Backend {
	t.Helper()

	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "cas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sq.Close() })

	bg, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { bg.Close() })

	return map[string]Backend{"sqlite": sq, "badger": bg}
}

func TestBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			data := []byte("hello")
			d := fs.DigestOf(data)

			has, err := b.Has(ctx, BlobFile, d)
			require.NoError(t, err)
			assert.False(t, has)

			_, err = b.Load(ctx, BlobFile, d)
			assert.ErrorIs(t, err, ErrMissingDigest)

			require.NoError(t, b.Store(ctx, BlobFile, d, data))
			require.NoError(t, b.Store(ctx, BlobFile, d, data), "writes are idempotent")

			got, err := b.Load(ctx, BlobFile, d)
			require.NoError(t, err)
			assert.Equal(t, data, got)

			_, err = b.Load(ctx, BlobDirectory, d)
			assert.ErrorIs(t, err, ErrMissingDigest, "kinds are separate namespaces")
		})
	}
}

func TestBackendActionCache(t *testing.T) {
	ctx := context.Background()
	for name, b := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			key := [32]byte{1, 2, 3}

			_, err := b.LoadAction(ctx, key)
			assert.ErrorIs(t, err, ErrNoAction)

			require.NoError(t, b.StoreAction(ctx, key, []byte("v1")))
			require.NoError(t, b.StoreAction(ctx, key, []byte("v2")))

			got, err := b.LoadAction(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, []byte("v2"), got)
		})
	}
}

func TestSQLitePragmasAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cas.db")

	b, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, b.verifyPragma("journal_mode", "wal"))
	require.NoError(t, b.verifyPragma("user_version", "1"))

	data := []byte("persisted")
	require.NoError(t, b.Store(context.Background(), BlobFile, fs.DigestOf(data), data))
	require.NoError(t, b.Close())

	b, err = OpenSQLite(path)
	require.NoError(t, err)
	defer b.Close()

	got, err := b.Load(context.Background(), BlobFile, fs.DigestOf(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestBadgerPersistentRequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)

	b, err := OpenBadger(DefaultBadgerConfig(filepath.Join(t.TempDir(), "badger")))
	require.NoError(t, err)
	require.NoError(t, b.Close())
}
