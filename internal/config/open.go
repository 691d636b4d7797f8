package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/strata/internal/store"
)

// OpenStore opens the configured backend and attaches the remote, if any.
func OpenStore(ctx context.Context, c Config, logger *slog.Logger) (*store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []store.Option{store.WithLogger(logger)}
	if c.Remote.Enabled() {
		remote, err := store.NewGCSRemote(ctx, store.GCSConfig{
			Bucket:          c.Remote.Bucket,
			Prefix:          c.Remote.Prefix,
			CredentialsFile: c.Remote.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, store.WithRemote(remote))
	}

	path := c.StorePath()
	switch c.Store.Backend {
	case BackendMemory:
		return store.OpenMemory(opts...)
	case BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		b, err := store.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return store.New(b, opts...), nil
	case BackendBadger:
		bc := store.DefaultBadgerConfig(path)
		bc.Logger = logger
		b, err := store.OpenBadger(bc)
		if err != nil {
			return nil, err
		}
		return store.New(b, opts...), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
}
