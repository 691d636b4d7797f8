package store

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/strata/internal/fs"
)

// BadgerConfig configures a Badger backend.
type BadgerConfig struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps all data in memory; nothing touches disk.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger

	// GCInterval is the value log GC period. Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64
}

// DefaultBadgerConfig returns settings for a persistent store.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryBadgerConfig returns settings for a throwaway store.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerBackend stores blobs in a Badger key-value database.
//
// Key layout:
//
//	f/<hex>-<size>  file bytes
//	d/<hex>-<size>  directory node
//	a/<hex>         action cache entry
type BadgerBackend struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

// OpenBadger opens a Badger backend.
func OpenBadger(cfg BadgerConfig) (*BadgerBackend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &BadgerBackend{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.stopGC = make(chan struct{})
		b.doneGC = make(chan struct{})
		go b.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return b, nil
}

func (b *BadgerBackend) runGC(interval time.Duration, ratio float64) {
	defer close(b.doneGC)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			if err := b.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				b.logger.Warn("badger value log GC error", "error", err)
			}
		}
	}
}

// Close stops GC and closes the database.
func (b *BadgerBackend) Close() error {
	if b.stopGC != nil {
		close(b.stopGC)
		<-b.doneGC
	}
	return b.db.Close()
}

func blobKey(kind BlobKind, d fs.Digest) []byte {
	return []byte(fmt.Sprintf("%c/%s-%d", kind, d.Hex(), d.Size))
}

func actionKey(key [32]byte) []byte {
	return []byte("a/" + hex.EncodeToString(key[:]))
}

func (b *BadgerBackend) get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Load implements Backend.
func (b *BadgerBackend) Load(ctx context.Context, kind BlobKind, d fs.Digest) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := b.get(blobKey(kind, d))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &MissingDigestError{Digest: d, Kind: kind}
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, d, err)
	}
	return data, nil
}

// Store implements Backend.
func (b *BadgerBackend) Store(ctx context.Context, kind BlobKind, d fs.Digest, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := blobKey(kind, d)
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("store %s %s: %w", kind, d, err)
	}
	return nil
}

// Has implements Backend.
func (b *BadgerBackend) Has(ctx context.Context, kind BlobKind, d fs.Digest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blobKey(kind, d))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has %s %s: %w", kind, d, err)
	}
	return true, nil
}

// LoadAction implements Backend.
func (b *BadgerBackend) LoadAction(ctx context.Context, key [32]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := b.get(actionKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNoAction
	}
	if err != nil {
		return nil, fmt.Errorf("load action: %w", err)
	}
	return data, nil
}

// StoreAction implements Backend.
func (b *BadgerBackend) StoreAction(ctx context.Context, key [32]byte, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(actionKey(key), data)
	})
	if err != nil {
		return fmt.Errorf("store action: %w", err)
	}
	return nil
}
