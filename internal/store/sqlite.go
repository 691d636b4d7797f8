package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/strata/internal/fs"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (blobs only)
// 1 - Added action_cache table
const currentSchemaVersion = 1

// SQLiteBackend stores blobs in a single SQLite database.
// Uses WAL mode for concurrent read access.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//
// This function is idempotent - safe to call multiple times.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1) // Single writer to avoid SQLITE_BUSY errors
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context, kind BlobKind, d fs.Digest) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `
		SELECT data FROM blobs
		WHERE kind = ? AND fingerprint = ? AND size = ?
	`, string(kind), d.Hex(), d.Size).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &MissingDigestError{Digest: d, Kind: kind}
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, d, err)
	}
	return data, nil
}

// Store implements Backend. Uses ON CONFLICT DO NOTHING for idempotency.
func (b *SQLiteBackend) Store(ctx context.Context, kind BlobKind, d fs.Digest, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO blobs (kind, fingerprint, size, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, string(kind), d.Hex(), d.Size, data)
	if err != nil {
		return fmt.Errorf("store %s %s: %w", kind, d, err)
	}
	return nil
}

// Has implements Backend.
func (b *SQLiteBackend) Has(ctx context.Context, kind BlobKind, d fs.Digest) (bool, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM blobs
		WHERE kind = ? AND fingerprint = ? AND size = ?
	`, string(kind), d.Hex(), d.Size).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has %s %s: %w", kind, d, err)
	}
	return n > 0, nil
}

// LoadAction implements Backend.
func (b *SQLiteBackend) LoadAction(ctx context.Context, key [32]byte) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `
		SELECT result FROM action_cache WHERE key = ?
	`, hex.EncodeToString(key[:])).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoAction
	}
	if err != nil {
		return nil, fmt.Errorf("load action: %w", err)
	}
	return data, nil
}

// StoreAction implements Backend. A later result for the same key replaces
// the earlier one.
func (b *SQLiteBackend) StoreAction(ctx context.Context, key [32]byte, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO action_cache (key, result) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET result = excluded.result
	`, hex.EncodeToString(key[:]), data)
	if err != nil {
		return fmt.Errorf("store action: %w", err)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the action cache. Keys are hex action digests; results
// are opaque bytes owned by the process package.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS action_cache (
			key    TEXT PRIMARY KEY,
			result BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (b *SQLiteBackend) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := b.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
