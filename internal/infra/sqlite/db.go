// Package sqlite provides the embedded SQLite state store for Tandem.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/tandem-app/tandem/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations.
// It implements domain.StateStore.
type DB struct {
	db *sql.DB
}

var _ domain.StateStore = (*DB)(nil)

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode and a 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Engagement state, one JSON document per key
		`CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_kv_updated ON kv(updated_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Key-Value ──────────────────────────────────────────────────────────────

// Get retrieves a value by key. exists is false if the key is absent.
func (d *DB) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set stores a single key-value pair.
func (d *DB) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return domain.ErrInvalidKey
	}
	_, err := d.db.ExecContext(ctx, upsertSQL, key, value, time.Now().Unix())
	return err
}

// SetMany writes every entry in a single transaction.
func (d *DB) SetMany(ctx context.Context, entries map[string][]byte) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for k, v := range entries {
		if k == "" {
			return domain.ErrInvalidKey
		}
		if _, err := tx.ExecContext(ctx, upsertSQL, k, v, now); err != nil {
			return fmt.Errorf("upsert %s: %w", k, err)
		}
	}
	return tx.Commit()
}

const upsertSQL = `INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
	 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`
