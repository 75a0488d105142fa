// Package store provides the local durable store backing the offline queue,
// the entity cache and the conflict log.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the sql.DB with sync-core configuration.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database under dataDir. The database is opened with
// WAL mode for concurrent reads and foreign key constraints enabled, and the
// schema is created on first open.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "synckit.db")

	// Pure Go driver, no CGO.
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &DB{db}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}

// migrate creates the schema. Every statement is idempotent.
func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_operations (
		id TEXT PRIMARY KEY,
		idempotency_key TEXT NOT NULL,
		operation_type TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL DEFAULT '',
		payload BLOB,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		last_error TEXT NOT NULL DEFAULT '',
		depends_on TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		last_attempt_at INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sync_operations_status
		ON sync_operations(status);

	CREATE TABLE IF NOT EXISTS cached_entities (
		id TEXT NOT NULL,
		table_name TEXT NOT NULL,
		payload BLOB,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		synced_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (table_name, id)
	);

	CREATE TABLE IF NOT EXISTS sync_conflicts (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		local_payload BLOB,
		remote_payload BLOB,
		local_timestamp INTEGER NOT NULL DEFAULT 0,
		remote_timestamp INTEGER NOT NULL DEFAULT 0,
		conflicting_fields TEXT NOT NULL DEFAULT '[]',
		detected_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sync_conflicts_entity
		ON sync_conflicts(entity_id);
	`
	_, err := db.Exec(schema)
	return err
}
