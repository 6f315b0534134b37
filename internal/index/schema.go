// Package index provides the SQLite persistence layer: the capsule store,
// license and request repositories, and the backup catalog, with optional
// FTS5 capsule search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS capsules (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL DEFAULT '',
	grief_score REAL NOT NULL DEFAULT 0,
	timestamp   INTEGER NOT NULL DEFAULT 0,
	metadata    TEXT NOT NULL DEFAULT '{}',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_capsules_type ON capsules(type);

CREATE TABLE IF NOT EXISTS licenses (
	id          TEXT PRIMARY KEY,
	capsule_id  TEXT NOT NULL,
	licensed_to TEXT NOT NULL DEFAULT '',
	issued_at   INTEGER NOT NULL,
	record      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_licenses_capsule ON licenses(capsule_id);

CREATE TABLE IF NOT EXISTS license_requests (
	id         TEXT PRIMARY KEY,
	capsule_id TEXT NOT NULL,
	status     TEXT NOT NULL,
	record     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS backups (
	path          TEXT PRIMARY KEY,
	checksum      TEXT NOT NULL DEFAULT '',
	size          INTEGER NOT NULL DEFAULT 0,
	capsule_count INTEGER NOT NULL DEFAULT 0,
	encrypted     INTEGER NOT NULL DEFAULT 0,
	valid         INTEGER NOT NULL DEFAULT 0,
	issue         TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL DEFAULT 0,
	cataloged_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB with index-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
