// Package index provides the SQLite-backed annotation collection with
// optional FTS5 full-text search.
package index

import (
	"database/sql"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS annotations (
	id         TEXT PRIMARY KEY,
	uri        TEXT NOT NULL DEFAULT '',
	uri_key    TEXT NOT NULL DEFAULT '',
	root_id    TEXT NOT NULL DEFAULT '',
	parent_id  TEXT NOT NULL DEFAULT '',
	kind       INTEGER NOT NULL DEFAULT 0,
	pubkey     TEXT NOT NULL DEFAULT '',
	text       TEXT NOT NULL DEFAULT '',
	quote      TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '[]',
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_annotations_uri_key ON annotations(uri_key);
CREATE INDEX IF NOT EXISTS idx_annotations_root ON annotations(root_id);

CREATE TABLE IF NOT EXISTS annotation_relays (
	id    TEXT NOT NULL,
	relay TEXT NOT NULL,
	UNIQUE(id, relay)
);

CREATE INDEX IF NOT EXISTS idx_annotation_relays_id ON annotation_relays(id);
`

// DB wraps a sql.DB with collection operations.
type DB struct {
	conn     *sql.DB
	fetching atomic.Int32
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

// FetchStarted marks one more fetch as in progress.
func (db *DB) FetchStarted() { db.fetching.Add(1) }

// FetchFinished marks a fetch as done.
func (db *DB) FetchFinished() {
	if db.fetching.Add(-1) < 0 {
		db.fetching.Store(0)
	}
}

// Fetching reports whether any fetch is in progress.
func (db *DB) Fetching() bool { return db.fetching.Load() > 0 }
