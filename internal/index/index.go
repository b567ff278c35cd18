// Package index provides SQLite-backed persistence of story graph versions,
// with search rows for the head version and optional FTS5 full-text search.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS stories (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL DEFAULT '',
	head_version_id TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS versions (
	id         TEXT PRIMARY KEY,
	story_id   TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
	parent_id  TEXT NOT NULL DEFAULT '',
	patch_id   TEXT NOT NULL DEFAULT '',
	patch      TEXT NOT NULL DEFAULT '',
	graph      TEXT NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_versions_story ON versions(story_id, created_at);

CREATE TABLE IF NOT EXISTS nodes (
	story_id TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
	node_id  TEXT NOT NULL,
	type     TEXT NOT NULL,
	label    TEXT NOT NULL DEFAULT '',
	body     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (story_id, node_id)
);

CREATE TABLE IF NOT EXISTS mentions (
	story_id   TEXT NOT NULL REFERENCES stories(id) ON DELETE CASCADE,
	source     TEXT NOT NULL,
	target     TEXT NOT NULL,
	field      TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	UNIQUE(story_id, source, target, field)
);

CREATE INDEX IF NOT EXISTS idx_mentions_target ON mentions(story_id, target);

CREATE TABLE IF NOT EXISTS contexts (
	story_id   TEXT PRIMARY KEY,
	path       TEXT NOT NULL,
	checksum   TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
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

// Ping checks that the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}
