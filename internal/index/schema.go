// Package index provides the SQLite catalog behind the local backend, with
// optional FTS5 full-text search over kitems.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS ktypes (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	webform     TEXT NOT NULL DEFAULT '',
	json_schema TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS kitems (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	slug          TEXT NOT NULL,
	ktype_id      TEXT NOT NULL REFERENCES ktypes(id),
	summary       TEXT NOT NULL DEFAULT '',
	avatar_exists INTEGER NOT NULL DEFAULT 0,
	doc           TEXT NOT NULL DEFAULT '{}',
	created_at    TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL DEFAULT '',
	UNIQUE(ktype_id, slug)
);

CREATE TABLE IF NOT EXISTS links (
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	UNIQUE(source, target)
);

CREATE INDEX IF NOT EXISTS idx_links_source ON links(source);
CREATE INDEX IF NOT EXISTS idx_links_target ON links(target);

CREATE TABLE IF NOT EXISTS dataframes (
	kitem_id TEXT PRIMARY KEY,
	data     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS subgraphs (
	kitem_id   TEXT NOT NULL,
	repository TEXT NOT NULL,
	triples    TEXT NOT NULL,
	PRIMARY KEY (kitem_id, repository)
);

CREATE TABLE IF NOT EXISTS app_specs (
	name       TEXT PRIMARY KEY,
	spec       BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// DB wraps a sql.DB with catalog operations.
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
