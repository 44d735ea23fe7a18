// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vault Contributors

// Package sqlite is the persistent backend: documents with revision counters,
// edge tables, FTS5 search rows, and sqlite-vec cosine indexes, all in one
// database file.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/vaultml/vault/internal/store"
)

func init() {
	sqlite_vec.Auto()

	store.RegisterBackend("sqlite", func(cfg store.Config) (store.Store, error) {
		name := cfg.Database
		if name == "" {
			name = "vault"
		}
		return Open(filepath.Join(cfg.Path, name+".db"))
	})
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the sqlite-backed store.Store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating store tables: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT    NOT NULL,
	key        TEXT    NOT NULL,
	rev        INTEGER NOT NULL,
	data       TEXT    NOT NULL DEFAULT '{}',
	PRIMARY KEY (collection, key)
);

CREATE TABLE IF NOT EXISTS edges (
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	src        TEXT NOT NULL,
	dst        TEXT NOT NULL,
	attrs      TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (collection, key)
);

CREATE INDEX IF NOT EXISTS idx_edges_src ON edges(collection, src);
CREATE INDEX IF NOT EXISTS idx_edges_dst ON edges(collection, dst);

CREATE TABLE IF NOT EXISTS search_docs (
	id         INTEGER PRIMARY KEY,
	collection TEXT NOT NULL,
	key        TEXT NOT NULL,
	field      TEXT NOT NULL,
	UNIQUE (collection, key, field)
);

CREATE TABLE IF NOT EXISTS vector_index_meta (
	field      TEXT PRIMARY KEY,
	dimension  INTEGER NOT NULL,
	n_lists    INTEGER NOT NULL,
	n_probe    INTEGER NOT NULL,
	train_iter INTEGER NOT NULL
);
`
	if _, err := db.Exec(ddl); err != nil {
		return err
	}

	const fts = `CREATE VIRTUAL TABLE IF NOT EXISTS docs_fts USING fts5(body)`
	if _, err := db.Exec(fts); err != nil {
		return fmt.Errorf("creating fts table: %w", err)
	}

	return nil
}

func (s *Store) Documents() store.DocumentStore { return &documents{db: s.db} }
func (s *Store) Edges() store.EdgeStore         { return &edges{db: s.db} }
func (s *Store) Search() store.SearchStore      { return &search{db: s.db} }
func (s *Store) Vectors() store.VectorStore     { return &vectors{db: s.db} }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
