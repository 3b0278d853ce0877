// Package store is the typed persistence layer over the broker's catalog:
// projects, sessions, teams, agents, connections, contexts and their chunks.
// Apart from ErrNotFound for lookups and updates that match no row, it
// classifies failures as ErrTransient or ErrPermanent, so the Writer knows
// which ones are worth retrying.
package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed migrations/001_init.sql
var migration001 string

// Store is the concrete implementation of broker persistence using SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and opens the broker's SQLite database at path,
// running the embedded schema and any pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// modernc.org/sqlite serializes access to one connection per *sql.DB
	// handle internally; keep the pool small rather than letting database/sql
	// fan out connections the driver would just contend on.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check schema version: %w", err)
	}

	if version < 1 {
		if _, err := s.db.Exec(migration001); err != nil {
			return fmt.Errorf("failed to run migration 001: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// withTx executes fn inside a transaction, rolling back on any returned
// error and classifying the commit failure the same way query failures are
// classified.
func (s *Store) withTx(op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return classify(op, err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}
