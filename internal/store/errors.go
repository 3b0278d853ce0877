package store

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrTransient marks a failure the Writer should retry: the database is
// momentarily unavailable or contended.
var ErrTransient = errors.New("store: transient failure")

// ErrPermanent marks a failure that will never succeed on retry: a
// constraint violation, a missing foreign key, malformed input.
var ErrPermanent = errors.New("store: permanent failure")

// ErrNotFound is returned by single-row lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// classify wraps a raw database error as ErrTransient or ErrPermanent so the
// Writer can decide whether to retry without inspecting driver internals
// itself.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%s: %w: %v", op, ErrTransient, err)
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%s: %w: %v", op, ErrPermanent, err)
		}
	}

	return fmt.Errorf("%s: %w: %v", op, ErrPermanent, err)
}
