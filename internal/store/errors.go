package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// Domain errors for the store package.
var (
	// ErrContention marks a transient lock failure (SQLITE_BUSY or
	// SQLITE_LOCKED). The write did not happen and may be retried.
	ErrContention = errors.New("store: database busy")

	// ErrReadOnly is returned when writing through a read-only store.
	ErrReadOnly = errors.New("store: read-only")

	// ErrClosed is returned when using a store after Close.
	ErrClosed = errors.New("store: closed")
)

// IsContention reports whether err is a transient lock failure.
func IsContention(err error) bool {
	if errors.Is(err, ErrContention) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// classify wraps sqlite lock errors with ErrContention so callers need only errors.Is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsContention(err) && !errors.Is(err, ErrContention) {
		return fmt.Errorf("%s: %w: %w", op, ErrContention, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
