package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrConflict is returned by store writes whose compare-and-swap guard
// (row version or expected status) matched no row.
var ErrConflict = errors.New("concurrent modification")

// ErrRetriesExhausted wraps the last transient error once RetryTx gives up.
var ErrRetriesExhausted = errors.New("retries exhausted")

// IsTransient reports whether err is worth retrying in a new transaction.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"23505": // unique_violation (racing lazy inserts)
			return true
		}
		return false
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// RetryTx runs fn in a fresh transaction up to attempts times while it fails
// with a transient error. fn must not keep state between attempts.
func (d *DB) RetryTx(ctx context.Context, attempts int, fn func(tx *Tx) error) error {
	if attempts < 1 {
		attempts = 1
	}

	backoff := 2 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		err = d.InTx(ctx, fn)
		if !IsTransient(err) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
}
