package db

import (
	"testing"
)

// NewTestDB creates a fresh in-memory SQLite database with the schema and
// migrations applied.
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	database, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}

	if err := Migrate(database); err != nil {
		database.Close()
		t.Fatalf("migrating test database: %v", err)
	}

	t.Cleanup(func() { database.Close() })

	return database
}
