package db

import (
	"context"
	"regexp"
	"strings"
	"testing"
)

func TestPostgresSchemaUsesBigintCounters(t *testing.T) {
	if m := regexp.MustCompile(`\bINTEGER\b`).FindString(postgresSchema); m != "" {
		t.Errorf("postgres schema has a 32-bit column; counters must be BIGINT")
	}
	for _, col := range []string{"on_hand", "committed", "reserved", "quantity", "delta_on_hand"} {
		if !regexp.MustCompile(`\b` + col + `\s+BIGINT\b`).MatchString(postgresSchema) {
			t.Errorf("expected %s to be BIGINT", col)
		}
	}
	for _, m := range postgresMigrations {
		if !strings.Contains(m, "TYPE BIGINT") {
			t.Errorf("unexpected postgres migration: %s", m)
		}
	}
}

func TestSQLiteStoresLargeCounters(t *testing.T) {
	database := NewTestDB(t)
	ctx := context.Background()

	const big = int64(1) << 40
	_, err := database.ExecContext(ctx,
		`INSERT INTO inventory_levels (variant_id, location_id, on_hand) VALUES (?, ?, ?)`, 1, 1, big,
	)
	if err != nil {
		t.Fatalf("inserting level: %v", err)
	}

	var got int64
	if err := database.QueryRowContext(ctx,
		`SELECT on_hand FROM inventory_levels WHERE variant_id = 1 AND location_id = 1`,
	).Scan(&got); err != nil {
		t.Fatalf("reading level: %v", err)
	}
	if got != big {
		t.Errorf("expected %d, got %d", big, got)
	}
}
