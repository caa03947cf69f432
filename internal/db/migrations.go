package db

import (
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent and valid for both dialects. Append new
// migrations at the end.
var migrations = []string{
	// Migration 1: listing and filtering indexes for the transfer and
	// movement read paths.
	`CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers(from_location_id)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_to ON transfers(to_location_id)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_variant ON inventory_movements(variant_id, location_id)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_transfer ON inventory_movements(transfer_id)`,

	// Migration 2: at most one default location.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_single_default
	     ON locations(is_default) WHERE is_default AND deleted_at IS NULL`,
}

// postgresMigrations run after migrations on PostgreSQL only.
var postgresMigrations = []string{
	// Widen 32-bit counters and quantities created by earlier schemas.
	`ALTER TABLE inventory_levels
	     ALTER COLUMN on_hand TYPE BIGINT,
	     ALTER COLUMN committed TYPE BIGINT,
	     ALTER COLUMN reserved TYPE BIGINT`,
	`ALTER TABLE inventory_movements
	     ALTER COLUMN delta_on_hand TYPE BIGINT,
	     ALTER COLUMN delta_committed TYPE BIGINT,
	     ALTER COLUMN delta_reserved TYPE BIGINT`,
	`ALTER TABLE transfers ALTER COLUMN total_quantity TYPE BIGINT`,
	`ALTER TABLE transfer_line_items
	     ALTER COLUMN quantity TYPE BIGINT,
	     ALTER COLUMN received_quantity TYPE BIGINT,
	     ALTER COLUMN returned_quantity TYPE BIGINT`,
}

// Migrate ensures the schema and runs the migrations.
func Migrate(d *DB) error {
	if err := EnsureSchema(d); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	for i, m := range migrations {
		if _, err := d.DB.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	if d.Dialect() != Postgres {
		return nil
	}
	for i, m := range postgresMigrations {
		if _, err := d.DB.Exec(m); err != nil {
			return fmt.Errorf("running postgres migration %d: %w", i+1, err)
		}
	}

	return nil
}
