package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/model"
)

const levelColumns = `il.variant_id, il.location_id, il.on_hand, il.committed, il.reserved, il.version, il.updated_at`

func scanLevel(row rowScanner) (model.InventoryLevel, error) {
	var l model.InventoryLevel
	err := row.Scan(&l.VariantID, &l.LocationID, &l.OnHand, &l.Committed, &l.Reserved, &l.Version, &l.UpdatedAt)
	return l, err
}

// GetInventoryLevel returns the counters for a (variant, location) pair.
// A missing row is returned as an all-zero level.
func GetInventoryLevel(ctx context.Context, conn db.Conn, variantID, locationID int64) (model.InventoryLevel, error) {
	l, err := scanLevel(conn.QueryRowContext(ctx,
		`SELECT `+levelColumns+` FROM inventory_levels il
		 WHERE il.variant_id = ? AND il.location_id = ?`,
		variantID, locationID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return model.InventoryLevel{VariantID: variantID, LocationID: locationID}, nil
	}
	if err != nil {
		return model.InventoryLevel{}, fmt.Errorf("getting inventory level: %w", err)
	}
	return l, nil
}

// LockInventoryLevel creates the row for a pair if it is missing and reads
// it back, holding a row lock on PostgreSQL until the transaction ends.
func LockInventoryLevel(ctx context.Context, tx *db.Tx, variantID, locationID int64) (model.InventoryLevel, error) {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO inventory_levels (variant_id, location_id) VALUES (?, ?)
		 ON CONFLICT (variant_id, location_id) DO NOTHING`,
		variantID, locationID,
	)
	if err != nil {
		return model.InventoryLevel{}, fmt.Errorf("creating inventory level: %w", err)
	}

	l, err := scanLevel(tx.QueryRowContext(ctx,
		`SELECT `+levelColumns+` FROM inventory_levels il
		 WHERE il.variant_id = ? AND il.location_id = ?`+tx.Dialect().ForUpdate(),
		variantID, locationID,
	))
	if err != nil {
		return model.InventoryLevel{}, fmt.Errorf("locking inventory level: %w", err)
	}
	return l, nil
}

// UpdateInventoryLevel writes the counters of l, guarded by the version it
// was read at. It returns db.ErrConflict if the row changed in between.
func UpdateInventoryLevel(ctx context.Context, tx *db.Tx, l model.InventoryLevel) (model.InventoryLevel, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE inventory_levels
		 SET on_hand = ?, committed = ?, reserved = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE variant_id = ? AND location_id = ? AND version = ?`,
		l.OnHand, l.Committed, l.Reserved, l.VariantID, l.LocationID, l.Version,
	)
	if err != nil {
		return model.InventoryLevel{}, fmt.Errorf("updating inventory level: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.InventoryLevel{}, fmt.Errorf("updating inventory level: %w", err)
	}
	if n == 0 {
		return model.InventoryLevel{}, fmt.Errorf("inventory level (%d, %d) at version %d: %w",
			l.VariantID, l.LocationID, l.Version, db.ErrConflict)
	}

	return GetInventoryLevel(ctx, tx, l.VariantID, l.LocationID)
}

// InventoryFilter narrows ListInventory. Zero fields match everything.
type InventoryFilter struct {
	VariantID  int64
	LocationID int64
	// NonZero skips rows whose counters are all zero.
	NonZero bool
}

// ListInventory returns inventory levels with location names and SKUs.
func ListInventory(ctx context.Context, conn db.Conn, f InventoryFilter) ([]model.InventoryLevel, error) {
	var where []string
	var args []any
	if f.VariantID != 0 {
		where = append(where, "il.variant_id = ?")
		args = append(args, f.VariantID)
	}
	if f.LocationID != 0 {
		where = append(where, "il.location_id = ?")
		args = append(args, f.LocationID)
	}
	if f.NonZero {
		where = append(where, "(il.on_hand <> 0 OR il.committed <> 0 OR il.reserved <> 0)")
	}

	query := `SELECT ` + levelColumns + `, COALESCE(l.name, ''), COALESCE(v.sku, '')
		FROM inventory_levels il
		LEFT JOIN locations l ON l.id = il.location_id
		LEFT JOIN variants v ON v.id = il.variant_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY il.variant_id, il.location_id"

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing inventory: %w", err)
	}
	defer rows.Close()

	var levels []model.InventoryLevel
	for rows.Next() {
		var l model.InventoryLevel
		if err := rows.Scan(&l.VariantID, &l.LocationID, &l.OnHand, &l.Committed, &l.Reserved,
			&l.Version, &l.UpdatedAt, &l.LocationName, &l.SKU); err != nil {
			return nil, fmt.Errorf("scanning inventory: %w", err)
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// LocationHasStock reports whether any counter at the location is nonzero.
func LocationHasStock(ctx context.Context, conn db.Conn, locationID int64) (bool, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inventory_levels
		 WHERE location_id = ? AND (on_hand <> 0 OR committed <> 0 OR reserved <> 0)`,
		locationID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking location stock: %w", err)
	}
	return n > 0, nil
}
