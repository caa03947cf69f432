package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/model"
)

// ErrLocationInUse is returned when deleting a location that still holds
// stock or is part of an open transfer.
var ErrLocationInUse = errors.New("location still has stock or open transfers")

const locationColumns = `id, name, is_default, is_fulfillment_center, is_pickup_location, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLocation(row rowScanner) (*model.Location, error) {
	l := &model.Location{}
	err := row.Scan(&l.ID, &l.Name, &l.IsDefault, &l.IsFulfillmentCenter, &l.IsPickupLocation, &l.CreatedAt, &l.DeletedAt)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// CreateLocation creates a location. The first active location becomes the
// default.
func CreateLocation(ctx context.Context, conn db.Conn, name string, fulfillment, pickup bool) (*model.Location, error) {
	var active int
	if err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM locations WHERE deleted_at IS NULL`,
	).Scan(&active); err != nil {
		return nil, fmt.Errorf("counting locations: %w", err)
	}

	var id int64
	err := conn.QueryRowContext(ctx,
		`INSERT INTO locations (name, is_default, is_fulfillment_center, is_pickup_location)
		 VALUES (?, ?, ?, ?) RETURNING id`,
		name, active == 0, fulfillment, pickup,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating location: %w", err)
	}

	return GetLocation(ctx, conn, id)
}

// GetLocation returns a location by ID, including soft-deleted ones.
// Returns nil if no such location exists.
func GetLocation(ctx context.Context, conn db.Conn, id int64) (*model.Location, error) {
	l, err := scanLocation(conn.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting location: %w", err)
	}
	return l, nil
}

// LockLocation reads a location inside tx, holding a row lock on PostgreSQL
// so a concurrent DeleteLocation waits for tx to finish. Returns nil if no
// such location exists.
func LockLocation(ctx context.Context, tx *db.Tx, id int64) (*model.Location, error) {
	l, err := scanLocation(tx.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE id = ?`+tx.Dialect().ForUpdate(), id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("locking location: %w", err)
	}
	return l, nil
}

// GetDefaultLocation returns the active default location, or nil if none is
// set.
func GetDefaultLocation(ctx context.Context, conn db.Conn) (*model.Location, error) {
	l, err := scanLocation(conn.QueryRowContext(ctx,
		`SELECT `+locationColumns+` FROM locations
		 WHERE is_default AND deleted_at IS NULL`,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting default location: %w", err)
	}
	return l, nil
}

// ListLocations returns all active locations.
func ListLocations(ctx context.Context, conn db.Conn) ([]model.Location, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT `+locationColumns+` FROM locations WHERE deleted_at IS NULL ORDER BY name, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing locations: %w", err)
	}
	defer rows.Close()

	var locations []model.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning location: %w", err)
		}
		locations = append(locations, *l)
	}
	return locations, rows.Err()
}

// UpdateLocation updates a location's name and flags.
func UpdateLocation(ctx context.Context, conn db.Conn, id int64, name string, fulfillment, pickup bool) error {
	_, err := conn.ExecContext(ctx,
		`UPDATE locations SET name = ?, is_fulfillment_center = ?, is_pickup_location = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		name, fulfillment, pickup, id,
	)
	if err != nil {
		return fmt.Errorf("updating location: %w", err)
	}
	return nil
}

// SetDefaultLocation makes id the only default location.
func SetDefaultLocation(ctx context.Context, tx *db.Tx, id int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE locations SET is_default = FALSE WHERE is_default AND id <> ?`, id,
	)
	if err != nil {
		return fmt.Errorf("clearing default location: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE locations SET is_default = TRUE WHERE id = ? AND deleted_at IS NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("setting default location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("location %d not found", id)
	}
	return nil
}

// DeleteLocation soft-deletes a location. It refuses while any inventory
// counter at the location is nonzero or a pending or in-transit transfer
// references it.
func DeleteLocation(ctx context.Context, tx *db.Tx, id int64) error {
	if _, err := LockLocation(ctx, tx, id); err != nil {
		return err
	}

	hasStock, err := LocationHasStock(ctx, tx, id)
	if err != nil {
		return err
	}
	if hasStock {
		return ErrLocationInUse
	}

	open, err := CountOpenTransfers(ctx, tx, id)
	if err != nil {
		return err
	}
	if open > 0 {
		return ErrLocationInUse
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE locations SET deleted_at = CURRENT_TIMESTAMP, is_default = FALSE
		 WHERE id = ? AND deleted_at IS NULL`,
		id,
	)
	if err != nil {
		return fmt.Errorf("deleting location: %w", err)
	}
	return nil
}
