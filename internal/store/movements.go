package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/model"
)

// InsertMovement appends a journal entry and returns its ID.
func InsertMovement(ctx context.Context, conn db.Conn, m model.Movement) (int64, error) {
	var id int64
	err := conn.QueryRowContext(ctx,
		`INSERT INTO inventory_movements
		 (variant_id, location_id, delta_on_hand, delta_committed, delta_reserved, reason, transfer_id, note, actor)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		m.VariantID, m.LocationID, m.Delta.OnHand, m.Delta.Committed, m.Delta.Reserved,
		m.Reason, m.TransferID, nullString(m.Note), nullString(m.Actor),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting movement: %w", err)
	}
	return id, nil
}

// MovementFilter narrows ListMovements. Zero fields match everything.
type MovementFilter struct {
	VariantID  int64
	LocationID int64
	TransferID int64
	Limit      int
}

// ListMovements returns journal entries, newest first.
func ListMovements(ctx context.Context, conn db.Conn, f MovementFilter) ([]model.Movement, error) {
	var where []string
	var args []any
	if f.VariantID != 0 {
		where = append(where, "variant_id = ?")
		args = append(args, f.VariantID)
	}
	if f.LocationID != 0 {
		where = append(where, "location_id = ?")
		args = append(args, f.LocationID)
	}
	if f.TransferID != 0 {
		where = append(where, "transfer_id = ?")
		args = append(args, f.TransferID)
	}

	query := `SELECT id, variant_id, location_id, delta_on_hand, delta_committed, delta_reserved,
		reason, transfer_id, note, actor, created_at
		FROM inventory_movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing movements: %w", err)
	}
	defer rows.Close()

	var movements []model.Movement
	for rows.Next() {
		var m model.Movement
		var note, actor sql.NullString
		if err := rows.Scan(&m.ID, &m.VariantID, &m.LocationID,
			&m.Delta.OnHand, &m.Delta.Committed, &m.Delta.Reserved,
			&m.Reason, &m.TransferID, &note, &actor, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning movement: %w", err)
		}
		m.Note = note.String
		m.Actor = actor.String
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
