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

const transferColumns = `t.id, t.number, t.from_location_id, t.to_location_id, t.status, t.reason, t.notes,
	t.total_quantity, t.idempotency_key, t.created_by, t.created_at, t.shipped_at, t.received_at,
	t.cancelled_at, t.updated_at, COALESCE(fl.name, ''), COALESCE(tl.name, '')`

const transferFrom = ` FROM transfers t
	LEFT JOIN locations fl ON fl.id = t.from_location_id
	LEFT JOIN locations tl ON tl.id = t.to_location_id`

func scanTransfer(row rowScanner) (*model.Transfer, error) {
	t := &model.Transfer{}
	var reason, notes, key, createdBy sql.NullString
	err := row.Scan(&t.ID, &t.Number, &t.FromLocationID, &t.ToLocationID, &t.Status, &reason, &notes,
		&t.TotalQuantity, &key, &createdBy, &t.CreatedAt, &t.ShippedAt, &t.ReceivedAt,
		&t.CancelledAt, &t.UpdatedAt, &t.FromLocationName, &t.ToLocationName)
	if err != nil {
		return nil, err
	}
	t.Reason = reason.String
	t.Notes = notes.String
	t.IdempotencyKey = key.String
	t.CreatedBy = createdBy.String
	return t, nil
}

// InsertTransfer stores a new pending transfer with its line items and sets
// t.ID and t.Number. TotalQuantity is computed from the lines.
func InsertTransfer(ctx context.Context, tx *db.Tx, t *model.Transfer) error {
	t.TotalQuantity = 0
	for _, li := range t.LineItems {
		t.TotalQuantity += li.Quantity
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO transfers (from_location_id, to_location_id, status, reason, notes,
		 total_quantity, idempotency_key, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		t.FromLocationID, t.ToLocationID, string(model.TransferPending), nullString(t.Reason),
		nullString(t.Notes), t.TotalQuantity, nullString(t.IdempotencyKey), nullString(t.CreatedBy),
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("creating transfer: %w", err)
	}

	t.Number = model.TransferNumber(t.ID)
	t.Status = model.TransferPending
	if _, err := tx.ExecContext(ctx,
		`UPDATE transfers SET number = ? WHERE id = ?`, t.Number, t.ID,
	); err != nil {
		return fmt.Errorf("numbering transfer: %w", err)
	}

	for i := range t.LineItems {
		li := &t.LineItems[i]
		li.TransferID = t.ID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO transfer_line_items (transfer_id, variant_id, quantity) VALUES (?, ?, ?) RETURNING id`,
			t.ID, li.VariantID, li.Quantity,
		).Scan(&li.ID)
		if err != nil {
			return fmt.Errorf("creating transfer line: %w", err)
		}
	}
	return nil
}

// GetTransfer returns a transfer with its line items, or nil if it doesn't
// exist.
func GetTransfer(ctx context.Context, conn db.Conn, id int64) (*model.Transfer, error) {
	t, err := scanTransfer(conn.QueryRowContext(ctx,
		`SELECT `+transferColumns+transferFrom+` WHERE t.id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting transfer: %w", err)
	}

	if t.LineItems, err = listLineItems(ctx, conn, id); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTransferForUpdate reads a transfer inside tx, locking its row on
// PostgreSQL so concurrent transitions of the same transfer serialise.
func GetTransferForUpdate(ctx context.Context, tx *db.Tx, id int64) (*model.Transfer, error) {
	if tx.Dialect() == db.Postgres {
		var locked int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM transfers WHERE id = ? FOR UPDATE`, id,
		).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("locking transfer: %w", err)
		}
	}
	return GetTransfer(ctx, tx, id)
}

// FindTransferByIdempotencyKey returns the transfer created with key, or nil.
func FindTransferByIdempotencyKey(ctx context.Context, conn db.Conn, key string) (*model.Transfer, error) {
	var id int64
	err := conn.QueryRowContext(ctx,
		`SELECT id FROM transfers WHERE idempotency_key = ?`, key,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding transfer by idempotency key: %w", err)
	}
	return GetTransfer(ctx, conn, id)
}

func listLineItems(ctx context.Context, conn db.Conn, transferID int64) ([]model.TransferLineItem, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, transfer_id, variant_id, quantity, received_quantity, returned_quantity
		 FROM transfer_line_items WHERE transfer_id = ? ORDER BY variant_id`,
		transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transfer lines: %w", err)
	}
	defer rows.Close()

	var lines []model.TransferLineItem
	for rows.Next() {
		var li model.TransferLineItem
		if err := rows.Scan(&li.ID, &li.TransferID, &li.VariantID, &li.Quantity,
			&li.ReceivedQuantity, &li.ReturnedQuantity); err != nil {
			return nil, fmt.Errorf("scanning transfer line: %w", err)
		}
		lines = append(lines, li)
	}
	return lines, rows.Err()
}

// UpdateTransferStatus moves a transfer from one status to another and
// stamps the matching timestamp. It returns db.ErrConflict if the transfer
// is no longer in status from.
func UpdateTransferStatus(ctx context.Context, tx *db.Tx, id int64, from, to model.TransferStatus) error {
	var stamp string
	switch to {
	case model.TransferInTransit:
		stamp = ", shipped_at = CURRENT_TIMESTAMP"
	case model.TransferCompleted:
		stamp = ", received_at = CURRENT_TIMESTAMP"
	case model.TransferCancelled:
		stamp = ", cancelled_at = CURRENT_TIMESTAMP"
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE transfers SET status = ?, updated_at = CURRENT_TIMESTAMP`+stamp+`
		 WHERE id = ? AND status = ?`,
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("updating transfer status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating transfer status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("transfer %d is no longer %s: %w", id, from, db.ErrConflict)
	}
	return nil
}

// SetLineReceived records the received quantity of a line. It can only be
// set once.
func SetLineReceived(ctx context.Context, tx *db.Tx, transferID, variantID int64, quantity int) error {
	return setLineQuantity(ctx, tx, "received_quantity", transferID, variantID, quantity)
}

// SetLineReturned records the quantity returned to the origin when an
// in-transit transfer is cancelled. It can only be set once.
func SetLineReturned(ctx context.Context, tx *db.Tx, transferID, variantID int64, quantity int) error {
	return setLineQuantity(ctx, tx, "returned_quantity", transferID, variantID, quantity)
}

func setLineQuantity(ctx context.Context, tx *db.Tx, column string, transferID, variantID int64, quantity int) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE transfer_line_items SET `+column+` = ?
		 WHERE transfer_id = ? AND variant_id = ? AND `+column+` IS NULL`,
		quantity, transferID, variantID,
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting %s: %w", column, err)
	}
	if n == 0 {
		return fmt.Errorf("line for variant %d on transfer %d already settled: %w", variantID, transferID, db.ErrConflict)
	}
	return nil
}

// AppendTransferEvent records a status change in the transfer history.
func AppendTransferEvent(ctx context.Context, conn db.Conn, ev model.TransferEvent) error {
	_, err := conn.ExecContext(ctx,
		`INSERT INTO transfer_events (transfer_id, from_status, to_status, actor, note)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.TransferID, string(ev.FromStatus), string(ev.ToStatus), nullString(ev.Actor), nullString(ev.Note),
	)
	if err != nil {
		return fmt.Errorf("appending transfer event: %w", err)
	}
	return nil
}

// ListTransferEvents returns a transfer's status history, oldest first.
func ListTransferEvents(ctx context.Context, conn db.Conn, transferID int64) ([]model.TransferEvent, error) {
	rows, err := conn.QueryContext(ctx,
		`SELECT id, transfer_id, from_status, to_status, actor, note, created_at
		 FROM transfer_events WHERE transfer_id = ? ORDER BY id`,
		transferID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing transfer events: %w", err)
	}
	defer rows.Close()

	var events []model.TransferEvent
	for rows.Next() {
		var ev model.TransferEvent
		var actor, note sql.NullString
		if err := rows.Scan(&ev.ID, &ev.TransferID, &ev.FromStatus, &ev.ToStatus, &actor, &note, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning transfer event: %w", err)
		}
		ev.Actor = actor.String
		ev.Note = note.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

// TransferFilter narrows ListTransfers. Zero fields match everything.
type TransferFilter struct {
	Status         model.TransferStatus
	FromLocationID int64
	ToLocationID   int64
	// LocationID matches transfers from or to the location.
	LocationID int64
	VariantID  int64
	Limit      int
}

// ListTransfers returns transfers matching f, newest first. Line items are
// not loaded.
func ListTransfers(ctx context.Context, conn db.Conn, f TransferFilter) ([]model.Transfer, error) {
	var where []string
	var args []any
	if f.Status != "" {
		where = append(where, "t.status = ?")
		args = append(args, string(f.Status))
	}
	if f.FromLocationID != 0 {
		where = append(where, "t.from_location_id = ?")
		args = append(args, f.FromLocationID)
	}
	if f.ToLocationID != 0 {
		where = append(where, "t.to_location_id = ?")
		args = append(args, f.ToLocationID)
	}
	if f.LocationID != 0 {
		where = append(where, "(t.from_location_id = ? OR t.to_location_id = ?)")
		args = append(args, f.LocationID, f.LocationID)
	}
	if f.VariantID != 0 {
		where = append(where, "EXISTS (SELECT 1 FROM transfer_line_items li WHERE li.transfer_id = t.id AND li.variant_id = ?)")
		args = append(args, f.VariantID)
	}

	query := `SELECT ` + transferColumns + transferFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY t.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var transfers []model.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning transfer: %w", err)
		}
		transfers = append(transfers, *t)
	}
	return transfers, rows.Err()
}

// CountOpenTransfers counts pending and in-transit transfers touching a
// location.
func CountOpenTransfers(ctx context.Context, conn db.Conn, locationID int64) (int, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transfers
		 WHERE (from_location_id = ? OR to_location_id = ?) AND status IN ('pending', 'in_transit')`,
		locationID, locationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting open transfers: %w", err)
	}
	return n, nil
}

// PendingCommitted sums the quantity of a variant that pending transfers
// out of a location hold as committed stock there.
func PendingCommitted(ctx context.Context, conn db.Conn, variantID, locationID int64) (int, error) {
	var n int
	err := conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(li.quantity), 0)
		 FROM transfer_line_items li
		 JOIN transfers t ON t.id = li.transfer_id
		 WHERE t.status = 'pending' AND t.from_location_id = ? AND li.variant_id = ?`,
		locationID, variantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("summing pending commitments: %w", err)
	}
	return n, nil
}

// ShortfallFilter narrows ListShortfalls. Zero fields match everything.
type ShortfallFilter struct {
	LocationID int64
	VariantID  int64
	Limit      int
}

// ListShortfalls returns settled lines where fewer units were received (or
// returned, for cancelled in-transit transfers) than were shipped.
func ListShortfalls(ctx context.Context, conn db.Conn, f ShortfallFilter) ([]model.Shortfall, error) {
	where := []string{
		`((li.received_quantity IS NOT NULL AND li.received_quantity < li.quantity)
		  OR (li.returned_quantity IS NOT NULL AND li.returned_quantity < li.quantity))`,
	}
	var args []any
	if f.LocationID != 0 {
		where = append(where, "(t.from_location_id = ? OR t.to_location_id = ?)")
		args = append(args, f.LocationID, f.LocationID)
	}
	if f.VariantID != 0 {
		where = append(where, "li.variant_id = ?")
		args = append(args, f.VariantID)
	}

	query := `SELECT t.id, t.number, t.status, t.from_location_id, t.to_location_id,
		li.variant_id, li.quantity, COALESCE(li.received_quantity, li.returned_quantity),
		CASE WHEN li.received_quantity IS NOT NULL THEN 'receipt' ELSE 'return' END
		FROM transfer_line_items li
		JOIN transfers t ON t.id = li.transfer_id
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY t.id DESC, li.variant_id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing shortfalls: %w", err)
	}
	defer rows.Close()

	var shortfalls []model.Shortfall
	for rows.Next() {
		var s model.Shortfall
		if err := rows.Scan(&s.TransferID, &s.TransferNumber, &s.Status, &s.FromLocationID, &s.ToLocationID,
			&s.VariantID, &s.Quantity, &s.Accounted, &s.Kind); err != nil {
			return nil, fmt.Errorf("scanning shortfall: %w", err)
		}
		s.Missing = s.Quantity - s.Accounted
		shortfalls = append(shortfalls, s)
	}
	return shortfalls, rows.Err()
}
