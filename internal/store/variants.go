package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/model"
)

const variantColumns = `id, product_id, sku, price, cost, created_at, updated_at`

func scanVariant(row rowScanner) (*model.Variant, error) {
	v := &model.Variant{}
	if err := row.Scan(&v.ID, &v.ProductID, &v.SKU, &v.Price, &v.Cost, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return v, nil
}

// CreateVariant creates a variant.
func CreateVariant(ctx context.Context, conn db.Conn, productID int64, sku string, price, cost decimal.Decimal) (*model.Variant, error) {
	var id int64
	err := conn.QueryRowContext(ctx,
		`INSERT INTO variants (product_id, sku, price, cost) VALUES (?, ?, ?, ?) RETURNING id`,
		productID, sku, price, cost,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating variant: %w", err)
	}

	return GetVariant(ctx, conn, id)
}

// GetVariant returns a variant by ID, or nil if it doesn't exist.
func GetVariant(ctx context.Context, conn db.Conn, id int64) (*model.Variant, error) {
	v, err := scanVariant(conn.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting variant: %w", err)
	}
	return v, nil
}

// GetVariantBySKU returns a variant by SKU, or nil if it doesn't exist.
func GetVariantBySKU(ctx context.Context, conn db.Conn, sku string) (*model.Variant, error) {
	v, err := scanVariant(conn.QueryRowContext(ctx,
		`SELECT `+variantColumns+` FROM variants WHERE sku = ?`, sku,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting variant by sku: %w", err)
	}
	return v, nil
}

// ListVariants returns variants, optionally limited to one product.
func ListVariants(ctx context.Context, conn db.Conn, productID int64) ([]model.Variant, error) {
	query := `SELECT ` + variantColumns + ` FROM variants`
	var args []any
	if productID != 0 {
		query += ` WHERE product_id = ?`
		args = append(args, productID)
	}
	query += ` ORDER BY sku`

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing variants: %w", err)
	}
	defer rows.Close()

	var variants []model.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning variant: %w", err)
		}
		variants = append(variants, *v)
	}
	return variants, rows.Err()
}

// UpdateVariant updates a variant's SKU and prices.
func UpdateVariant(ctx context.Context, conn db.Conn, id int64, sku string, price, cost decimal.Decimal) error {
	_, err := conn.ExecContext(ctx,
		`UPDATE variants SET sku = ?, price = ?, cost = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		sku, price, cost, id,
	)
	if err != nil {
		return fmt.Errorf("updating variant: %w", err)
	}
	return nil
}
