package store

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/erazemk/zaloga/internal/db"
)

func TestCreateAndGetVariant(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	v, err := CreateVariant(ctx, database, 10, "TSHIRT-M", decimal.RequireFromString("19.90"), decimal.RequireFromString("7.25"))
	if err != nil {
		t.Fatalf("CreateVariant: %v", err)
	}
	if !v.Price.Equal(decimal.RequireFromString("19.90")) {
		t.Errorf("expected price 19.90, got %s", v.Price)
	}
	if !v.Margin().Equal(decimal.RequireFromString("12.65")) {
		t.Errorf("expected margin 12.65, got %s", v.Margin())
	}

	bySKU, err := GetVariantBySKU(ctx, database, "TSHIRT-M")
	if err != nil {
		t.Fatalf("GetVariantBySKU: %v", err)
	}
	if bySKU == nil || bySKU.ID != v.ID {
		t.Errorf("expected variant %d, got %+v", v.ID, bySKU)
	}

	missing, _ := GetVariant(ctx, database, 999)
	if missing != nil {
		t.Error("expected nil for missing variant")
	}
}

func TestDuplicateSKURejected(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateVariant(ctx, database, 1, "SKU-1", decimal.Zero, decimal.Zero)
	if _, err := CreateVariant(ctx, database, 2, "SKU-1", decimal.Zero, decimal.Zero); err == nil {
		t.Error("expected error for duplicate sku")
	}
}

func TestListAndUpdateVariants(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	a, _ := CreateVariant(ctx, database, 1, "A", decimal.Zero, decimal.Zero)
	CreateVariant(ctx, database, 1, "B", decimal.Zero, decimal.Zero)
	CreateVariant(ctx, database, 2, "C", decimal.Zero, decimal.Zero)

	all, _ := ListVariants(ctx, database, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 variants, got %d", len(all))
	}
	product1, _ := ListVariants(ctx, database, 1)
	if len(product1) != 2 {
		t.Errorf("expected 2 variants for product 1, got %d", len(product1))
	}

	if err := UpdateVariant(ctx, database, a.ID, "A2", decimal.NewFromInt(5), decimal.NewFromInt(2)); err != nil {
		t.Fatalf("UpdateVariant: %v", err)
	}
	got, _ := GetVariant(ctx, database, a.ID)
	if got.SKU != "A2" || !got.Cost.Equal(decimal.NewFromInt(2)) {
		t.Errorf("unexpected variant after update: %+v", got)
	}
}
