package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a sellable SKU of a product. The ledger uses only its ID.
type Variant struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Margin returns price minus cost.
func (v *Variant) Margin() decimal.Decimal {
	return v.Price.Sub(v.Cost)
}
