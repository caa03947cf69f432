package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryLevel holds the counters for one (variant, location) pair.
// A missing row is equivalent to the zero value.
type InventoryLevel struct {
	VariantID  int64      `json:"variant_id"`
	LocationID int64      `json:"location_id"`
	OnHand     int        `json:"on_hand"`
	Committed  int        `json:"committed"`
	Reserved   int        `json:"reserved"`
	Version    int64      `json:"version"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`

	// Joined fields (not always populated).
	LocationName string `json:"location_name,omitempty"`
	SKU          string `json:"sku,omitempty"`
}

// Available is the quantity that can be sold or moved right now.
func (l InventoryLevel) Available() int {
	return l.OnHand - l.Committed - l.Reserved
}

// Apply returns a copy of l with the delta added to each counter.
func (l InventoryLevel) Apply(d Delta) InventoryLevel {
	l.OnHand += d.OnHand
	l.Committed += d.Committed
	l.Reserved += d.Reserved
	return l
}

// MarshalJSON adds the derived available field.
func (l InventoryLevel) MarshalJSON() ([]byte, error) {
	type level InventoryLevel
	return json.Marshal(struct {
		level
		Available int `json:"available"`
	}{level(l), l.Available()})
}

// Delta is a signed change to the three stored counters.
type Delta struct {
	OnHand    int `json:"on_hand"`
	Committed int `json:"committed"`
	Reserved  int `json:"reserved"`
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d.OnHand == 0 && d.Committed == 0 && d.Reserved == 0
}

// AvailableEffect is how much the delta changes the available quantity.
func (d Delta) AvailableEffect() int {
	return d.OnHand - d.Committed - d.Reserved
}

// Movement reasons recorded in the inventory journal.
const (
	ReasonAdjustment      = "adjustment"
	ReasonSet             = "set"
	ReasonTransferCommit  = "transfer_commit"
	ReasonTransferShip    = "transfer_ship"
	ReasonTransferReceive = "transfer_receive"
	ReasonTransferRelease = "transfer_release"
	ReasonTransferReturn  = "transfer_return"
)

// Movement is one journal entry for an applied delta.
type Movement struct {
	ID         int64     `json:"id"`
	VariantID  int64     `json:"variant_id"`
	LocationID int64     `json:"location_id"`
	Delta      Delta     `json:"delta"`
	Reason     string    `json:"reason"`
	TransferID *int64    `json:"transfer_id,omitempty"`
	Note       string    `json:"note,omitempty"`
	Actor      string    `json:"actor,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// StockSummary totals a variant's counters across all locations.
type StockSummary struct {
	VariantID int64            `json:"variant_id"`
	OnHand    int              `json:"on_hand"`
	Committed int              `json:"committed"`
	Reserved  int              `json:"reserved"`
	Available int              `json:"available"`
	Value     decimal.Decimal  `json:"value"`
	Levels    []InventoryLevel `json:"levels"`
}

// Summarize totals levels for a variant. unitCost values the on-hand stock.
func Summarize(variantID int64, levels []InventoryLevel, unitCost decimal.Decimal) StockSummary {
	s := StockSummary{VariantID: variantID, Levels: levels}
	if s.Levels == nil {
		s.Levels = []InventoryLevel{}
	}
	for _, l := range levels {
		s.OnHand += l.OnHand
		s.Committed += l.Committed
		s.Reserved += l.Reserved
		s.Available += l.Available()
	}
	s.Value = unitCost.Mul(decimal.NewFromInt(int64(s.OnHand)))
	return s
}
