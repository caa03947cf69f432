package model

import (
	"fmt"
	"time"
)

// TransferStatus is a state of the transfer lifecycle.
type TransferStatus string

// Transfer statuses.
const (
	TransferPending   TransferStatus = "pending"
	TransferInTransit TransferStatus = "in_transit"
	TransferCompleted TransferStatus = "completed"
	TransferCancelled TransferStatus = "cancelled"
)

var transferTransitions = map[TransferStatus][]TransferStatus{
	TransferPending:   {TransferInTransit, TransferCancelled},
	TransferInTransit: {TransferCompleted, TransferCancelled},
}

// Valid reports whether s is a known status.
func (s TransferStatus) Valid() bool {
	switch s {
	case TransferPending, TransferInTransit, TransferCompleted, TransferCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s TransferStatus) Terminal() bool {
	return s == TransferCompleted || s == TransferCancelled
}

// CanTransition reports whether moving from s to next is allowed.
func (s TransferStatus) CanTransition(next TransferStatus) bool {
	for _, allowed := range transferTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Transfer moves stock of one or more variants between two locations.
type Transfer struct {
	ID             int64              `json:"id"`
	Number         string             `json:"number"`
	FromLocationID int64              `json:"from_location_id"`
	ToLocationID   int64              `json:"to_location_id"`
	Status         TransferStatus     `json:"status"`
	Reason         string             `json:"reason,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	TotalQuantity  int                `json:"total_quantity"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
	CreatedBy      string             `json:"created_by,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	ShippedAt      *time.Time         `json:"shipped_at,omitempty"`
	ReceivedAt     *time.Time         `json:"received_at,omitempty"`
	CancelledAt    *time.Time         `json:"cancelled_at,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
	LineItems      []TransferLineItem `json:"line_items,omitempty"`

	// Joined fields (not always populated).
	FromLocationName string `json:"from_location_name,omitempty"`
	ToLocationName   string `json:"to_location_name,omitempty"`
}

// TransferNumber formats the human-readable number for a transfer ID.
func TransferNumber(id int64) string {
	return fmt.Sprintf("TR-%06d", id)
}

// Line returns the line item for a variant, or nil.
func (t *Transfer) Line(variantID int64) *TransferLineItem {
	for i := range t.LineItems {
		if t.LineItems[i].VariantID == variantID {
			return &t.LineItems[i]
		}
	}
	return nil
}

// TransferLineItem is one variant and quantity within a transfer.
type TransferLineItem struct {
	ID               int64 `json:"id"`
	TransferID       int64 `json:"transfer_id"`
	VariantID        int64 `json:"variant_id"`
	Quantity         int   `json:"quantity"`
	ReceivedQuantity *int  `json:"received_quantity,omitempty"`
	ReturnedQuantity *int  `json:"returned_quantity,omitempty"`
}

// Shortfall is the number of requested units that were neither received at
// the destination nor returned to the origin. Zero until the line is settled.
func (li TransferLineItem) Shortfall() int {
	switch {
	case li.ReceivedQuantity != nil:
		return li.Quantity - *li.ReceivedQuantity
	case li.ReturnedQuantity != nil:
		return li.Quantity - *li.ReturnedQuantity
	}
	return 0
}

// TransferEvent is one row of a transfer's status history.
type TransferEvent struct {
	ID         int64          `json:"id"`
	TransferID int64          `json:"transfer_id"`
	FromStatus TransferStatus `json:"from_status,omitempty"`
	ToStatus   TransferStatus `json:"to_status"`
	Actor      string         `json:"actor,omitempty"`
	Note       string         `json:"note,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Shortfall kinds.
const (
	ShortfallReceipt = "receipt"
	ShortfallReturn  = "return"
)

// Shortfall reports units lost on a settled transfer line.
type Shortfall struct {
	TransferID     int64          `json:"transfer_id"`
	TransferNumber string         `json:"transfer_number"`
	Status         TransferStatus `json:"status"`
	FromLocationID int64          `json:"from_location_id"`
	ToLocationID   int64          `json:"to_location_id"`
	VariantID      int64          `json:"variant_id"`
	Quantity       int            `json:"quantity"`
	Accounted      int            `json:"accounted"`
	Missing        int            `json:"missing"`
	Kind           string         `json:"kind"`
}
