package transfer

import (
	"github.com/erazemk/zaloga/internal/apperr"
	"github.com/erazemk/zaloga/internal/model"
)

func validateCreate(op string, in CreateInput) error {
	if in.FromLocationID == in.ToLocationID {
		return apperr.Validation(op, "from and to location must differ")
	}
	if len(in.Items) == 0 {
		return apperr.Validation(op, "transfer needs at least one line")
	}

	seen := make(map[int64]bool, len(in.Items))
	for _, it := range in.Items {
		if it.VariantID <= 0 {
			return apperr.Validation(op, "invalid variant id %d", it.VariantID)
		}
		if it.Quantity <= 0 {
			return apperr.Validation(op, "quantity for variant %d must be positive, got %d", it.VariantID, it.Quantity)
		}
		if seen[it.VariantID] {
			return apperr.Validation(op, "variant %d appears on more than one line", it.VariantID)
		}
		seen[it.VariantID] = true
	}
	return nil
}

// validateQuantities checks receipt or return overrides against the lines.
func validateQuantities(op string, t *model.Transfer, from, to model.TransferStatus, qty map[int64]int) error {
	if len(qty) == 0 {
		return nil
	}

	settling := to == model.TransferCompleted ||
		(from == model.TransferInTransit && to == model.TransferCancelled)
	if !settling {
		return apperr.Validation(op, "quantities can only be given when receiving or cancelling an in-transit transfer")
	}

	for variantID, n := range qty {
		li := t.Line(variantID)
		if li == nil {
			return apperr.Validation(op, "variant %d is not on transfer %s", variantID, t.Number)
		}
		if n < 0 {
			return apperr.Validation(op, "quantity for variant %d cannot be negative, got %d", variantID, n)
		}
		if n > li.Quantity {
			return apperr.Validation(op, "quantity for variant %d exceeds shipped %d, got %d", variantID, li.Quantity, n)
		}
	}
	return nil
}
