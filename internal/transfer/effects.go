package transfer

import (
	"github.com/erazemk/zaloga/internal/ledger"
	"github.com/erazemk/zaloga/internal/model"
)

// Effects returns the ledger changes for moving t from status from to
// status to. from is empty when the transfer is being created. qty
// overrides the per-line quantity for receipt and in-transit cancellation;
// lines missing from qty use their full quantity. Lines whose effective
// quantity is zero produce no change.
func Effects(from, to model.TransferStatus, t *model.Transfer, qty map[int64]int) []ledger.Change {
	transferID := t.ID
	var changes []ledger.Change
	add := func(variantID, locationID int64, d model.Delta, reason string) {
		if d.IsZero() {
			return
		}
		changes = append(changes, ledger.Change{
			VariantID:  variantID,
			LocationID: locationID,
			Delta:      d,
			Reason:     reason,
			TransferID: &transferID,
		})
	}

	for _, li := range t.LineItems {
		switch {
		case from == "" && to == model.TransferPending:
			add(li.VariantID, t.FromLocationID, model.Delta{Committed: li.Quantity}, model.ReasonTransferCommit)

		case from == model.TransferPending && to == model.TransferInTransit:
			add(li.VariantID, t.FromLocationID, model.Delta{OnHand: -li.Quantity, Committed: -li.Quantity}, model.ReasonTransferShip)

		case from == model.TransferInTransit && to == model.TransferCompleted:
			add(li.VariantID, t.ToLocationID, model.Delta{OnHand: settled(li, qty)}, model.ReasonTransferReceive)

		case from == model.TransferPending && to == model.TransferCancelled:
			add(li.VariantID, t.FromLocationID, model.Delta{Committed: -li.Quantity}, model.ReasonTransferRelease)

		case from == model.TransferInTransit && to == model.TransferCancelled:
			add(li.VariantID, t.FromLocationID, model.Delta{OnHand: settled(li, qty)}, model.ReasonTransferReturn)
		}
	}
	return changes
}

// settled is the quantity recorded for a line at receipt or return.
func settled(li model.TransferLineItem, qty map[int64]int) int {
	if n, ok := qty[li.VariantID]; ok {
		return n
	}
	return li.Quantity
}
