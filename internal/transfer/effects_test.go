package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/zaloga/internal/model"
)

func TestEffects(t *testing.T) {
	tr := &model.Transfer{
		ID:             7,
		FromLocationID: 1,
		ToLocationID:   2,
		LineItems: []model.TransferLineItem{
			{VariantID: 10, Quantity: 4},
			{VariantID: 11, Quantity: 6},
		},
	}

	tests := []struct {
		name     string
		from, to model.TransferStatus
		qty      map[int64]int
		location int64
		deltas   []model.Delta
		reason   string
	}{
		{"create", "", model.TransferPending, nil, 1,
			[]model.Delta{{Committed: 4}, {Committed: 6}}, model.ReasonTransferCommit},
		{"ship", model.TransferPending, model.TransferInTransit, nil, 1,
			[]model.Delta{{OnHand: -4, Committed: -4}, {OnHand: -6, Committed: -6}}, model.ReasonTransferShip},
		{"receive partial", model.TransferInTransit, model.TransferCompleted, map[int64]int{11: 5}, 2,
			[]model.Delta{{OnHand: 4}, {OnHand: 5}}, model.ReasonTransferReceive},
		{"cancel pending", model.TransferPending, model.TransferCancelled, nil, 1,
			[]model.Delta{{Committed: -4}, {Committed: -6}}, model.ReasonTransferRelease},
		{"cancel in transit", model.TransferInTransit, model.TransferCancelled, nil, 1,
			[]model.Delta{{OnHand: 4}, {OnHand: 6}}, model.ReasonTransferReturn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes := Effects(tt.from, tt.to, tr, tt.qty)
			require.Len(t, changes, len(tt.deltas))
			for i, c := range changes {
				assert.Equal(t, tt.deltas[i], c.Delta)
				assert.Equal(t, tt.location, c.LocationID)
				assert.Equal(t, tt.reason, c.Reason)
				require.NotNil(t, c.TransferID)
				assert.Equal(t, int64(7), *c.TransferID)
			}
		})
	}
}

func TestEffectsSkipsZeroLines(t *testing.T) {
	tr := &model.Transfer{
		FromLocationID: 1,
		ToLocationID:   2,
		LineItems:      []model.TransferLineItem{{VariantID: 10, Quantity: 4}},
	}
	changes := Effects(model.TransferInTransit, model.TransferCompleted, tr, map[int64]int{10: 0})
	assert.Empty(t, changes)
}
