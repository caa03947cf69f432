package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/zaloga/internal/apperr"
	"github.com/erazemk/zaloga/internal/cache"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

func newTestLedger(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	return New(db.NewTestDB(t), opts...)
}

func TestAdjustCreatesRowLazily(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	before, err := l.Get(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, before.Available())

	lvl, err := l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: model.Delta{OnHand: 100}})
	require.NoError(t, err)
	assert.Equal(t, 100, lvl.OnHand)
	assert.Equal(t, 100, lvl.Available())
	assert.Equal(t, int64(1), lvl.Version)

	movements, err := l.ListMovements(ctx, store.MovementFilter{VariantID: 1})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, model.ReasonAdjustment, movements[0].Reason)
}

func TestAdjustRejectsNegativeCounters(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: model.Delta{OnHand: 10, Committed: 4}})
	require.NoError(t, err)

	tests := []struct {
		name  string
		delta model.Delta
		field string
	}{
		{"on_hand below zero", model.Delta{OnHand: -11}, "on_hand"},
		{"committed below zero", model.Delta{Committed: -5}, "committed"},
		{"reserved below zero", model.Delta{Reserved: -1}, "reserved"},
		{"available below zero", model.Delta{Committed: 7}, "available"},
		{"on_hand under committed", model.Delta{OnHand: -7}, "available"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: tt.delta})
			require.ErrorIs(t, err, apperr.ErrInvariantViolation)

			var e *apperr.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, tt.field, e.Field)
			assert.Equal(t, int64(1), e.VariantID)
		})
	}

	// Nothing was written by the failed attempts.
	lvl, err := l.Get(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, lvl.OnHand)
	assert.Equal(t, 4, lvl.Committed)
	assert.Equal(t, 6, lvl.Available())

	movements, _ := l.ListMovements(ctx, store.MovementFilter{})
	assert.Len(t, movements, 1)
}

func TestAdjustInsufficientReportsQuantities(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	l.Adjust(ctx, Change{VariantID: 3, LocationID: 2, Delta: model.Delta{OnHand: 5}})

	_, err := l.Adjust(ctx, Change{VariantID: 3, LocationID: 2, Delta: model.Delta{Committed: 8}})
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 8, e.Requested)
	assert.Equal(t, 5, e.Available)
	assert.Equal(t, int64(2), e.LocationID)
}

func TestAdjustZeroDeltaIsValidationError(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.Adjust(context.Background(), Change{VariantID: 1, LocationID: 1})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestApplyIsAllOrNothing(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: model.Delta{OnHand: 10}})
	l.Adjust(ctx, Change{VariantID: 2, LocationID: 1, Delta: model.Delta{OnHand: 2}})

	_, err := l.Apply(ctx, "test", []Change{
		{VariantID: 1, LocationID: 1, Delta: model.Delta{Committed: 5}, Reason: model.ReasonTransferCommit},
		{VariantID: 2, LocationID: 1, Delta: model.Delta{Committed: 5}, Reason: model.ReasonTransferCommit},
	})
	require.ErrorIs(t, err, apperr.ErrInvariantViolation)

	lvl, _ := l.Get(ctx, 1, 1)
	assert.Equal(t, 0, lvl.Committed, "first change must be rolled back")
}

func TestSetOnHand(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	lvl, err := l.SetOnHand(ctx, 1, 1, 40, "admin", "stock count")
	require.NoError(t, err)
	assert.Equal(t, 40, lvl.OnHand)

	l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: model.Delta{Committed: 15}})

	lvl, err = l.SetOnHand(ctx, 1, 1, 20, "admin", "")
	require.NoError(t, err)
	assert.Equal(t, 20, lvl.OnHand)
	assert.Equal(t, 5, lvl.Available())

	_, err = l.SetOnHand(ctx, 1, 1, 10, "admin", "")
	assert.ErrorIs(t, err, apperr.ErrInvariantViolation)

	_, err = l.SetOnHand(ctx, 1, 1, -1, "admin", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// Setting the current value writes no movement.
	_, err = l.SetOnHand(ctx, 1, 1, 20, "admin", "")
	require.NoError(t, err)

	movements, _ := l.ListMovements(ctx, store.MovementFilter{VariantID: 1})
	require.Len(t, movements, 3)
	assert.Equal(t, model.ReasonSet, movements[0].Reason)
	assert.Equal(t, -20, movements[0].Delta.OnHand)
	assert.Equal(t, "stock count", movements[2].Note)
}

func TestConcurrentAdjustmentsNetOut(t *testing.T) {
	l := newTestLedger(t, WithMaxRetries(10))
	ctx := context.Background()

	// Enough stock that every ordering of the decrements stays valid.
	_, err := l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: model.Delta{OnHand: 100}})
	require.NoError(t, err)

	const pairs = 25
	var wg sync.WaitGroup
	errs := make(chan error, 2*pairs)
	for i := 0; i < pairs; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: model.Delta{OnHand: 5}})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: model.Delta{OnHand: -3}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	lvl, err := l.Get(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 100+2*pairs, lvl.OnHand)
	assert.Equal(t, int64(1+2*pairs), lvl.Version)
}

func TestStockSummaryCachedAndInvalidated(t *testing.T) {
	c := cache.NewMemory()
	l := newTestLedger(t, WithCache(c, 0))
	ctx := context.Background()

	v, err := store.CreateVariant(ctx, l.DB(), 1, "MUG", decimal.NewFromInt(12), decimal.RequireFromString("4.50"))
	require.NoError(t, err)

	l.Adjust(ctx, Change{VariantID: v.ID, LocationID: 1, Delta: model.Delta{OnHand: 10}})
	l.Adjust(ctx, Change{VariantID: v.ID, LocationID: 2, Delta: model.Delta{OnHand: 6, Reserved: 1}})

	s, err := l.StockSummary(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 16, s.OnHand)
	assert.Equal(t, 15, s.Available)
	assert.True(t, s.Value.Equal(decimal.NewFromInt(72)), "got %s", s.Value)

	_, err = c.Get(ctx, cache.StockSummaryKey(v.ID))
	require.NoError(t, err, "summary should be cached")

	l.Adjust(ctx, Change{VariantID: v.ID, LocationID: 1, Delta: model.Delta{OnHand: -4}})
	_, err = c.Get(ctx, cache.StockSummaryKey(v.ID))
	assert.ErrorIs(t, err, cache.ErrMiss)

	s, err = l.StockSummary(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, s.OnHand)
	assert.Len(t, s.Levels, 2)
}

func TestAdjustPublishesEvent(t *testing.T) {
	var rec events.Recorder
	l := newTestLedger(t, WithPublisher(&rec))
	ctx := context.Background()

	l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: model.Delta{OnHand: 3}, Actor: "alice"})
	l.Adjust(ctx, Change{VariantID: 1, LocationID: 1, Delta: model.Delta{OnHand: -5}})

	evs := rec.Events()
	require.Len(t, evs, 1, "failed adjustments publish nothing")
	assert.Equal(t, events.InventoryAdjusted, evs[0].Type)
	assert.Equal(t, "variant:1", evs[0].Key)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify("op", nil))

	conflict := classify("op", errors.Join(db.ErrRetriesExhausted, db.ErrConflict))
	assert.ErrorIs(t, conflict, apperr.ErrConcurrencyConflict)

	storage := classify("op", errors.New("disk I/O error"))
	assert.ErrorIs(t, storage, apperr.ErrStorage)

	invariant := apperr.Insufficient("op", 1, 1, "on_hand", 1, 0)
	assert.Same(t, invariant, classify("other", invariant))
}

func TestDeletedLocationCannotHoldStock(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	a, err := store.CreateLocation(ctx, l.DB(), "A", false, false)
	require.NoError(t, err)
	b, err := store.CreateLocation(ctx, l.DB(), "B", false, false)
	require.NoError(t, err)
	require.NoError(t, l.DB().InTx(ctx, func(tx *db.Tx) error {
		return store.DeleteLocation(ctx, tx, b.ID)
	}))

	_, err = l.Adjust(ctx, Change{VariantID: 1, LocationID: b.ID, Delta: model.Delta{OnHand: 5}})
	require.ErrorIs(t, err, apperr.ErrValidation)
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, b.ID, e.LocationID)

	_, err = l.SetOnHand(ctx, 1, b.ID, 5, "admin", "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = l.Apply(ctx, "test", []Change{
		{VariantID: 1, LocationID: a.ID, Delta: model.Delta{OnHand: 5}},
		{VariantID: 1, LocationID: b.ID, Delta: model.Delta{OnHand: 5}},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	lvl, err := l.Get(ctx, 1, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, lvl.OnHand)
	lvl, err = l.Get(ctx, 1, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, lvl.OnHand, "the batch is rolled back as a whole")

	// Active and unregistered locations still accept stock.
	_, err = l.Adjust(ctx, Change{VariantID: 1, LocationID: a.ID, Delta: model.Delta{OnHand: 5}})
	assert.NoError(t, err)
	_, err = l.Adjust(ctx, Change{VariantID: 1, LocationID: 999, Delta: model.Delta{OnHand: 5}})
	assert.NoError(t, err)
}

// raceCache runs beforeSet once, just before the first write of a stock
// summary, to interleave a commit between a summary's read and its caching.
type raceCache struct {
	*cache.Memory
	beforeSet func()
}

func (c *raceCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.beforeSet != nil {
		fn := c.beforeSet
		c.beforeSet = nil
		fn()
	}
	return c.Memory.Set(ctx, key, value, ttl)
}

func TestStockSummaryIgnoresSummaryReadBeforeCommit(t *testing.T) {
	c := &raceCache{Memory: cache.NewMemory()}
	l := newTestLedger(t, WithCache(c, time.Hour))
	ctx := context.Background()

	v, err := store.CreateVariant(ctx, l.DB(), 1, "CUP", decimal.NewFromInt(3), decimal.NewFromInt(1))
	require.NoError(t, err)
	l.Adjust(ctx, Change{VariantID: v.ID, LocationID: 1, Delta: model.Delta{OnHand: 10}})

	c.beforeSet = func() {
		_, err := l.Adjust(ctx, Change{VariantID: v.ID, LocationID: 1, Delta: model.Delta{OnHand: 5}})
		require.NoError(t, err)
	}

	s, err := l.StockSummary(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, s.OnHand, "computed before the concurrent change")

	s, err = l.StockSummary(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, s.OnHand)

	s, err = l.StockSummary(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, s.OnHand, "served from cache")
}
