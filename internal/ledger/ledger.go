// Package ledger is the only sanctioned way to change inventory counters.
//
// Every change goes through the same path: lock (or lazily create) the
// (variant, location) row, apply the delta, check that no counter and no
// derived available quantity goes negative, write back guarded by the row
// version, and journal the movement, all in one transaction. Transient
// conflicts retry the whole transaction.
package ledger

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erazemk/zaloga/internal/apperr"
	"github.com/erazemk/zaloga/internal/cache"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
	"github.com/erazemk/zaloga/internal/telemetry"
)

// DefaultMaxRetries is the number of attempts for a conflicting transaction.
const DefaultMaxRetries = 5

// Change is one delta to apply at a (variant, location) pair.
type Change struct {
	VariantID  int64
	LocationID int64
	Delta      model.Delta
	Reason     string
	TransferID *int64
	Note       string
	Actor      string
}

// Ledger applies and reads inventory levels.
type Ledger struct {
	db         *db.DB
	log        *zap.Logger
	tracer     trace.Tracer
	cache      cache.Cache
	cacheTTL   time.Duration
	publisher  events.Publisher
	maxRetries int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxRetries sets how many times a conflicting transaction is attempted.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithCache enables read-through caching of stock summaries.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(l *Ledger) {
		l.cache = c
		l.cacheTTL = ttl
	}
}

// WithPublisher publishes an event for every committed adjustment.
func WithPublisher(p events.Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// New creates a ledger over database.
func New(database *db.DB, opts ...Option) *Ledger {
	l := &Ledger{
		db:         database,
		log:        zap.NewNop(),
		tracer:     telemetry.Tracer("github.com/erazemk/zaloga/internal/ledger"),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DB returns the database the ledger writes to.
func (l *Ledger) DB() *db.DB { return l.db }

// Adjust applies one delta in its own transaction and returns the new level.
//
// The committed counter is shared with transfers: a pending transfer holds
// its quantity as committed stock at the origin. A negative committed delta
// may only release commitments no pending transfer holds, otherwise that
// transfer could neither ship nor cancel.
func (l *Ledger) Adjust(ctx context.Context, c Change) (model.InventoryLevel, error) {
	const op = "ledger.Adjust"
	if c.Delta.IsZero() {
		return model.InventoryLevel{}, apperr.Validation(op, "delta must change at least one counter")
	}
	if c.Reason == "" {
		c.Reason = model.ReasonAdjustment
	}

	ctx, span := l.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("variant.id", c.VariantID),
		attribute.Int64("location.id", c.LocationID),
	))
	defer span.End()

	var result model.InventoryLevel
	err := l.Transact(ctx, op, func(tx *db.Tx) error {
		levels, err := l.ApplyTx(ctx, tx, op, []Change{c})
		if err != nil {
			return err
		}
		if c.Delta.Committed < 0 {
			if err := checkHeldCommitments(ctx, tx, op, levels[0], c.Delta); err != nil {
				return err
			}
		}
		result = levels[0]
		return nil
	})
	if err != nil {
		recordError(span, err)
		return model.InventoryLevel{}, err
	}

	l.committed(ctx, []Change{c}, []model.InventoryLevel{result})
	return result, nil
}

// checkHeldCommitments rejects a level whose committed count dropped below
// what pending transfers out of its location still hold.
func checkHeldCommitments(ctx context.Context, tx *db.Tx, op string, after model.InventoryLevel, d model.Delta) error {
	held, err := store.PendingCommitted(ctx, tx, after.VariantID, after.LocationID)
	if err != nil {
		return err
	}
	if after.Committed >= held {
		return nil
	}
	free := after.Committed - d.Committed - held
	return apperr.Insufficient(op, after.VariantID, after.LocationID, "committed", -d.Committed, free)
}

// SetOnHand sets the on-hand count to target by applying the difference
// as a delta. Committed and reserved stock still bound how low it can go.
func (l *Ledger) SetOnHand(ctx context.Context, variantID, locationID int64, target int, actor, note string) (model.InventoryLevel, error) {
	const op = "ledger.SetOnHand"
	if target < 0 {
		return model.InventoryLevel{}, apperr.Validation(op, "on_hand cannot be negative, got %d", target)
	}

	ctx, span := l.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("variant.id", variantID),
		attribute.Int64("location.id", locationID),
		attribute.Int("target", target),
	))
	defer span.End()

	var result model.InventoryLevel
	var applied *Change
	err := l.Transact(ctx, op, func(tx *db.Tx) error {
		applied = nil
		// Location before level, the order ApplyTx takes them in.
		if _, err := store.LockLocation(ctx, tx, locationID); err != nil {
			return err
		}
		current, err := store.LockInventoryLevel(ctx, tx, variantID, locationID)
		if err != nil {
			return err
		}
		if current.OnHand == target {
			result = current
			return nil
		}

		c := Change{
			VariantID:  variantID,
			LocationID: locationID,
			Delta:      model.Delta{OnHand: target - current.OnHand},
			Reason:     model.ReasonSet,
			Note:       note,
			Actor:      actor,
		}
		levels, err := l.ApplyTx(ctx, tx, op, []Change{c})
		if err != nil {
			return err
		}
		result = levels[0]
		applied = &c
		return nil
	})
	if err != nil {
		recordError(span, err)
		return model.InventoryLevel{}, err
	}

	if applied != nil {
		l.committed(ctx, []Change{*applied}, []model.InventoryLevel{result})
	}
	return result, nil
}

// Apply applies all changes atomically in one transaction. Either every
// change is applied or none is.
func (l *Ledger) Apply(ctx context.Context, op string, changes []Change) ([]model.InventoryLevel, error) {
	ctx, span := l.tracer.Start(ctx, op, trace.WithAttributes(attribute.Int("changes", len(changes))))
	defer span.End()

	var levels []model.InventoryLevel
	err := l.Transact(ctx, op, func(tx *db.Tx) error {
		var err error
		levels, err = l.ApplyTx(ctx, tx, op, changes)
		return err
	})
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	l.committed(ctx, changes, levels)
	return levels, nil
}

// ApplyTx applies changes inside the caller's transaction. It first locks
// every touched location in id order, then the level rows in (variant,
// location) order, so concurrent multi-row writers cannot deadlock and a
// location cannot be deleted underneath them. The returned levels are in
// (variant, location) order. Nothing is published or invalidated; call
// Invalidate after the transaction commits.
func (l *Ledger) ApplyTx(ctx context.Context, tx *db.Tx, op string, changes []Change) ([]model.InventoryLevel, error) {
	sorted := slices.Clone(changes)
	slices.SortStableFunc(sorted, func(a, b Change) int {
		if a.VariantID != b.VariantID {
			return cmp.Compare(a.VariantID, b.VariantID)
		}
		return cmp.Compare(a.LocationID, b.LocationID)
	})

	locations, err := lockLocations(ctx, tx, sorted)
	if err != nil {
		return nil, err
	}

	levels := make([]model.InventoryLevel, 0, len(sorted))
	for _, c := range sorted {
		lvl, err := l.applyOne(ctx, tx, op, c, locations[c.LocationID])
		if err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}

func lockLocations(ctx context.Context, tx *db.Tx, changes []Change) (map[int64]*model.Location, error) {
	ids := make([]int64, 0, len(changes))
	for _, c := range changes {
		ids = append(ids, c.LocationID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	locations := make(map[int64]*model.Location, len(ids))
	for _, id := range ids {
		loc, err := store.LockLocation(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		locations[id] = loc
	}
	return locations, nil
}

// applyOne applies c to its level row. loc is nil for location ids the
// registry does not know; those are accepted as-is.
func (l *Ledger) applyOne(ctx context.Context, tx *db.Tx, op string, c Change, loc *model.Location) (model.InventoryLevel, error) {
	current, err := store.LockInventoryLevel(ctx, tx, c.VariantID, c.LocationID)
	if err != nil {
		return model.InventoryLevel{}, err
	}
	if c.Delta.IsZero() {
		return current, nil
	}

	next := current.Apply(c.Delta)
	if err := checkInvariant(op, current, next, c.Delta); err != nil {
		return model.InventoryLevel{}, err
	}
	if loc != nil && !loc.Active() && (next.OnHand != 0 || next.Committed != 0 || next.Reserved != 0) {
		e := apperr.Validation(op, "location %d is deleted and cannot hold stock", c.LocationID)
		e.VariantID, e.LocationID = c.VariantID, c.LocationID
		return model.InventoryLevel{}, e
	}

	updated, err := store.UpdateInventoryLevel(ctx, tx, next)
	if err != nil {
		return model.InventoryLevel{}, err
	}

	_, err = store.InsertMovement(ctx, tx, model.Movement{
		VariantID:  c.VariantID,
		LocationID: c.LocationID,
		Delta:      c.Delta,
		Reason:     c.Reason,
		TransferID: c.TransferID,
		Note:       c.Note,
		Actor:      c.Actor,
	})
	if err != nil {
		return model.InventoryLevel{}, err
	}
	return updated, nil
}

// checkInvariant rejects a level with any negative counter or a negative
// available quantity, naming the first failing field.
func checkInvariant(op string, before, after model.InventoryLevel, d model.Delta) error {
	v, loc := after.VariantID, after.LocationID
	switch {
	case after.OnHand < 0:
		return apperr.Insufficient(op, v, loc, "on_hand", -d.OnHand, before.OnHand)
	case after.Committed < 0:
		return apperr.Insufficient(op, v, loc, "committed", -d.Committed, before.Committed)
	case after.Reserved < 0:
		return apperr.Insufficient(op, v, loc, "reserved", -d.Reserved, before.Reserved)
	case after.Available() < 0:
		return apperr.Insufficient(op, v, loc, "available", -d.AvailableEffect(), before.Available())
	}
	return nil
}

// Transact runs fn in a transaction, retrying transient conflicts, and
// classifies the outcome into an apperr kind.
func (l *Ledger) Transact(ctx context.Context, op string, fn func(tx *db.Tx) error) error {
	return classify(op, l.db.RetryTx(ctx, l.maxRetries, fn))
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	if errors.Is(err, db.ErrRetriesExhausted) {
		return apperr.Conflict(op, err)
	}
	return apperr.Storage(op, err)
}

// Get returns the level for a pair; a missing row is all zeros.
func (l *Ledger) Get(ctx context.Context, variantID, locationID int64) (model.InventoryLevel, error) {
	lvl, err := store.GetInventoryLevel(ctx, l.db, variantID, locationID)
	if err != nil {
		return model.InventoryLevel{}, apperr.Storage("ledger.Get", err)
	}
	return lvl, nil
}

// GetForVariant returns a variant's levels at every location that has a row.
func (l *Ledger) GetForVariant(ctx context.Context, variantID int64) ([]model.InventoryLevel, error) {
	return l.List(ctx, store.InventoryFilter{VariantID: variantID})
}

// List returns levels matching f.
func (l *Ledger) List(ctx context.Context, f store.InventoryFilter) ([]model.InventoryLevel, error) {
	levels, err := store.ListInventory(ctx, l.db, f)
	if err != nil {
		return nil, apperr.Storage("ledger.List", err)
	}
	if levels == nil {
		levels = []model.InventoryLevel{}
	}
	return levels, nil
}

// cachedSummary is a stock summary tagged with the variant's cache
// generation at the time its rows were read.
type cachedSummary struct {
	Generation int64              `json:"generation"`
	Summary    model.StockSummary `json:"summary"`
}

// StockSummary totals a variant's stock across locations and values it at
// the variant's unit cost. Results are cached until the next change.
//
// Every change bumps the variant's generation counter after commit. A
// summary is served from cache only when it was computed under the current
// generation, so a read that raced a commit cannot pin a stale summary.
func (l *Ledger) StockSummary(ctx context.Context, variantID int64) (model.StockSummary, error) {
	const op = "ledger.StockSummary"
	key := cache.StockSummaryKey(variantID)

	var gen int64
	cacheable := false
	if l.cache != nil {
		gen, cacheable = l.generation(ctx, variantID)
	}
	if cacheable {
		if b, err := l.cache.Get(ctx, key); err == nil {
			var c cachedSummary
			if err := json.Unmarshal(b, &c); err == nil && c.Generation == gen {
				return c.Summary, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			l.log.Warn("reading stock summary cache", zap.Int64("variant_id", variantID), zap.Error(err))
		}
	}

	levels, err := l.GetForVariant(ctx, variantID)
	if err != nil {
		return model.StockSummary{}, err
	}
	variant, err := store.GetVariant(ctx, l.db, variantID)
	if err != nil {
		return model.StockSummary{}, apperr.Storage(op, err)
	}
	s := model.Summarize(variantID, levels, costOf(variant))

	if cacheable {
		if b, err := json.Marshal(cachedSummary{Generation: gen, Summary: s}); err == nil {
			if err := l.cache.Set(ctx, key, b, l.cacheTTL); err != nil {
				l.log.Warn("writing stock summary cache", zap.Int64("variant_id", variantID), zap.Error(err))
			}
		}
	}
	return s, nil
}

// generation returns the variant's current cache generation. ok is false
// when the cache cannot be read, in which case nothing should be cached.
func (l *Ledger) generation(ctx context.Context, variantID int64) (int64, bool) {
	b, err := l.cache.Get(ctx, cache.StockGenerationKey(variantID))
	if errors.Is(err, cache.ErrMiss) {
		return 0, true
	}
	if err != nil {
		l.log.Warn("reading stock cache generation", zap.Int64("variant_id", variantID), zap.Error(err))
		return 0, false
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ListMovements reads the journal.
func (l *Ledger) ListMovements(ctx context.Context, f store.MovementFilter) ([]model.Movement, error) {
	movements, err := store.ListMovements(ctx, l.db, f)
	if err != nil {
		return nil, apperr.Storage("ledger.ListMovements", err)
	}
	if movements == nil {
		movements = []model.Movement{}
	}
	return movements, nil
}

// Invalidate drops cached views for the given variants.
func (l *Ledger) Invalidate(ctx context.Context, variantIDs ...int64) {
	if l.cache == nil || len(variantIDs) == 0 {
		return
	}
	seen := make(map[int64]bool, len(variantIDs))
	keys := make([]string, 0, len(variantIDs))
	for _, id := range variantIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		keys = append(keys, cache.StockSummaryKey(id))
		if _, err := l.cache.Incr(ctx, cache.StockGenerationKey(id)); err != nil {
			l.log.Warn("bumping stock cache generation", zap.Int64("variant_id", id), zap.Error(err))
		}
	}
	if err := l.cache.Delete(ctx, keys...); err != nil {
		l.log.Warn("invalidating stock cache", zap.Strings("keys", keys), zap.Error(err))
	}
}

// committed runs the post-commit side effects of a direct adjustment.
func (l *Ledger) committed(ctx context.Context, changes []Change, levels []model.InventoryLevel) {
	ids := make([]int64, len(changes))
	for i, c := range changes {
		ids[i] = c.VariantID
		l.log.Info("inventory adjusted",
			zap.Int64("variant_id", c.VariantID),
			zap.Int64("location_id", c.LocationID),
			zap.String("reason", c.Reason),
			zap.Int("on_hand", c.Delta.OnHand),
			zap.Int("committed", c.Delta.Committed),
			zap.Int("reserved", c.Delta.Reserved),
			zap.String("actor", c.Actor),
		)
	}
	l.Invalidate(ctx, ids...)

	if l.publisher == nil {
		return
	}
	final := make(map[[2]int64]model.InventoryLevel, len(levels))
	for _, lvl := range levels {
		final[[2]int64{lvl.VariantID, lvl.LocationID}] = lvl
	}
	for _, c := range changes {
		ev, err := events.New(events.InventoryAdjusted, fmt.Sprintf("variant:%d", c.VariantID), adjustedPayload{
			Delta:  c.Delta,
			Reason: c.Reason,
			Actor:  c.Actor,
			Level:  final[[2]int64{c.VariantID, c.LocationID}],
		})
		if err == nil {
			err = l.publisher.Publish(ctx, ev)
		}
		if err != nil {
			l.log.Warn("publishing inventory event", zap.Int64("variant_id", c.VariantID), zap.Error(err))
		}
	}
}

type adjustedPayload struct {
	Delta  model.Delta          `json:"delta"`
	Reason string               `json:"reason"`
	Actor  string               `json:"actor,omitempty"`
	Level  model.InventoryLevel `json:"level"`
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.KindOf(err).String())
}

func costOf(v *model.Variant) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return v.Cost
}
