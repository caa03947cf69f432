// Package transfer moves stock between locations through the
// pending -> in_transit -> completed lifecycle, with cancellation from
// either open state. Every transition applies its ledger effects and its
// status change in a single transaction.
package transfer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/erazemk/zaloga/internal/apperr"
	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/events"
	"github.com/erazemk/zaloga/internal/ledger"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
	"github.com/erazemk/zaloga/internal/telemetry"
)

// Item is one requested line of a new transfer.
type Item struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

// CreateInput describes a new transfer.
type CreateInput struct {
	FromLocationID int64
	ToLocationID   int64
	Reason         string
	Notes          string
	Items          []Item
	IdempotencyKey string
	CreatedBy      string
}

// Engine runs transfer transitions against the ledger.
type Engine struct {
	db        *db.DB
	ledger    *ledger.Ledger
	publisher events.Publisher
	log       *zap.Logger
	tracer    trace.Tracer
}

// NewEngine creates an engine that writes through l. publisher and log may
// be nil.
func NewEngine(l *ledger.Ledger, publisher events.Publisher, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		db:        l.DB(),
		ledger:    l,
		publisher: publisher,
		log:       log,
		tracer:    telemetry.Tracer("github.com/erazemk/zaloga/internal/transfer"),
	}
}

// CreateTransfer validates the input, commits every line's quantity at the
// origin and stores the transfer as pending. If any line lacks available
// stock nothing is written. A repeated idempotency key returns the transfer
// created first without touching the ledger.
func (e *Engine) CreateTransfer(ctx context.Context, in CreateInput) (*model.Transfer, error) {
	const op = "transfer.Create"
	if err := validateCreate(op, in); err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("location.from", in.FromLocationID),
		attribute.Int64("location.to", in.ToLocationID),
		attribute.Int("lines", len(in.Items)),
	))
	defer span.End()

	var t *model.Transfer
	var existing bool
	var changes []ledger.Change
	err := e.ledger.Transact(ctx, op, func(tx *db.Tx) error {
		existing = false
		if in.IdempotencyKey != "" {
			prev, err := store.FindTransferByIdempotencyKey(ctx, tx, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if prev != nil {
				t, existing = prev, true
				return nil
			}
		}

		// Lock both ends in id order so a concurrent delete waits for the
		// transfer to exist and then sees it as open.
		sides := []struct {
			name string
			id   int64
		}{{"from", in.FromLocationID}, {"to", in.ToLocationID}}
		if sides[1].id < sides[0].id {
			sides[0], sides[1] = sides[1], sides[0]
		}
		for _, side := range sides {
			if err := requireActiveLocation(ctx, tx, op, side.name, side.id); err != nil {
				return err
			}
		}

		t = &model.Transfer{
			FromLocationID: in.FromLocationID,
			ToLocationID:   in.ToLocationID,
			Reason:         in.Reason,
			Notes:          in.Notes,
			IdempotencyKey: in.IdempotencyKey,
			CreatedBy:      in.CreatedBy,
		}
		for _, it := range in.Items {
			t.LineItems = append(t.LineItems, model.TransferLineItem{VariantID: it.VariantID, Quantity: it.Quantity})
		}
		if err := store.InsertTransfer(ctx, tx, t); err != nil {
			return err
		}

		changes = withActor(Effects("", model.TransferPending, t, nil), in.CreatedBy)
		if _, err := e.ledger.ApplyTx(ctx, tx, op, changes); err != nil {
			return err
		}

		return store.AppendTransferEvent(ctx, tx, model.TransferEvent{
			TransferID: t.ID,
			ToStatus:   model.TransferPending,
			Actor:      in.CreatedBy,
		})
	})
	if err != nil {
		fail(span, err)
		return nil, err
	}

	if existing {
		e.log.Info("transfer create replayed",
			zap.Int64("transfer_id", t.ID),
			zap.String("idempotency_key", in.IdempotencyKey),
		)
		return t, nil
	}

	created, err := e.reload(ctx, op, t.ID)
	if err != nil {
		return nil, err
	}
	e.committed(ctx, events.TransferCreated, created, changes, in.CreatedBy)
	return created, nil
}

// Ship moves a pending transfer in transit. Committed stock leaves the
// origin's on-hand count.
func (e *Engine) Ship(ctx context.Context, id int64, actor string) (*model.Transfer, error) {
	return e.transition(ctx, "transfer.Ship", id, model.TransferInTransit, nil, actor)
}

// Receive completes an in-transit transfer. received overrides the
// quantity of individual lines; lines not in the map are received in full.
// The difference to the shipped quantity stays recorded on the line.
func (e *Engine) Receive(ctx context.Context, id int64, received map[int64]int, actor string) (*model.Transfer, error) {
	return e.transition(ctx, "transfer.Receive", id, model.TransferCompleted, received, actor)
}

// Cancel cancels an open transfer. A pending transfer releases its
// committed stock. An in-transit transfer returns stock to the origin;
// returned overrides the quantity of individual lines and any difference
// is recorded on the line as a shortfall.
func (e *Engine) Cancel(ctx context.Context, id int64, returned map[int64]int, actor string) (*model.Transfer, error) {
	return e.transition(ctx, "transfer.Cancel", id, model.TransferCancelled, returned, actor)
}

func (e *Engine) transition(ctx context.Context, op string, id int64, to model.TransferStatus, qty map[int64]int, actor string) (*model.Transfer, error) {
	ctx, span := e.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.Int64("transfer.id", id),
		attribute.String("transfer.to_status", string(to)),
	))
	defer span.End()

	var changes []ledger.Change
	err := e.ledger.Transact(ctx, op, func(tx *db.Tx) error {
		t, err := store.GetTransferForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if t == nil {
			return apperr.NotFound(op, "transfer %d not found", id)
		}
		from := t.Status
		if !from.CanTransition(to) {
			return apperr.InvalidTransition(op, string(from), string(to))
		}
		if err := validateQuantities(op, t, from, to, qty); err != nil {
			return err
		}

		if err := store.UpdateTransferStatus(ctx, tx, id, from, to); err != nil {
			return err
		}
		if err := settleLines(ctx, tx, t, from, to, qty); err != nil {
			return err
		}

		changes = withActor(Effects(from, to, t, qty), actor)
		if _, err := e.ledger.ApplyTx(ctx, tx, op, changes); err != nil {
			return err
		}

		return store.AppendTransferEvent(ctx, tx, model.TransferEvent{
			TransferID: id,
			FromStatus: from,
			ToStatus:   to,
			Actor:      actor,
		})
	})
	if err != nil {
		fail(span, err)
		return nil, err
	}

	t, err := e.reload(ctx, op, id)
	if err != nil {
		return nil, err
	}
	e.committed(ctx, eventType(to), t, changes, actor)
	return t, nil
}

// settleLines records received or returned quantities on every line.
func settleLines(ctx context.Context, tx *db.Tx, t *model.Transfer, from, to model.TransferStatus, qty map[int64]int) error {
	for _, li := range t.LineItems {
		var err error
		switch {
		case to == model.TransferCompleted:
			err = store.SetLineReceived(ctx, tx, t.ID, li.VariantID, settled(li, qty))
		case from == model.TransferInTransit && to == model.TransferCancelled:
			err = store.SetLineReturned(ctx, tx, t.ID, li.VariantID, settled(li, qty))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns a transfer with its lines.
func (e *Engine) Get(ctx context.Context, id int64) (*model.Transfer, error) {
	return e.reload(ctx, "transfer.Get", id)
}

// List returns transfers matching f.
func (e *Engine) List(ctx context.Context, f store.TransferFilter) ([]model.Transfer, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Validation("transfer.List", "unknown status %q", f.Status)
	}
	transfers, err := store.ListTransfers(ctx, e.db, f)
	if err != nil {
		return nil, apperr.Storage("transfer.List", err)
	}
	if transfers == nil {
		transfers = []model.Transfer{}
	}
	return transfers, nil
}

// History returns the status changes of a transfer, oldest first.
func (e *Engine) History(ctx context.Context, id int64) ([]model.TransferEvent, error) {
	const op = "transfer.History"
	if _, err := e.reload(ctx, op, id); err != nil {
		return nil, err
	}
	history, err := store.ListTransferEvents(ctx, e.db, id)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	return history, nil
}

// Shortfalls lists settled lines with units unaccounted for.
func (e *Engine) Shortfalls(ctx context.Context, f store.ShortfallFilter) ([]model.Shortfall, error) {
	shortfalls, err := store.ListShortfalls(ctx, e.db, f)
	if err != nil {
		return nil, apperr.Storage("transfer.Shortfalls", err)
	}
	if shortfalls == nil {
		shortfalls = []model.Shortfall{}
	}
	return shortfalls, nil
}

func (e *Engine) reload(ctx context.Context, op string, id int64) (*model.Transfer, error) {
	t, err := store.GetTransfer(ctx, e.db, id)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	if t == nil {
		return nil, apperr.NotFound(op, "transfer %d not found", id)
	}
	return t, nil
}

// committed runs the side effects of a committed transition.
func (e *Engine) committed(ctx context.Context, typ string, t *model.Transfer, changes []ledger.Change, actor string) {
	variants := make([]int64, 0, len(t.LineItems))
	for _, li := range t.LineItems {
		variants = append(variants, li.VariantID)
	}
	e.ledger.Invalidate(ctx, variants...)

	e.log.Info(typ,
		zap.Int64("transfer_id", t.ID),
		zap.String("number", t.Number),
		zap.String("status", string(t.Status)),
		zap.Int("ledger_changes", len(changes)),
		zap.String("actor", actor),
	)

	if e.publisher == nil {
		return
	}
	ev, err := events.New(typ, fmt.Sprintf("transfer:%d", t.ID), t)
	if err == nil {
		err = e.publisher.Publish(ctx, ev)
	}
	if err != nil {
		e.log.Warn("publishing transfer event", zap.Int64("transfer_id", t.ID), zap.Error(err))
	}
}

func eventType(to model.TransferStatus) string {
	switch to {
	case model.TransferInTransit:
		return events.TransferShipped
	case model.TransferCompleted:
		return events.TransferReceived
	case model.TransferCancelled:
		return events.TransferCancelled
	}
	return events.TransferCreated
}

func withActor(changes []ledger.Change, actor string) []ledger.Change {
	for i := range changes {
		changes[i].Actor = actor
	}
	return changes
}

func requireActiveLocation(ctx context.Context, tx *db.Tx, op, side string, id int64) error {
	loc, err := store.LockLocation(ctx, tx, id)
	if err != nil {
		return err
	}
	if !loc.Active() {
		return apperr.Validation(op, "%s location %d does not exist", side, id)
	}
	return nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, apperr.KindOf(err).String())
}
