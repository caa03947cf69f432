package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
	"github.com/erazemk/zaloga/internal/transfer"
)

// IdempotencyKeyHeader carries the client's key for transfer creation.
const IdempotencyKeyHeader = "Idempotency-Key"

// TransfersHandler handles transfer endpoints.
type TransfersHandler struct {
	Engine *transfer.Engine
	Log    *zap.Logger
}

type createTransferRequest struct {
	FromLocationID int64           `json:"from_location_id"`
	ToLocationID   int64           `json:"to_location_id"`
	Reason         string          `json:"reason"`
	Notes          string          `json:"notes"`
	Items          []transfer.Item `json:"items"`
}

// settleRequest is the optional body of receive and cancel. Lines not listed
// settle at their full quantity.
type settleRequest struct {
	Items []transfer.Item `json:"items"`
}

// Create handles POST /api/transfers.
func (h *TransfersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var key string
	if v := r.Header.Get(IdempotencyKeyHeader); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "Idempotency-Key must be a UUID")
			return
		}
		key = id.String()
	}

	t, err := h.Engine.CreateTransfer(r.Context(), transfer.CreateInput{
		FromLocationID: req.FromLocationID,
		ToLocationID:   req.ToLocationID,
		Reason:         req.Reason,
		Notes:          req.Notes,
		Items:          req.Items,
		IdempotencyKey: key,
		CreatedBy:      actor(r),
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusCreated, t)
}

// List handles GET /api/transfers.
func (h *TransfersHandler) List(w http.ResponseWriter, r *http.Request) {
	f := store.TransferFilter{Status: model.TransferStatus(r.URL.Query().Get("status"))}
	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"from_location_id", &f.FromLocationID},
		{"to_location_id", &f.ToLocationID},
		{"location_id", &f.LocationID},
		{"variant_id", &f.VariantID},
	} {
		id, ok := queryID(r, p.name)
		if !ok {
			jsonError(w, http.StatusBadRequest, "invalid "+p.name)
			return
		}
		*p.dst = id
	}
	var ok bool
	if f.Limit, ok = queryLimit(r); !ok {
		jsonError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	transfers, err := h.Engine.List(r.Context(), f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, transfers)
}

// Get handles GET /api/transfers/{id}.
func (h *TransfersHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid transfer id")
		return
	}

	t, err := h.Engine.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// Ship handles POST /api/transfers/{id}/ship.
func (h *TransfersHandler) Ship(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid transfer id")
		return
	}

	t, err := h.Engine.Ship(r.Context(), id, actor(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// Receive handles POST /api/transfers/{id}/receive.
func (h *TransfersHandler) Receive(w http.ResponseWriter, r *http.Request) {
	id, qty, ok := h.settleArgs(w, r)
	if !ok {
		return
	}

	t, err := h.Engine.Receive(r.Context(), id, qty, actor(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// Cancel handles POST /api/transfers/{id}/cancel.
func (h *TransfersHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, qty, ok := h.settleArgs(w, r)
	if !ok {
		return
	}

	t, err := h.Engine.Cancel(r.Context(), id, qty, actor(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, t)
}

// History handles GET /api/transfers/{id}/history.
func (h *TransfersHandler) History(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid transfer id")
		return
	}

	history, err := h.Engine.History(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, history)
}

// Shortfalls handles GET /api/transfers/shortfalls.
func (h *TransfersHandler) Shortfalls(w http.ResponseWriter, r *http.Request) {
	var f store.ShortfallFilter
	var ok bool
	if f.LocationID, ok = queryID(r, "location_id"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid location_id")
		return
	}
	if f.VariantID, ok = queryID(r, "variant_id"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid variant_id")
		return
	}
	if f.Limit, ok = queryLimit(r); !ok {
		jsonError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	shortfalls, err := h.Engine.Shortfalls(r.Context(), f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, shortfalls)
}

// settleArgs reads the transfer id and the optional per-variant quantities
// of a receive or cancel request.
func (h *TransfersHandler) settleArgs(w http.ResponseWriter, r *http.Request) (int64, map[int64]int, bool) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid transfer id")
		return 0, nil, false
	}

	var req settleRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return 0, nil, false
	}
	if len(req.Items) == 0 {
		return id, nil, true
	}

	qty := make(map[int64]int, len(req.Items))
	for _, it := range req.Items {
		if _, dup := qty[it.VariantID]; dup {
			jsonError(w, http.StatusBadRequest, "variant listed more than once")
			return 0, nil, false
		}
		qty[it.VariantID] = it.Quantity
	}
	return id, qty, true
}
