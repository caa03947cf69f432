package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/ledger"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// InventoryHandler handles inventory endpoints.
type InventoryHandler struct {
	DB     *db.DB
	Ledger *ledger.Ledger
	Log    *zap.Logger
}

type adjustRequest struct {
	VariantID  int64  `json:"variant_id"`
	LocationID int64  `json:"location_id"`
	OnHand     int    `json:"on_hand"`
	Committed  int    `json:"committed"`
	Reserved   int    `json:"reserved"`
	Note       string `json:"note"`
}

type setRequest struct {
	VariantID  int64  `json:"variant_id"`
	LocationID int64  `json:"location_id"`
	OnHand     *int   `json:"on_hand"`
	Note       string `json:"note"`
}

// List handles GET /api/inventory.
func (h *InventoryHandler) List(w http.ResponseWriter, r *http.Request) {
	variantID, ok := queryID(r, "variant_id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid variant_id")
		return
	}
	locationID, ok := queryID(r, "location_id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid location_id")
		return
	}

	levels, err := h.Ledger.List(r.Context(), store.InventoryFilter{
		VariantID:  variantID,
		LocationID: locationID,
		NonZero:    r.URL.Query().Get("nonzero") == "true",
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, levels)
}

// Adjust handles POST /api/inventory/adjust.
func (h *InventoryHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VariantID <= 0 {
		jsonError(w, http.StatusBadRequest, "variant_id required")
		return
	}

	locationID, ok := h.resolveLocation(w, r, req.LocationID)
	if !ok {
		return
	}

	level, err := h.Ledger.Adjust(r.Context(), ledger.Change{
		VariantID:  req.VariantID,
		LocationID: locationID,
		Delta:      model.Delta{OnHand: req.OnHand, Committed: req.Committed, Reserved: req.Reserved},
		Note:       req.Note,
		Actor:      actor(r),
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, level)
}

// Set handles POST /api/inventory/set.
func (h *InventoryHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.VariantID <= 0 || req.OnHand == nil {
		jsonError(w, http.StatusBadRequest, "variant_id and on_hand required")
		return
	}

	locationID, ok := h.resolveLocation(w, r, req.LocationID)
	if !ok {
		return
	}

	level, err := h.Ledger.SetOnHand(r.Context(), req.VariantID, locationID, *req.OnHand, actor(r), req.Note)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, level)
}

// Movements handles GET /api/inventory/movements.
func (h *InventoryHandler) Movements(w http.ResponseWriter, r *http.Request) {
	var f store.MovementFilter
	var ok bool
	if f.VariantID, ok = queryID(r, "variant_id"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid variant_id")
		return
	}
	if f.LocationID, ok = queryID(r, "location_id"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid location_id")
		return
	}
	if f.TransferID, ok = queryID(r, "transfer_id"); !ok {
		jsonError(w, http.StatusBadRequest, "invalid transfer_id")
		return
	}
	if f.Limit, ok = queryLimit(r); !ok {
		jsonError(w, http.StatusBadRequest, "invalid limit")
		return
	}

	movements, err := h.Ledger.ListMovements(r.Context(), f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, movements)
}

// resolveLocation returns id if it names an active location, or the
// default location when id is zero.
func (h *InventoryHandler) resolveLocation(w http.ResponseWriter, r *http.Request, id int64) (int64, bool) {
	if id < 0 {
		jsonError(w, http.StatusBadRequest, "invalid location_id")
		return 0, false
	}

	if id == 0 {
		loc, err := store.GetDefaultLocation(r.Context(), h.DB)
		if err != nil {
			h.Log.Error("getting default location", zap.Error(err))
			jsonError(w, http.StatusInternalServerError, "internal error")
			return 0, false
		}
		if loc == nil {
			jsonError(w, http.StatusBadRequest, "location_id required: no default location")
			return 0, false
		}
		return loc.ID, true
	}

	loc, err := store.GetLocation(r.Context(), h.DB, id)
	if err != nil {
		h.Log.Error("getting location", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "internal error")
		return 0, false
	}
	if !loc.Active() {
		jsonError(w, http.StatusNotFound, "location not found")
		return 0, false
	}
	return loc.ID, true
}
