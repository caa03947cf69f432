package api

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/ledger"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// LocationsHandler handles location endpoints.
type LocationsHandler struct {
	DB     *db.DB
	Ledger *ledger.Ledger
	Log    *zap.Logger
}

type locationRequest struct {
	Name                string `json:"name"`
	IsFulfillmentCenter bool   `json:"is_fulfillment_center"`
	IsPickupLocation    bool   `json:"is_pickup_location"`
}

// List handles GET /api/locations.
func (h *LocationsHandler) List(w http.ResponseWriter, r *http.Request) {
	locations, err := store.ListLocations(r.Context(), h.DB)
	if err != nil {
		h.Log.Error("listing locations", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to list locations")
		return
	}
	if locations == nil {
		locations = []model.Location{}
	}
	jsonResponse(w, http.StatusOK, locations)
}

// Create handles POST /api/locations.
func (h *LocationsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	loc, err := store.CreateLocation(r.Context(), h.DB, req.Name, req.IsFulfillmentCenter, req.IsPickupLocation)
	if err != nil {
		h.Log.Error("creating location", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to create location")
		return
	}

	h.Log.Info("location created", zap.String("user", actor(r)), zap.Int64("location_id", loc.ID), zap.String("name", loc.Name))
	jsonResponse(w, http.StatusCreated, loc)
}

// Get handles GET /api/locations/{id}.
func (h *LocationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, loc)
}

// Update handles PUT /api/locations/{id}.
func (h *LocationsHandler) Update(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.load(w, r)
	if !ok {
		return
	}

	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		jsonError(w, http.StatusBadRequest, "name required")
		return
	}

	if err := store.UpdateLocation(r.Context(), h.DB, loc.ID, req.Name, req.IsFulfillmentCenter, req.IsPickupLocation); err != nil {
		h.Log.Error("updating location", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to update location")
		return
	}

	updated, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// SetDefault handles PUT /api/locations/{id}/default.
func (h *LocationsHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.load(w, r)
	if !ok {
		return
	}

	err := h.DB.InTx(r.Context(), func(tx *db.Tx) error {
		return store.SetDefaultLocation(r.Context(), tx, loc.ID)
	})
	if err != nil {
		h.Log.Error("setting default location", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to set default location")
		return
	}

	h.Log.Info("default location changed", zap.String("user", actor(r)), zap.Int64("location_id", loc.ID))
	updated, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/locations/{id}.
func (h *LocationsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.load(w, r)
	if !ok {
		return
	}

	err := h.DB.InTx(r.Context(), func(tx *db.Tx) error {
		return store.DeleteLocation(r.Context(), tx, loc.ID)
	})
	if errors.Is(err, store.ErrLocationInUse) {
		jsonError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.Log.Error("deleting location", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to delete location")
		return
	}

	h.Log.Info("location deleted", zap.String("user", actor(r)), zap.Int64("location_id", loc.ID))
	jsonResponse(w, http.StatusOK, map[string]string{"message": "location deleted"})
}

// Inventory handles GET /api/locations/{id}/inventory.
func (h *LocationsHandler) Inventory(w http.ResponseWriter, r *http.Request) {
	loc, ok := h.load(w, r)
	if !ok {
		return
	}

	levels, err := h.Ledger.List(r.Context(), store.InventoryFilter{LocationID: loc.ID, NonZero: true})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, levels)
}

// load resolves the {id} path value to an active location, writing the
// error response itself when it cannot.
func (h *LocationsHandler) load(w http.ResponseWriter, r *http.Request) (*model.Location, bool) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid location id")
		return nil, false
	}

	loc, err := store.GetLocation(r.Context(), h.DB, id)
	if err != nil {
		h.Log.Error("getting location", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to get location")
		return nil, false
	}
	if !loc.Active() {
		jsonError(w, http.StatusNotFound, "location not found")
		return nil, false
	}
	return loc, true
}
