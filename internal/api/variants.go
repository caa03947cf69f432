package api

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/erazemk/zaloga/internal/db"
	"github.com/erazemk/zaloga/internal/ledger"
	"github.com/erazemk/zaloga/internal/model"
	"github.com/erazemk/zaloga/internal/store"
)

// VariantsHandler handles variant endpoints.
type VariantsHandler struct {
	DB     *db.DB
	Ledger *ledger.Ledger
	Log    *zap.Logger
}

type variantRequest struct {
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
}

func (req *variantRequest) validate() string {
	req.SKU = strings.TrimSpace(req.SKU)
	switch {
	case req.SKU == "":
		return "sku required"
	case req.Price.IsNegative():
		return "price cannot be negative"
	case req.Cost.IsNegative():
		return "cost cannot be negative"
	}
	return ""
}

// List handles GET /api/variants.
func (h *VariantsHandler) List(w http.ResponseWriter, r *http.Request) {
	productID, ok := queryID(r, "product_id")
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid product_id")
		return
	}

	variants, err := store.ListVariants(r.Context(), h.DB, productID)
	if err != nil {
		h.Log.Error("listing variants", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to list variants")
		return
	}
	if variants == nil {
		variants = []model.Variant{}
	}
	jsonResponse(w, http.StatusOK, variants)
}

// Create handles POST /api/variants.
func (h *VariantsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req variantRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID <= 0 {
		jsonError(w, http.StatusBadRequest, "product_id required")
		return
	}
	if msg := req.validate(); msg != "" {
		jsonError(w, http.StatusBadRequest, msg)
		return
	}
	if !h.skuFree(w, r, req.SKU, 0) {
		return
	}

	v, err := store.CreateVariant(r.Context(), h.DB, req.ProductID, req.SKU, req.Price, req.Cost)
	if err != nil {
		h.Log.Error("creating variant", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to create variant")
		return
	}

	h.Log.Info("variant created", zap.String("user", actor(r)), zap.Int64("variant_id", v.ID), zap.String("sku", v.SKU))
	jsonResponse(w, http.StatusCreated, v)
}

// Get handles GET /api/variants/{id}.
func (h *VariantsHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, v)
}

// Update handles PUT /api/variants/{id}.
func (h *VariantsHandler) Update(w http.ResponseWriter, r *http.Request) {
	v, ok := h.load(w, r)
	if !ok {
		return
	}

	var req variantRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg := req.validate(); msg != "" {
		jsonError(w, http.StatusBadRequest, msg)
		return
	}
	if !h.skuFree(w, r, req.SKU, v.ID) {
		return
	}

	if err := store.UpdateVariant(r.Context(), h.DB, v.ID, req.SKU, req.Price, req.Cost); err != nil {
		h.Log.Error("updating variant", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to update variant")
		return
	}

	// The summary is valued at unit cost.
	h.Ledger.Invalidate(r.Context(), v.ID)

	updated, ok := h.load(w, r)
	if !ok {
		return
	}
	jsonResponse(w, http.StatusOK, updated)
}

// Stock handles GET /api/variants/{id}/stock.
func (h *VariantsHandler) Stock(w http.ResponseWriter, r *http.Request) {
	v, ok := h.load(w, r)
	if !ok {
		return
	}

	summary, err := h.Ledger.StockSummary(r.Context(), v.ID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	jsonResponse(w, http.StatusOK, summary)
}

func (h *VariantsHandler) load(w http.ResponseWriter, r *http.Request) (*model.Variant, bool) {
	id, ok := pathID(r)
	if !ok {
		jsonError(w, http.StatusBadRequest, "invalid variant id")
		return nil, false
	}

	v, err := store.GetVariant(r.Context(), h.DB, id)
	if err != nil {
		h.Log.Error("getting variant", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "failed to get variant")
		return nil, false
	}
	if v == nil {
		jsonError(w, http.StatusNotFound, "variant not found")
		return nil, false
	}
	return v, true
}

// skuFree reports whether sku is unused by any variant other than self.
func (h *VariantsHandler) skuFree(w http.ResponseWriter, r *http.Request, sku string, self int64) bool {
	existing, err := store.GetVariantBySKU(r.Context(), h.DB, sku)
	if err != nil {
		h.Log.Error("looking up sku", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if existing != nil && existing.ID != self {
		jsonError(w, http.StatusConflict, "sku already exists")
		return false
	}
	return true
}
