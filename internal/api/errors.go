package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/erazemk/zaloga/internal/apperr"
)

type errorBody struct {
	Error      string `json:"error"`
	Kind       string `json:"kind,omitempty"`
	VariantID  int64  `json:"variant_id,omitempty"`
	LocationID int64  `json:"location_id,omitempty"`
	Field      string `json:"field,omitempty"`
	Requested  int    `json:"requested,omitempty"`
	Available  *int   `json:"available,omitempty"`
}

func statusFor(k apperr.Kind) int {
	switch k {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindInvariantViolation, apperr.KindInvalidTransition, apperr.KindConcurrencyConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// writeError maps ledger and engine errors to a status code and a body
// carrying the error kind and the failing key. Storage and unclassified
// errors are logged and reported without detail.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	var e *apperr.Error
	if !errors.As(err, &e) || e.Kind == apperr.KindStorage || e.Kind == apperr.KindUnknown {
		log.Error("request failed", zap.Error(err))
		jsonError(w, http.StatusInternalServerError, "internal error")
		return
	}

	body := errorBody{
		Error:      e.Error(),
		Kind:       e.Kind.String(),
		VariantID:  e.VariantID,
		LocationID: e.LocationID,
		Field:      e.Field,
		Requested:  e.Requested,
	}
	if e.Kind == apperr.KindInvariantViolation {
		available := e.Available
		body.Available = &available
	}
	if e.Kind == apperr.KindConcurrencyConflict {
		log.Warn("request gave up after conflicts", zap.Error(err))
	}
	jsonResponse(w, statusFor(e.Kind), body)
}
