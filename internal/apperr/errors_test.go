package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinelMatching(t *testing.T) {
	err := Insufficient("ledger.Adjust", 1, 2, "available", 10, 4)

	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.NotErrorIs(t, err, ErrValidation)

	wrapped := fmt.Errorf("creating transfer: %w", err)
	assert.ErrorIs(t, wrapped, ErrInvariantViolation)
	assert.Equal(t, KindInvariantViolation, KindOf(wrapped))

	var e *Error
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, 10, e.Requested)
	assert.Equal(t, 4, e.Available)
	assert.Equal(t, int64(2), e.LocationID)
}

func TestErrorMessage(t *testing.T) {
	err := Validation("transfer.Create", "quantity must be positive, got %d", 0)
	assert.Equal(t, "transfer.Create: quantity must be positive, got 0", err.Error())

	cause := errors.New("disk full")
	storage := Storage("ledger.Adjust", cause)
	assert.ErrorIs(t, storage, cause)
	assert.Contains(t, storage.Error(), "disk full")
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	assert.Equal(t, "ConcurrencyConflict", KindConcurrencyConflict.String())
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("transfer.Ship", "completed", "in_transit")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "transfer.Ship: cannot move transfer from completed to in_transit", err.Error())
}
