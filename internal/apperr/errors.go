// Package apperr defines the error kinds returned by the ledger and the
// transfer engine. Callers match kinds with errors.Is against the sentinel
// values, or read details with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for the caller.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindInvariantViolation
	KindInvalidTransition
	KindConcurrencyConflict
	KindStorage
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindInvariantViolation:
		return "InvariantViolation"
	case KindInvalidTransition:
		return "InvalidTransition"
	case KindConcurrencyConflict:
		return "ConcurrencyConflict"
	case KindStorage:
		return "StorageError"
	case KindNotFound:
		return "NotFound"
	}
	return "Unknown"
}

// Error carries the kind plus enough detail for the caller to act on it.
type Error struct {
	Kind    Kind
	Op      string
	Message string

	// Failing key and quantities, set for ledger errors.
	VariantID  int64
	LocationID int64
	Field      string
	Requested  int
	Available  int

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Message == ""
}

// Sentinels for errors.Is.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInvariantViolation  = &Error{Kind: KindInvariantViolation}
	ErrInvalidTransition   = &Error{Kind: KindInvalidTransition}
	ErrConcurrencyConflict = &Error{Kind: KindConcurrencyConflict}
	ErrStorage             = &Error{Kind: KindStorage}
	ErrNotFound            = &Error{Kind: KindNotFound}
)

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Validation reports malformed input.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing record.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidTransition reports a transfer operation not allowed from the
// current status.
func InvalidTransition(op, from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Op:      op,
		Message: fmt.Sprintf("cannot move transfer from %s to %s", from, to),
	}
}

// Insufficient reports an adjustment that would drive a counter negative.
// requested is the amount the counter would need to drop by, available the
// amount it currently holds.
func Insufficient(op string, variantID, locationID int64, field string, requested, available int) *Error {
	return &Error{
		Kind:       KindInvariantViolation,
		Op:         op,
		Message:    fmt.Sprintf("insufficient %s for variant %d at location %d: have %d, need %d", field, variantID, locationID, available, requested),
		VariantID:  variantID,
		LocationID: locationID,
		Field:      field,
		Requested:  requested,
		Available:  available,
	}
}

// Conflict reports exhausted optimistic-locking retries.
func Conflict(op string, err error) *Error {
	return &Error{Kind: KindConcurrencyConflict, Op: op, Message: "concurrent modification, retry the operation", Err: err}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Message: "storage failure", Err: err}
}
