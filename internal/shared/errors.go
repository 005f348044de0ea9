package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced batch, medicine, bill, patient or appointment is missing.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicateBatch indicates (medicine, batch number) already exists.
	ErrDuplicateBatch = errors.New("duplicate batch")
	// ErrInsufficientStock indicates a request exceeds available unit stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConcurrencyConflict is transient; the whole operation may be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller lacks the required role.
	ErrForbidden = errors.New("forbidden")
)

// ValidationError carries the offending field alongside ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InsufficientStockError reports the medicine that could not be supplied.
type InsufficientStockError struct {
	MedicineID int64
	Available  int64
	Required   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: medicine %d available %d required %d", ErrInsufficientStock, e.MedicineID, e.Available, e.Required)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// NotFoundf wraps ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
