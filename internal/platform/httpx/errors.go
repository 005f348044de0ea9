// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/medzillo/medzillo/internal/shared"
)

// RetryAfterSeconds is advertised when a transaction lost a concurrency race.
const RetryAfterSeconds = "1"

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var stockErr *shared.InsufficientStockError
	var fieldErr *shared.ValidationError
	switch {
	case errors.As(err, &stockErr):
		JSON(w, http.StatusConflict, ProblemDetail{
			Type:       "insufficient_stock",
			Title:      "Insufficient Stock",
			Status:     http.StatusConflict,
			Detail:     err.Error(),
			MedicineID: stockErr.MedicineID,
			Available:  &stockErr.Available,
			Required:   &stockErr.Required,
		})
	case errors.As(err, &fieldErr):
		JSON(w, http.StatusBadRequest, ProblemDetail{
			Type:   "validation",
			Title:  "Validation Failed",
			Status: http.StatusBadRequest,
			Detail: err.Error(),
			Field:  fieldErr.Field,
		})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrDuplicateBatch):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", RetryAfterSeconds)
		Problem(w, http.StatusServiceUnavailable, "Concurrency Conflict", "the request raced another update; retry")
	case errors.Is(err, shared.ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
