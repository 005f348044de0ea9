package allocation

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medzillo/medzillo/internal/platform/httpx"
	"github.com/medzillo/medzillo/internal/shared"
)

// Handler exposes allocation previews.
type Handler struct {
	logger    *slog.Logger
	allocator *Allocator
}

// NewHandler constructs the preview handler.
func NewHandler(logger *slog.Logger, allocator *Allocator) *Handler {
	return &Handler{logger: logger, allocator: allocator}
}

// MountRoutes registers GET /{id}/allocation under /medicines.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}/allocation", h.handlePreview)
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	medicineID, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	quantity, err := httpx.QueryInt64(r, "quantity", 0)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	plan, err := h.allocator.Preview(r.Context(), actor.ClinicID, medicineID, quantity)
	if err != nil {
		if !isExpected(err) {
			h.logger.Error("allocation preview", slog.Int64("medicine_id", medicineID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plan)
}

func isExpected(err error) bool {
	return errors.Is(err, shared.ErrValidation) || errors.Is(err, shared.ErrNotFound)
}
