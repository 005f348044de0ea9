package inventory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medzillo/medzillo/internal/auth"
	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/platform/httpx"
	"github.com/medzillo/medzillo/internal/shared"
)

// ReadService serves stock views; StockCache and Ledger both satisfy it.
type ReadService interface {
	GetStock(ctx context.Context, clinicID, medicineID int64) (StockView, error)
}

// Handler wires HTTP endpoints for the inventory module.
type Handler struct {
	logger *slog.Logger
	ledger *Ledger
	reads  ReadService
}

// NewHandler constructs the inventory handler. reads may be nil to read from the ledger.
func NewHandler(logger *slog.Logger, ledger *Ledger, reads ReadService) *Handler {
	if reads == nil {
		reads = ledger
	}
	return &Handler{logger: logger, ledger: ledger, reads: reads}
}

// MountRoutes registers inventory routes under /medicines.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{id}", h.handleGetStock)
	r.Get("/{id}/movements", h.handleMovements)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(shared.RoleAdmin, shared.RolePharmacist))
		r.Post("/{id}/batches", h.handleCreateBatch)
		r.Delete("/{id}/batches/{batchNumber}", h.handleDeleteBatch)
		r.Post("/{id}/batches/{batchNumber}/adjustments", h.handleAdjust)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireRole(shared.RoleAdmin))
		r.Post("/{id}/reconcile", h.handleReconcile)
	})
}

type createBatchRequest struct {
	BatchNumber   string       `json:"batch_number" validate:"required,max=64"`
	PackQuantity  int64        `json:"pack_quantity" validate:"gte=0"`
	PackSize      int64        `json:"pack_size" validate:"gt=0"`
	LooseQuantity int64        `json:"loose_quantity" validate:"gte=0"`
	ExpiryDate    string       `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	PurchaseRate  money.Amount `json:"purchase_rate"`
	SellingRate   money.Amount `json:"selling_rate"`
}

type adjustRequest struct {
	DeltaUnits int64  `json:"delta_units" validate:"ne=0"`
	Note       string `json:"note" validate:"max=256"`
}

type reconcileRequest struct {
	Repair bool `json:"repair"`
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	actor, medicineID, ok := h.scope(w, r)
	if !ok {
		return
	}
	view, err := h.reads.GetStock(r.Context(), actor.ClinicID, medicineID)
	if err != nil {
		h.fail(w, "get stock", err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	actor, medicineID, ok := h.scope(w, r)
	if !ok {
		return
	}
	filter := MovementFilter{MedicineID: medicineID}
	q := r.URL.Query()
	var err error
	if from := q.Get("from"); from != "" {
		if filter.From, err = time.Parse("2006-01-02", from); err != nil {
			httpx.RespondError(w, shared.NewValidationError("from", "must be YYYY-MM-DD"))
			return
		}
	}
	if to := q.Get("to"); to != "" {
		if filter.To, err = time.Parse("2006-01-02", to); err != nil {
			httpx.RespondError(w, shared.NewValidationError("to", "must be YYYY-MM-DD"))
			return
		}
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	limit, err := httpx.QueryInt64(r, "limit", 200)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit = int(limit)
	entries, err := h.ledger.ListMovements(r.Context(), actor.ClinicID, filter)
	if err != nil {
		h.fail(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": entries})
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	actor, medicineID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req createBatchRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	expiry, _ := time.Parse("2006-01-02", req.ExpiryDate)
	med, err := h.ledger.CreateBatch(r.Context(), CreateBatchInput{
		ClinicID:   actor.ClinicID,
		MedicineID: medicineID,
		ActorID:    actor.UserID,
		Spec: BatchSpec{
			BatchNumber:   req.BatchNumber,
			PackQuantity:  req.PackQuantity,
			PackSize:      req.PackSize,
			LooseQuantity: req.LooseQuantity,
			ExpiryDate:    expiry,
			PurchaseRate:  req.PurchaseRate,
			SellingRate:   req.SellingRate,
		},
	})
	if err != nil {
		h.fail(w, "create batch", err)
		return
	}
	h.logger.Info("batch created",
		slog.Int64("medicine_id", medicineID),
		slog.String("batch_number", req.BatchNumber),
		slog.Int64("total_stock_in_units", med.TotalStockInUnits))
	httpx.JSON(w, http.StatusCreated, med)
}

func (h *Handler) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	actor, medicineID, ok := h.scope(w, r)
	if !ok {
		return
	}
	batchNumber := chi.URLParam(r, "batchNumber")
	med, err := h.ledger.DeleteBatch(r.Context(), DeleteBatchInput{
		ClinicID:    actor.ClinicID,
		MedicineID:  medicineID,
		BatchNumber: batchNumber,
		ActorID:     actor.UserID,
	})
	if err != nil {
		h.fail(w, "delete batch", err)
		return
	}
	h.logger.Info("batch deleted",
		slog.Int64("medicine_id", medicineID),
		slog.String("batch_number", batchNumber),
		slog.Int64("total_stock_in_units", med.TotalStockInUnits))
	httpx.JSON(w, http.StatusOK, med)
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	actor, medicineID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	state, err := h.ledger.AdjustBatch(r.Context(), AdjustInput{
		ClinicID:    actor.ClinicID,
		MedicineID:  medicineID,
		BatchNumber: chi.URLParam(r, "batchNumber"),
		DeltaUnits:  req.DeltaUnits,
		Kind:        MovementAdjust,
		RefType:     "manual",
		Note:        req.Note,
		ActorID:     actor.UserID,
	})
	if err != nil {
		h.fail(w, "adjust batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, state)
}

func (h *Handler) handleReconcile(w http.ResponseWriter, r *http.Request) {
	actor, medicineID, ok := h.scope(w, r)
	if !ok {
		return
	}
	var req reconcileRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(w, r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	res, err := h.ledger.Reconcile(r.Context(), actor.ClinicID, medicineID, req.Repair)
	if err != nil {
		h.fail(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) scope(w http.ResponseWriter, r *http.Request) (shared.Actor, int64, bool) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return shared.Actor{}, 0, false
	}
	id, err := httpx.PathInt64(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return shared.Actor{}, 0, false
	}
	return actor, id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		h.logger.Warn(op+" conflict", slog.Any("error", err))
	} else if !isClientError(err) {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func isClientError(err error) bool {
	return errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrDuplicateBatch) ||
		errors.Is(err, shared.ErrInsufficientStock)
}
