package billing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/platform/httpx"
	"github.com/medzillo/medzillo/internal/shared"
)

// ClinicDirectory supplies clinic display data for receipts.
type ClinicDirectory interface {
	GetClinic(ctx context.Context, clinicID int64) (Clinic, error)
}

// Handler wires HTTP endpoints for settlement.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	clinics  ClinicDirectory
	patients PatientResolver
}

// NewHandler constructs the billing handler.
func NewHandler(logger *slog.Logger, service *Service, clinics ClinicDirectory, patients PatientResolver) *Handler {
	return &Handler{logger: logger, service: service, clinics: clinics, patients: patients}
}

// MountRoutes registers POST /sales and GET /bills/{billNumber}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.handleSettle)
	r.Get("/bills/{billNumber}", h.handleGetBill)
}

type settleRequest struct {
	Patient       PatientRef    `json:"patient"`
	Lines         []lineRequest `json:"lines" validate:"required,min=1,dive"`
	PaymentMode   PaymentMode   `json:"payment_mode" validate:"required"`
	AppointmentID string        `json:"appointment_id,omitempty" validate:"omitempty,max=64"`
}

type lineRequest struct {
	ItemType    ItemType         `json:"item_type" validate:"required"`
	MedicineID  int64            `json:"medicine_id,omitempty"`
	Description string           `json:"description,omitempty" validate:"max=256"`
	Quantity    int64            `json:"quantity" validate:"gt=0"`
	Rate        money.Amount     `json:"rate,omitempty"`
	GSTRate     *decimal.Decimal `json:"gst_rate,omitempty"`
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req settleRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := SettleInput{
		ClinicID:       actor.ClinicID,
		ActorID:        actor.UserID,
		Patient:        req.Patient,
		PaymentMode:    req.PaymentMode,
		AppointmentID:  req.AppointmentID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, l := range req.Lines {
		line := LineRequest{Type: l.ItemType, MedicineID: l.MedicineID, Description: l.Description, Quantity: l.Quantity, Rate: l.Rate}
		if l.GSTRate != nil {
			line.GSTRate = *l.GSTRate
		}
		in.Lines = append(in.Lines, line)
	}

	bill, err := h.service.Settle(r.Context(), in)
	if err != nil {
		h.fail(w, "settle", err)
		return
	}
	receipt, err := h.receipt(r.Context(), bill)
	if err != nil {
		h.fail(w, "assemble receipt", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, receipt)
}

func (h *Handler) handleGetBill(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	bill, err := h.service.GetBill(r.Context(), actor.ClinicID, chi.URLParam(r, "billNumber"))
	if err != nil {
		h.fail(w, "get bill", err)
		return
	}
	receipt, err := h.receipt(r.Context(), bill)
	if err != nil {
		h.fail(w, "assemble receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, receipt)
}

func (h *Handler) receipt(ctx context.Context, bill Bill) (Receipt, error) {
	clinic, err := h.clinics.GetClinic(ctx, bill.ClinicID)
	if err != nil {
		return Receipt{}, err
	}
	patient, err := h.patients.ResolvePatient(ctx, bill.ClinicID, PatientRef{ID: bill.PatientID})
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return Receipt{}, err
	}
	return AssembleReceipt(bill, clinic, patient), nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, shared.ErrConcurrencyConflict):
		h.logger.Warn(op+" conflict", slog.Any("error", err))
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrInsufficientStock):
	default:
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
