package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medzillo/medzillo/internal/allocation"
	"github.com/medzillo/medzillo/internal/inventory"
	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/platform/db"
	"github.com/medzillo/medzillo/internal/shared"
	"github.com/medzillo/medzillo/internal/tax"
)

// ErrIdempotencyReplay is returned by InsertBill when the idempotency key was already
// used by a committed bill of the same clinic.
var ErrIdempotencyReplay = errors.New("idempotency key already used")

// TxRepository exposes the writes available inside a settlement transaction.
type TxRepository interface {
	inventory.TxRepository
	InsertBill(ctx context.Context, bill Bill) error
	// CompleteAppointment transitions the appointment to Billed. NotFound when missing,
	// Validation when already billed.
	CompleteAppointment(ctx context.Context, clinicID int64, appointmentID string) error
}

// RepositoryPort abstracts bill persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, clinicID int64, billNumber string) (Bill, error)
	FindBillByIdempotencyKey(ctx context.Context, clinicID int64, key string) (Bill, error)
}

// PatientResolver resolves and authorizes patient references.
type PatientResolver interface {
	ResolvePatient(ctx context.Context, clinicID int64, ref PatientRef) (Patient, error)
}

// Recorder observes settlement outcomes.
type Recorder interface {
	ObserveSettlement(outcome string, attempts int, elapsed time.Duration)
}

// Settlement outcomes reported to Recorder.
const (
	OutcomeCommitted = "committed"
	OutcomeReplayed  = "replayed"
	OutcomeRejected  = "rejected"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

// Config groups settlement policies.
type Config struct {
	Shortfall   ShortfallPolicy
	SkipExpired bool
	Retry       db.RetryPolicy
}

// Service is the sale settlement coordinator.
type Service struct {
	repo     RepositoryPort
	ledger   *inventory.Ledger
	patients PatientResolver
	numbers  NumberGenerator
	audit    inventory.AuditPort
	recorder Recorder
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// Deps bundles Service collaborators. Audit and Recorder are optional.
type Deps struct {
	Repo     RepositoryPort
	Ledger   *inventory.Ledger
	Patients PatientResolver
	Numbers  NumberGenerator
	Audit    inventory.AuditPort
	Recorder Recorder
	Logger   *slog.Logger
}

// NewService constructs the settlement service.
func NewService(deps Deps, cfg Config) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Shortfall == "" {
		cfg.Shortfall = ShortfallStrict
	}
	return &Service{
		repo:     deps.Repo,
		ledger:   deps.Ledger,
		patients: deps.Patients,
		numbers:  deps.Numbers,
		audit:    deps.Audit,
		recorder: deps.Recorder,
		logger:   logger,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// committed carries post-commit side effects out of the transaction.
type committed struct {
	bill    Bill
	touched []inventory.Medicine
}

// Settle converts line requests into a committed bill while consuming stock. Either the
// bill, every stock decrement and the appointment transition commit together, or nothing
// is persisted.
func (s *Service) Settle(ctx context.Context, in SettleInput) (Bill, error) {
	start := time.Now()
	if err := validateSettle(in); err != nil {
		s.observe(OutcomeRejected, 0, start)
		return Bill{}, err
	}
	patient, err := s.patients.ResolvePatient(ctx, in.ClinicID, in.Patient)
	if err != nil {
		s.observe(OutcomeRejected, 0, start)
		return Bill{}, err
	}
	if in.IdempotencyKey != "" {
		existing, err := s.repo.FindBillByIdempotencyKey(ctx, in.ClinicID, in.IdempotencyKey)
		if err == nil {
			s.observe(OutcomeReplayed, 0, start)
			return existing, nil
		}
		if !errors.Is(err, shared.ErrNotFound) {
			return Bill{}, err
		}
	}

	var out committed
	attempts, err := db.Retry(ctx, s.cfg.Retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			res, err := s.settleTx(ctx, tx, in, patient)
			if err != nil {
				return err
			}
			out = res
			return nil
		})
	})
	if errors.Is(err, ErrIdempotencyReplay) {
		existing, lookupErr := s.repo.FindBillByIdempotencyKey(ctx, in.ClinicID, in.IdempotencyKey)
		if lookupErr != nil {
			return Bill{}, lookupErr
		}
		s.observe(OutcomeReplayed, attempts, start)
		return existing, nil
	}
	if err != nil {
		s.observeFailure(err, attempts, start)
		return Bill{}, err
	}

	s.observe(OutcomeCommitted, attempts, start)
	for _, med := range out.touched {
		s.ledger.Notify(ctx, med, inventory.MovementSale)
	}
	s.recordAudit(ctx, in.ActorID, out.bill)
	s.logger.Info("sale settled",
		slog.String("bill_number", out.bill.BillNumber),
		slog.Int64("clinic_id", out.bill.ClinicID),
		slog.String("total", out.bill.TotalAmount.String()),
		slog.Int("items", len(out.bill.Items)),
		slog.Int("attempts", attempts))
	return out.bill, nil
}

// GetBill loads a committed bill.
func (s *Service) GetBill(ctx context.Context, clinicID int64, billNumber string) (Bill, error) {
	if strings.TrimSpace(billNumber) == "" {
		return Bill{}, shared.NewValidationError("bill_number", "is required")
	}
	return s.repo.GetBill(ctx, clinicID, billNumber)
}

func (s *Service) settleTx(ctx context.Context, tx TxRepository, in SettleInput, patient Patient) (committed, error) {
	opts := allocation.Options{SkipExpired: s.cfg.SkipExpired, AsOf: s.now()}

	// Lock medicines in ascending id order, then their batches.
	required := map[int64]int64{}
	for _, l := range in.Lines {
		if l.Type == ItemMedicine {
			required[l.MedicineID] += l.Quantity
		}
	}
	ids := make([]int64, 0, len(required))
	for id := range required {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	medicines := make(map[int64]inventory.Medicine, len(ids))
	candidates := make(map[int64][]allocation.Candidate, len(ids))
	for _, id := range ids {
		med, batches, err := s.ledger.LockForAllocation(ctx, tx, in.ClinicID, id)
		if err != nil {
			return committed{}, err
		}
		medicines[id] = med
		candidates[id] = allocation.FromBatches(batches)
	}

	if s.cfg.Shortfall == ShortfallStrict {
		for _, id := range ids {
			var available int64
			for _, c := range allocation.Eligible(candidates[id], opts) {
				available += c.UnitStock
			}
			if available < required[id] {
				return committed{}, &shared.InsufficientStockError{MedicineID: id, Available: available, Required: required[id]}
			}
		}
	}

	items := make([]BillItem, 0, len(in.Lines))
	add := func(it BillItem) error {
		amount, err := it.Rate.CheckedMul(it.Quantity)
		if err != nil {
			return shared.NewValidationError(fmt.Sprintf("lines[%d]", len(items)), err.Error())
		}
		it.Position = len(items) + 1
		it.Amount = amount
		items = append(items, it)
		return nil
	}
	for _, l := range in.Lines {
		if l.Type != ItemMedicine {
			if err := add(BillItem{Type: l.Type, Description: strings.TrimSpace(l.Description), Quantity: l.Quantity, Rate: l.Rate, GSTRate: l.GSTRate}); err != nil {
				return committed{}, err
			}
			continue
		}
		med := medicines[l.MedicineID]
		plan, err := allocation.Compute(l.MedicineID, candidates[l.MedicineID], l.Quantity, opts)
		if err != nil {
			return committed{}, err
		}
		candidates[l.MedicineID] = allocation.Consume(candidates[l.MedicineID], plan)
		for _, a := range plan.Allocations {
			if err := add(BillItem{Type: ItemMedicine, MedicineID: med.ID, BatchNumber: a.BatchNumber, Description: med.Name, Quantity: a.Units, Rate: a.UnitRate, GSTRate: med.GSTRate}); err != nil {
				return committed{}, err
			}
		}
		if plan.Shortfall > 0 {
			if s.cfg.Shortfall == ShortfallStrict {
				return committed{}, &shared.InsufficientStockError{MedicineID: med.ID, Available: plan.Available, Required: l.Quantity}
			}
			if err := add(BillItem{Type: ItemMedicine, MedicineID: med.ID, Description: med.Name, Quantity: plan.Shortfall, GSTRate: med.GSTRate}); err != nil {
				return committed{}, err
			}
		}
	}

	amounts := make([]money.Amount, len(items))
	for i, it := range items {
		amounts[i] = it.Amount
	}
	if _, err := money.CheckedSum(amounts...); err != nil {
		return committed{}, shared.NewValidationError("lines", err.Error())
	}
	summary := tax.Summarize(TaxLines(items))
	bill := Bill{
		ID:             uuid.New(),
		BillNumber:     s.numbers.Next(),
		ClinicID:       in.ClinicID,
		PatientID:      patient.ID,
		PatientName:    patient.Name,
		Items:          items,
		SubTotal:       summary.SubTotal,
		TaxDetails:     summary.Details,
		TotalAmount:    summary.TotalAmount,
		PaymentMode:    in.PaymentMode,
		AppointmentID:  in.AppointmentID,
		IdempotencyKey: in.IdempotencyKey,
		CreatedBy:      in.ActorID,
		CreatedAt:      s.now(),
	}
	if err := tx.InsertBill(ctx, bill); err != nil {
		return committed{}, err
	}

	touched := make(map[int64]inventory.Medicine, len(ids))
	for _, it := range items {
		if it.BatchNumber == "" {
			continue
		}
		_, med, err := s.ledger.ApplyAdjustment(ctx, tx, inventory.AdjustInput{
			ClinicID:    in.ClinicID,
			MedicineID:  it.MedicineID,
			BatchNumber: it.BatchNumber,
			DeltaUnits:  -it.Quantity,
			Kind:        inventory.MovementSale,
			RefType:     "bill",
			RefID:       bill.BillNumber,
			ActorID:     in.ActorID,
		})
		if err != nil {
			return committed{}, err
		}
		touched[med.ID] = med
	}

	if in.AppointmentID != "" {
		if err := tx.CompleteAppointment(ctx, in.ClinicID, in.AppointmentID); err != nil {
			return committed{}, err
		}
	}

	out := committed{bill: bill}
	for _, id := range ids {
		if med, ok := touched[id]; ok {
			out.touched = append(out.touched, med)
		}
	}
	return out, nil
}

func validateSettle(in SettleInput) error {
	if in.ClinicID <= 0 {
		return shared.NewValidationError("clinic_id", "is required")
	}
	if strings.TrimSpace(in.Patient.ID) == "" {
		return shared.NewValidationError("patient.id", "is required")
	}
	if len(in.Lines) == 0 {
		return shared.NewValidationError("lines", "must contain at least one line")
	}
	if !in.PaymentMode.Valid() {
		return shared.NewValidationError("payment_mode", fmt.Sprintf("%q is not accepted", in.PaymentMode))
	}
	for i, l := range in.Lines {
		field := func(name string) string { return fmt.Sprintf("lines[%d].%s", i, name) }
		if !l.Type.Valid() {
			return shared.NewValidationError(field("item_type"), fmt.Sprintf("%q is unknown", l.Type))
		}
		if l.Quantity <= 0 {
			return shared.NewValidationError(field("quantity"), "must be greater than zero")
		}
		if l.Type == ItemMedicine {
			if l.MedicineID <= 0 {
				return shared.NewValidationError(field("medicine_id"), "is required")
			}
			continue
		}
		if strings.TrimSpace(l.Description) == "" {
			return shared.NewValidationError(field("description"), "is required")
		}
		if l.Rate.IsNegative() {
			return shared.NewValidationError(field("rate"), "must not be negative")
		}
		if _, err := l.Rate.CheckedMul(l.Quantity); err != nil {
			return shared.NewValidationError(field("rate"), fmt.Sprintf("times quantity exceeds %s", money.MaxAmount))
		}
		if err := tax.CheckRate(l.GSTRate); err != nil {
			return shared.NewValidationError(field("gst_rate"), err.Error())
		}
	}
	return nil
}

func (s *Service) observe(outcome string, attempts int, start time.Time) {
	if s.recorder != nil {
		s.recorder.ObserveSettlement(outcome, attempts, time.Since(start))
	}
}

func (s *Service) observeFailure(err error, attempts int, start time.Time) {
	switch {
	case errors.Is(err, shared.ErrConcurrencyConflict):
		s.logger.Warn("settlement conflict", slog.Int("attempts", attempts), slog.Any("error", err))
		s.observe(OutcomeConflict, attempts, start)
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrNotFound), errors.Is(err, shared.ErrInsufficientStock):
		s.observe(OutcomeRejected, attempts, start)
	default:
		s.logger.Error("settlement failed", slog.Int("attempts", attempts), slog.Any("error", err))
		s.observe(OutcomeFailed, attempts, start)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, bill Bill) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		ClinicID: bill.ClinicID,
		Action:   "billing:settle",
		Entity:   "bill",
		EntityID: bill.BillNumber,
		Meta: map[string]any{
			"total_amount":   bill.TotalAmount.String(),
			"items":          len(bill.Items),
			"appointment_id": bill.AppointmentID,
		},
		At: bill.CreatedAt,
	}); err != nil {
		s.logger.Warn("audit record", slog.String("bill_number", bill.BillNumber), slog.Any("error", err))
	}
}
