package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medzillo/medzillo/internal/platform/db"
	"github.com/medzillo/medzillo/internal/shared"
)

// RepositoryPort abstracts repository usage for the ledger.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMedicine(ctx context.Context, medicineID int64) (Medicine, error)
	ListBatches(ctx context.Context, medicineID int64) ([]Batch, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListMedicineIDs(ctx context.Context) ([]int64, error)
	ListExpiringBatches(ctx context.Context, before time.Time) ([]ExpiringBatch, error)
}

// TxRepository exposes the locked reads and writes available inside a ledger transaction.
// Lock* methods hold row locks until the transaction ends.
type TxRepository interface {
	LockMedicine(ctx context.Context, medicineID int64) (Medicine, error)
	LockBatches(ctx context.Context, medicineID int64) ([]Batch, error)
	LockBatch(ctx context.Context, medicineID int64, batchNumber string) (Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (Batch, error)
	UpdateBatchStock(ctx context.Context, batch Batch) error
	DeleteBatch(ctx context.Context, medicineID int64, batchNumber string) error
	SetMedicineStock(ctx context.Context, medicineID, totalUnits int64) error
	InsertMovement(ctx context.Context, movement Movement) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups ledger policies.
type Config struct {
	// BlockDeleteWithStock rejects DeleteBatch while the batch still holds units.
	BlockDeleteWithStock bool
	Retry                db.RetryPolicy
}

// Ledger owns batch quantities and the derived per-medicine aggregate.
type Ledger struct {
	repo      RepositoryPort
	audit     AuditPort
	publisher Publisher
	logger    *slog.Logger
	cfg       Config
	now       func() time.Time
}

// NewLedger builds Ledger. audit and publisher may be nil.
func NewLedger(repo RepositoryPort, audit AuditPort, publisher Publisher, cfg Config, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		repo:      repo,
		audit:     audit,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateBatch inserts a batch and increments the medicine aggregate atomically.
func (l *Ledger) CreateBatch(ctx context.Context, in CreateBatchInput) (Medicine, error) {
	if err := in.Spec.Validate(); err != nil {
		return Medicine{}, err
	}
	var med Medicine
	_, err := db.Retry(ctx, l.cfg.Retry, func(ctx context.Context) error {
		return l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			m, err := lockOwnedMedicine(ctx, tx, in.ClinicID, in.MedicineID)
			if err != nil {
				return err
			}
			batch, err := tx.InsertBatch(ctx, in.Spec.Batch(in.MedicineID))
			if err != nil {
				return err
			}
			units := batch.UnitStock()
			m.TotalStockInUnits += units
			if err := tx.SetMedicineStock(ctx, m.ID, m.TotalStockInUnits); err != nil {
				return err
			}
			if err := tx.InsertMovement(ctx, Movement{
				MedicineID:   m.ID,
				BatchNumber:  batch.BatchNumber,
				Kind:         MovementBatchCreate,
				DeltaUnits:   units,
				BalanceUnits: units,
				ActorID:      in.ActorID,
				PostedAt:     l.now(),
			}); err != nil {
				return err
			}
			med = m
			return nil
		})
	})
	if err != nil {
		return Medicine{}, err
	}
	l.afterCommit(ctx, in.ActorID, med, MovementBatchCreate, in.Spec.BatchNumber)
	return med, nil
}

// DeleteBatch removes a batch and decrements the aggregate by its remaining units.
func (l *Ledger) DeleteBatch(ctx context.Context, in DeleteBatchInput) (Medicine, error) {
	if in.BatchNumber == "" {
		return Medicine{}, shared.NewValidationError("batch_number", "is required")
	}
	var med Medicine
	_, err := db.Retry(ctx, l.cfg.Retry, func(ctx context.Context) error {
		return l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			m, err := lockOwnedMedicine(ctx, tx, in.ClinicID, in.MedicineID)
			if err != nil {
				return err
			}
			batch, err := tx.LockBatch(ctx, in.MedicineID, in.BatchNumber)
			if err != nil {
				return err
			}
			units := batch.UnitStock()
			if l.cfg.BlockDeleteWithStock && units > 0 {
				return shared.NewValidationError("batch_number", fmt.Sprintf("still holds %d units", units))
			}
			if err := tx.DeleteBatch(ctx, in.MedicineID, in.BatchNumber); err != nil {
				return err
			}
			m.TotalStockInUnits -= units
			if err := tx.SetMedicineStock(ctx, m.ID, m.TotalStockInUnits); err != nil {
				return err
			}
			if err := tx.InsertMovement(ctx, Movement{
				MedicineID:   m.ID,
				BatchNumber:  batch.BatchNumber,
				Kind:         MovementBatchDelete,
				DeltaUnits:   -units,
				BalanceUnits: 0,
				ActorID:      in.ActorID,
				PostedAt:     l.now(),
			}); err != nil {
				return err
			}
			med = m
			return nil
		})
	})
	if err != nil {
		return Medicine{}, err
	}
	l.afterCommit(ctx, in.ActorID, med, MovementBatchDelete, in.BatchNumber)
	return med, nil
}

// AdjustBatch applies a signed unit delta in its own transaction.
func (l *Ledger) AdjustBatch(ctx context.Context, in AdjustInput) (BatchState, error) {
	if in.DeltaUnits == 0 {
		return BatchState{}, shared.NewValidationError("delta_units", "must be non zero")
	}
	if in.Kind == "" {
		in.Kind = MovementAdjust
	}
	var state BatchState
	var med Medicine
	_, err := db.Retry(ctx, l.cfg.Retry, func(ctx context.Context) error {
		return l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			s, m, err := l.ApplyAdjustment(ctx, tx, in)
			if err != nil {
				return err
			}
			state, med = s, m
			return nil
		})
	})
	if err != nil {
		return BatchState{}, err
	}
	l.afterCommit(ctx, in.ActorID, med, in.Kind, in.BatchNumber)
	return state, nil
}

// ApplyAdjustment performs the adjustment inside a caller-owned transaction. The caller
// commits and is responsible for calling Notify afterwards.
func (l *Ledger) ApplyAdjustment(ctx context.Context, tx TxRepository, in AdjustInput) (BatchState, Medicine, error) {
	m, err := lockOwnedMedicine(ctx, tx, in.ClinicID, in.MedicineID)
	if err != nil {
		return BatchState{}, Medicine{}, err
	}
	batch, err := tx.LockBatch(ctx, in.MedicineID, in.BatchNumber)
	if err != nil {
		return BatchState{}, Medicine{}, err
	}
	current := batch.UnitStock()
	next := current + in.DeltaUnits
	if next < 0 {
		return BatchState{}, Medicine{}, &shared.InsufficientStockError{
			MedicineID: in.MedicineID,
			Available:  current,
			Required:   -in.DeltaUnits,
		}
	}
	batch.SetUnitStock(next)
	if err := tx.UpdateBatchStock(ctx, batch); err != nil {
		return BatchState{}, Medicine{}, err
	}
	m.TotalStockInUnits += in.DeltaUnits
	if err := tx.SetMedicineStock(ctx, m.ID, m.TotalStockInUnits); err != nil {
		return BatchState{}, Medicine{}, err
	}
	kind := in.Kind
	if kind == "" {
		kind = MovementAdjust
	}
	if err := tx.InsertMovement(ctx, Movement{
		MedicineID:   m.ID,
		BatchNumber:  batch.BatchNumber,
		Kind:         kind,
		DeltaUnits:   in.DeltaUnits,
		BalanceUnits: next,
		RefType:      in.RefType,
		RefID:        in.RefID,
		Note:         in.Note,
		ActorID:      in.ActorID,
		PostedAt:     l.now(),
	}); err != nil {
		return BatchState{}, Medicine{}, err
	}
	return batch.State(m.TotalStockInUnits), m, nil
}

// LockForAllocation locks the medicine and its batches for a settlement transaction.
func (l *Ledger) LockForAllocation(ctx context.Context, tx TxRepository, clinicID, medicineID int64) (Medicine, []Batch, error) {
	m, err := lockOwnedMedicine(ctx, tx, clinicID, medicineID)
	if err != nil {
		return Medicine{}, nil, err
	}
	batches, err := tx.LockBatches(ctx, medicineID)
	if err != nil {
		return Medicine{}, nil, err
	}
	return m, batches, nil
}

// Notify publishes committed changes made through ApplyAdjustment.
func (l *Ledger) Notify(ctx context.Context, med Medicine, kind MovementKind) {
	if l.publisher == nil {
		return
	}
	evt := StockChangedEvent{
		ClinicID:          med.ClinicID,
		MedicineID:        med.ID,
		Kind:              kind,
		TotalStockInUnits: med.TotalStockInUnits,
		MinStockLevel:     med.MinStockLevel,
		At:                l.now(),
	}
	if err := l.publisher.PublishStockChanged(ctx, evt); err != nil {
		l.logger.Warn("publish stock change", slog.Int64("medicine_id", med.ID), slog.Any("error", err))
	}
}

// GetStock returns the medicine and its batches in allocation order.
func (l *Ledger) GetStock(ctx context.Context, clinicID, medicineID int64) (StockView, error) {
	med, err := l.repo.GetMedicine(ctx, medicineID)
	if err != nil {
		return StockView{}, err
	}
	if med.ClinicID != clinicID {
		return StockView{}, shared.NotFoundf("medicine %d", medicineID)
	}
	batches, err := l.repo.ListBatches(ctx, medicineID)
	if err != nil {
		return StockView{}, err
	}
	return StockView{Medicine: med, Batches: batches}, nil
}

// ListMovements returns the stock card of a medicine.
func (l *Ledger) ListMovements(ctx context.Context, clinicID int64, filter MovementFilter) ([]Movement, error) {
	if _, err := l.GetStock(ctx, clinicID, filter.MedicineID); err != nil {
		return nil, err
	}
	return l.repo.ListMovements(ctx, filter)
}

// Reconcile recomputes the aggregate from batches and optionally rewrites it.
// clinicID 0 skips the tenant check (worker use).
func (l *Ledger) Reconcile(ctx context.Context, clinicID, medicineID int64, repair bool) (ReconcileResult, error) {
	var result ReconcileResult
	_, err := db.Retry(ctx, l.cfg.Retry, func(ctx context.Context) error {
		return l.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			m, err := tx.LockMedicine(ctx, medicineID)
			if err != nil {
				return err
			}
			if clinicID != 0 && m.ClinicID != clinicID {
				return shared.NotFoundf("medicine %d", medicineID)
			}
			batches, err := tx.LockBatches(ctx, medicineID)
			if err != nil {
				return err
			}
			derived := SumUnits(batches)
			result = ReconcileResult{
				MedicineID: medicineID,
				Cached:     m.TotalStockInUnits,
				Derived:    derived,
				Drift:      m.TotalStockInUnits - derived,
			}
			if result.Drift != 0 && repair {
				if err := tx.SetMedicineStock(ctx, medicineID, derived); err != nil {
					return err
				}
				result.Repaired = true
			}
			return nil
		})
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	if result.Drift != 0 {
		l.logger.Warn("stock aggregate drift",
			slog.Int64("medicine_id", medicineID),
			slog.Int64("cached", result.Cached),
			slog.Int64("derived", result.Derived),
			slog.Bool("repaired", result.Repaired))
	}
	return result, nil
}

// ReconcileAll runs Reconcile for every medicine and returns only drifting results.
func (l *Ledger) ReconcileAll(ctx context.Context, repair bool) ([]ReconcileResult, error) {
	ids, err := l.repo.ListMedicineIDs(ctx)
	if err != nil {
		return nil, err
	}
	var drifting []ReconcileResult
	for _, id := range ids {
		res, err := l.Reconcile(ctx, 0, id, repair)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return drifting, err
		}
		if res.Drift != 0 {
			drifting = append(drifting, res)
		}
	}
	return drifting, nil
}

// ExpiringWithin lists batches with stock that expire within window of now.
func (l *Ledger) ExpiringWithin(ctx context.Context, window time.Duration) ([]ExpiringBatch, error) {
	return l.repo.ListExpiringBatches(ctx, l.now().Add(window))
}

func (l *Ledger) afterCommit(ctx context.Context, actorID int64, med Medicine, kind MovementKind, batchNumber string) {
	l.Notify(ctx, med, kind)
	if l.audit == nil {
		return
	}
	if err := l.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		ClinicID: med.ClinicID,
		Action:   fmt.Sprintf("inventory:%s", kind),
		Entity:   "medicine_batch",
		EntityID: fmt.Sprintf("%d:%s", med.ID, batchNumber),
		Meta: map[string]any{
			"medicine_id":          med.ID,
			"batch_number":         batchNumber,
			"total_stock_in_units": med.TotalStockInUnits,
		},
	}); err != nil {
		l.logger.Warn("audit record", slog.String("action", string(kind)), slog.Any("error", err))
	}
}

func lockOwnedMedicine(ctx context.Context, tx TxRepository, clinicID, medicineID int64) (Medicine, error) {
	if medicineID <= 0 {
		return Medicine{}, shared.NewValidationError("medicine_id", "is required")
	}
	m, err := tx.LockMedicine(ctx, medicineID)
	if err != nil {
		return Medicine{}, err
	}
	if m.ClinicID != clinicID {
		return Medicine{}, shared.NotFoundf("medicine %d", medicineID)
	}
	return m, nil
}
