package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/medzillo/medzillo/internal/inventory"
	jobmetrics "github.com/medzillo/medzillo/internal/jobs"
)

// StockLedger is the part of the ledger the stock jobs need.
type StockLedger interface {
	ReconcileAll(ctx context.Context, repair bool) ([]inventory.ReconcileResult, error)
	ExpiringWithin(ctx context.Context, window time.Duration) ([]inventory.ExpiringBatch, error)
}

// StockJobs handles the stock task types.
type StockJobs struct {
	Ledger  StockLedger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockJobs constructs the stock job handlers.
func NewStockJobs(ledger StockLedger, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockJobs {
	return &StockJobs{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handlers returns the task registrations for the worker.
func (j *StockJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskStockReconcile, Handler: j.HandleReconcile},
		{Type: TaskStockLowCheck, Handler: j.HandleLowStock},
		{Type: TaskStockExpiryScan, Handler: j.HandleExpiryScan},
	}
}

// HandleReconcile compares every cached total with its batch sum and reports drift.
func (j *StockJobs) HandleReconcile(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("stock reconcile: ledger not configured")
	}
	var payload ReconcilePayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics().Track(TaskStockReconcile)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	drifting, err := j.Ledger.ReconcileAll(ctx, payload.Repair)
	if err != nil {
		j.log(TaskStockReconcile).Error("reconcile", slog.Any("error", err))
		return err
	}
	for _, res := range drifting {
		j.log(TaskStockReconcile).Warn("stock drift",
			slog.Int64("medicine_id", res.MedicineID),
			slog.Int64("cached", res.Cached),
			slog.Int64("derived", res.Derived),
			slog.Int64("drift", res.Drift),
			slog.Bool("repaired", res.Repaired))
	}
	j.metrics().SetStockDrift(len(drifting))
	j.log(TaskStockReconcile).Info("reconciled stock", slog.Int("drifting", len(drifting)), slog.Bool("repair", payload.Repair), slog.Duration("duration", time.Since(start)))
	return nil
}

// HandleLowStock logs a low-stock alert.
func (j *StockJobs) HandleLowStock(_ context.Context, task *asynq.Task) (err error) {
	var payload LowStockPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.MedicineID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskStockLowCheck)
	defer func() { err = tracker.End(err) }()

	if payload.MinStockLevel <= 0 || payload.TotalStockInUnits > payload.MinStockLevel {
		return nil
	}
	j.metrics().IncLowStockAlert()
	j.log(TaskStockLowCheck).Warn("low stock",
		slog.Int64("clinic_id", payload.ClinicID),
		slog.Int64("medicine_id", payload.MedicineID),
		slog.Int64("total_stock_in_units", payload.TotalStockInUnits),
		slog.Int64("min_stock_level", payload.MinStockLevel),
		slog.String("kind", payload.Kind))
	return nil
}

// HandleExpiryScan lists batches with stock expiring within the payload window.
func (j *StockJobs) HandleExpiryScan(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("stock expiry scan: ledger not configured")
	}
	var payload ExpiryScanPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WithinDays <= 0 {
		payload.WithinDays = 30
	}
	tracker := j.metrics().Track(TaskStockExpiryScan)
	defer func() { err = tracker.End(err) }()

	batches, err := j.Ledger.ExpiringWithin(ctx, time.Duration(payload.WithinDays)*24*time.Hour)
	if err != nil {
		j.log(TaskStockExpiryScan).Error("list expiring batches", slog.Any("error", err))
		return err
	}
	for _, b := range batches {
		j.log(TaskStockExpiryScan).Warn("batch expiring",
			slog.Int64("clinic_id", b.ClinicID),
			slog.Int64("medicine_id", b.MedicineID),
			slog.String("medicine", b.MedicineName),
			slog.String("batch_number", b.BatchNumber),
			slog.Int64("unit_stock", b.UnitStock),
			slog.String("expiry_date", b.ExpiryDate.Format(time.DateOnly)))
	}
	j.metrics().SetExpiringBatches(len(batches))
	return nil
}

func (j *StockJobs) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StockJobs) log(task string) *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", task))
	}
	return slog.Default().With(slog.String("job", task))
}

// Enqueuer submits low-stock checks.
type Enqueuer interface {
	EnqueueLowStock(ctx context.Context, payload LowStockPayload) error
}

// LowStockPublisher enqueues a low-stock check for committed changes that leave a
// medicine at or below its reorder level.
type LowStockPublisher struct {
	enqueuer Enqueuer
}

// NewLowStockPublisher constructs LowStockPublisher.
func NewLowStockPublisher(enqueuer Enqueuer) *LowStockPublisher {
	return &LowStockPublisher{enqueuer: enqueuer}
}

// PublishStockChanged implements inventory.Publisher.
func (p *LowStockPublisher) PublishStockChanged(ctx context.Context, evt inventory.StockChangedEvent) error {
	if p == nil || p.enqueuer == nil || !evt.LowStock() {
		return nil
	}
	return p.enqueuer.EnqueueLowStock(ctx, LowStockPayload{
		ClinicID:          evt.ClinicID,
		MedicineID:        evt.MedicineID,
		Kind:              string(evt.Kind),
		TotalStockInUnits: evt.TotalStockInUnits,
		MinStockLevel:     evt.MinStockLevel,
		At:                evt.At,
	})
}
