package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/medzillo/medzillo/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAlerts carries low-stock alerts enqueued by the API.
	QueueAlerts = "alerts"

	// TaskStockReconcile recomputes every cached stock total from its batches.
	TaskStockReconcile = "stock:reconcile"
	// TaskStockLowCheck raises an alert for a medicine at or below its reorder level.
	TaskStockLowCheck = "stock:low_check"
	// TaskStockExpiryScan lists batches with stock that expire soon.
	TaskStockExpiryScan = "stock:expiry_scan"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReconcilePayload configures a reconcile run.
type ReconcilePayload struct {
	Repair bool `json:"repair"`
}

// LowStockPayload describes the committed stock change that triggered the check.
type LowStockPayload struct {
	ClinicID          int64     `json:"clinic_id"`
	MedicineID        int64     `json:"medicine_id"`
	Kind              string    `json:"kind"`
	TotalStockInUnits int64     `json:"total_stock_in_units"`
	MinStockLevel     int64     `json:"min_stock_level"`
	At                time.Time `json:"at"`
}

// ExpiryScanPayload sets the look-ahead window in days.
type ExpiryScanPayload struct {
	WithinDays int `json:"within_days"`
}

// NewReconcileTask creates a reconcile task.
func NewReconcileTask(repair bool) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcilePayload{Repair: repair})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockReconcile, body, asynq.Queue(QueueDefault)), nil
}

// NewLowStockTask creates a low-stock check task. Checks for the same medicine collapse
// within a minute.
func NewLowStockTask(payload LowStockPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockLowCheck, body, asynq.Queue(QueueAlerts), asynq.Unique(time.Minute), asynq.MaxRetry(3)), nil
}

// NewExpiryScanTask creates an expiry scan task.
func NewExpiryScanTask(withinDays int) (*asynq.Task, error) {
	if withinDays <= 0 {
		withinDays = 30
	}
	body, err := json.Marshal(ExpiryScanPayload{WithinDays: withinDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockExpiryScan, body, asynq.Queue(QueueDefault)), nil
}
