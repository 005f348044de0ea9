package inventory

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/shared"
)

// MovementKind enumerates ledger mutations recorded on the stock card.
type MovementKind string

const (
	// MovementBatchCreate records stock entering with a new batch.
	MovementBatchCreate MovementKind = "BATCH_CREATE"
	// MovementBatchDelete records stock leaving with a removed batch.
	MovementBatchDelete MovementKind = "BATCH_DELETE"
	// MovementSale records stock consumed by a settled bill.
	MovementSale MovementKind = "SALE"
	// MovementAdjust records manual corrections.
	MovementAdjust MovementKind = "ADJUST"
)

// Medicine is a catalog entry owning batches. TotalStockInUnits is derived.
type Medicine struct {
	ID                int64           `json:"id"`
	ClinicID          int64           `json:"clinic_id"`
	Name              string          `json:"name"`
	GenericName       string          `json:"generic_name,omitempty"`
	Category          string          `json:"category,omitempty"`
	Manufacturer      string          `json:"manufacturer,omitempty"`
	GSTRate           decimal.Decimal `json:"gst_rate"`
	MinStockLevel     int64           `json:"min_stock_level"`
	TotalStockInUnits int64           `json:"total_stock_in_units"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// LowStock reports whether the aggregate is at or below the reorder threshold.
func (m Medicine) LowStock() bool {
	return m.MinStockLevel > 0 && m.TotalStockInUnits <= m.MinStockLevel
}

// Batch is a dated lot of a medicine. Seq is the creation sequence.
type Batch struct {
	Seq           int64        `json:"seq"`
	MedicineID    int64        `json:"medicine_id"`
	BatchNumber   string       `json:"batch_number"`
	PackQuantity  int64        `json:"pack_quantity"`
	PackSize      int64        `json:"pack_size"`
	LooseQuantity int64        `json:"loose_quantity"`
	ExpiryDate    time.Time    `json:"expiry_date"`
	PurchaseRate  money.Amount `json:"purchase_rate"`
	SellingRate   money.Amount `json:"selling_rate"`
	CreatedAt     time.Time    `json:"created_at"`
}

// UnitStock is packs*packSize + loose.
func (b Batch) UnitStock() int64 {
	if b.PackSize <= 0 {
		return b.LooseQuantity
	}
	return b.PackQuantity*b.PackSize + b.LooseQuantity
}

// SetUnitStock rewrites packs and loose units so that 0 <= loose < packSize.
func (b *Batch) SetUnitStock(units int64) {
	if b.PackSize <= 0 {
		b.PackQuantity = 0
		b.LooseQuantity = units
		return
	}
	b.PackQuantity = units / b.PackSize
	b.LooseQuantity = units % b.PackSize
}

// State projects the batch after a mutation.
func (b Batch) State(medicineTotal int64) BatchState {
	return BatchState{
		MedicineID:        b.MedicineID,
		BatchNumber:       b.BatchNumber,
		PackQuantity:      b.PackQuantity,
		PackSize:          b.PackSize,
		LooseQuantity:     b.LooseQuantity,
		UnitStock:         b.UnitStock(),
		TotalStockInUnits: medicineTotal,
	}
}

// BatchState is returned by AdjustBatch.
type BatchState struct {
	MedicineID        int64  `json:"medicine_id"`
	BatchNumber       string `json:"batch_number"`
	PackQuantity      int64  `json:"pack_quantity"`
	PackSize          int64  `json:"pack_size"`
	LooseQuantity     int64  `json:"loose_quantity"`
	UnitStock         int64  `json:"unit_stock"`
	TotalStockInUnits int64  `json:"total_stock_in_units"`
}

// BatchSpec describes a batch to be created.
type BatchSpec struct {
	BatchNumber   string
	PackQuantity  int64
	PackSize      int64
	LooseQuantity int64
	ExpiryDate    time.Time
	PurchaseRate  money.Amount
	SellingRate   money.Amount
}

// Validate checks the spec before insert.
func (s BatchSpec) Validate() error {
	switch {
	case strings.TrimSpace(s.BatchNumber) == "":
		return shared.NewValidationError("batch_number", "is required")
	case s.PackSize <= 0:
		return shared.NewValidationError("pack_size", "must be greater than zero")
	case s.PackQuantity < 0:
		return shared.NewValidationError("pack_quantity", "must not be negative")
	case s.LooseQuantity < 0:
		return shared.NewValidationError("loose_quantity", "must not be negative")
	case s.ExpiryDate.IsZero():
		return shared.NewValidationError("expiry_date", "is required")
	case s.PurchaseRate.IsNegative():
		return shared.NewValidationError("purchase_rate", "must not be negative")
	case s.SellingRate.IsNegative():
		return shared.NewValidationError("selling_rate", "must not be negative")
	case !s.PurchaseRate.InRange():
		return shared.NewValidationError("purchase_rate", "exceeds "+money.MaxAmount.String())
	case !s.SellingRate.InRange():
		return shared.NewValidationError("selling_rate", "exceeds "+money.MaxAmount.String())
	case s.PackQuantity > (math.MaxInt64-s.LooseQuantity)/s.PackSize:
		return shared.NewValidationError("pack_quantity", "unit stock is too large")
	}
	return nil
}

// Batch builds the normalized batch for medicineID.
func (s BatchSpec) Batch(medicineID int64) Batch {
	b := Batch{
		MedicineID:   medicineID,
		BatchNumber:  strings.TrimSpace(s.BatchNumber),
		PackSize:     s.PackSize,
		ExpiryDate:   s.ExpiryDate.UTC().Truncate(24 * time.Hour),
		PurchaseRate: s.PurchaseRate,
		SellingRate:  s.SellingRate,
	}
	b.SetUnitStock(s.PackQuantity*s.PackSize + s.LooseQuantity)
	return b
}

// Movement is a stock card entry written with every ledger mutation.
type Movement struct {
	ID           int64        `json:"id"`
	MedicineID   int64        `json:"medicine_id"`
	BatchNumber  string       `json:"batch_number"`
	Kind         MovementKind `json:"kind"`
	DeltaUnits   int64        `json:"delta_units"`
	BalanceUnits int64        `json:"balance_units"`
	RefType      string       `json:"ref_type,omitempty"`
	RefID        string       `json:"ref_id,omitempty"`
	Note         string       `json:"note,omitempty"`
	ActorID      int64        `json:"actor_id,omitempty"`
	PostedAt     time.Time    `json:"posted_at"`
}

// MovementFilter narrows stock card listings.
type MovementFilter struct {
	MedicineID int64
	From       time.Time
	To         time.Time
	Limit      int
}

// StockView is a medicine with its batches.
type StockView struct {
	Medicine Medicine `json:"medicine"`
	Batches  []Batch  `json:"batches"`
}

// CreateBatchInput requests a new batch.
type CreateBatchInput struct {
	ClinicID   int64
	MedicineID int64
	Spec       BatchSpec
	ActorID    int64
}

// DeleteBatchInput requests batch removal.
type DeleteBatchInput struct {
	ClinicID    int64
	MedicineID  int64
	BatchNumber string
	ActorID     int64
}

// AdjustInput applies a signed unit delta to a batch.
type AdjustInput struct {
	ClinicID    int64
	MedicineID  int64
	BatchNumber string
	DeltaUnits  int64
	Kind        MovementKind
	RefType     string
	RefID       string
	Note        string
	ActorID     int64
}

// ReconcileResult compares the cached aggregate with the batch sum.
type ReconcileResult struct {
	MedicineID int64 `json:"medicine_id"`
	Cached     int64 `json:"cached"`
	Derived    int64 `json:"derived"`
	Drift      int64 `json:"drift"`
	Repaired   bool  `json:"repaired"`
}

// ExpiringBatch is a batch with stock whose expiry falls within a scan window.
type ExpiringBatch struct {
	ClinicID     int64     `json:"clinic_id"`
	MedicineID   int64     `json:"medicine_id"`
	MedicineName string    `json:"medicine_name"`
	BatchNumber  string    `json:"batch_number"`
	UnitStock    int64     `json:"unit_stock"`
	ExpiryDate   time.Time `json:"expiry_date"`
}

// SumUnits derives the aggregate from batches.
func SumUnits(batches []Batch) int64 {
	var total int64
	for _, b := range batches {
		total += b.UnitStock()
	}
	return total
}
