// Package allocation chooses which batches supply the units of a sale.
package allocation

import (
	"sort"
	"time"

	"github.com/medzillo/medzillo/internal/inventory"
	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/shared"
)

// Candidate is a batch eligible for allocation.
type Candidate struct {
	BatchNumber string
	Seq         int64
	ExpiryDate  time.Time
	UnitStock   int64
	PackSize    int64
	SellingRate money.Amount
}

// Allocation is the portion of a request supplied by one batch.
type Allocation struct {
	BatchNumber string       `json:"batch_number"`
	Units       int64        `json:"units"`
	UnitRate    money.Amount `json:"unit_rate"`
	ExpiryDate  time.Time    `json:"expiry_date"`
}

// Amount is units times the unit rate.
func (a Allocation) Amount() money.Amount {
	return a.UnitRate.Mul(a.Units)
}

// Plan is the result of allocating a requested quantity.
type Plan struct {
	MedicineID  int64        `json:"medicine_id"`
	Requested   int64        `json:"requested"`
	Available   int64        `json:"available"`
	Allocations []Allocation `json:"allocations"`
	Shortfall   int64        `json:"shortfall"`
}

// Allocated is the number of units covered by batches.
func (p Plan) Allocated() int64 {
	return p.Requested - p.Shortfall
}

// Options tune candidate eligibility.
type Options struct {
	// SkipExpired drops batches whose expiry date is before AsOf.
	SkipExpired bool
	AsOf        time.Time
}

// UnitRate is the per-unit price of a pack rate, rounded half-even to paise.
func UnitRate(sellingRate money.Amount, packSize int64) money.Amount {
	if packSize <= 0 {
		return sellingRate
	}
	return sellingRate.DivRound(packSize)
}

// FromBatches converts ledger batches into candidates.
func FromBatches(batches []inventory.Batch) []Candidate {
	out := make([]Candidate, 0, len(batches))
	for _, b := range batches {
		out = append(out, Candidate{
			BatchNumber: b.BatchNumber,
			Seq:         b.Seq,
			ExpiryDate:  b.ExpiryDate,
			UnitStock:   b.UnitStock(),
			PackSize:    b.PackSize,
			SellingRate: b.SellingRate,
		})
	}
	return out
}

// Compute allocates requested units across candidates, earliest expiry first with
// creation sequence as tie-break. It does not modify candidates.
func Compute(medicineID int64, candidates []Candidate, requested int64, opts Options) (Plan, error) {
	if requested <= 0 {
		return Plan{}, shared.NewValidationError("quantity", "must be greater than zero")
	}
	eligible := Eligible(candidates, opts)
	plan := Plan{MedicineID: medicineID, Requested: requested}
	remaining := requested
	for _, c := range eligible {
		plan.Available += c.UnitStock
		if remaining == 0 {
			continue
		}
		take := min(remaining, c.UnitStock)
		plan.Allocations = append(plan.Allocations, Allocation{
			BatchNumber: c.BatchNumber,
			Units:       take,
			UnitRate:    UnitRate(c.SellingRate, c.PackSize),
			ExpiryDate:  c.ExpiryDate,
		})
		remaining -= take
	}
	plan.Shortfall = remaining
	return plan, nil
}

// Eligible returns candidates with stock in allocation order.
func Eligible(candidates []Candidate, opts Options) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	asOf := truncateDay(opts.AsOf)
	for _, c := range candidates {
		if c.UnitStock <= 0 {
			continue
		}
		if opts.SkipExpired && !asOf.IsZero() && truncateDay(c.ExpiryDate).Before(asOf) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Consume subtracts a plan's allocations from candidates so that a later line for the
// same medicine sees the remaining stock.
func Consume(candidates []Candidate, plan Plan) []Candidate {
	used := make(map[string]int64, len(plan.Allocations))
	for _, a := range plan.Allocations {
		used[a.BatchNumber] += a.Units
	}
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.UnitStock -= used[c.BatchNumber]
		out[i] = c
	}
	return out
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
