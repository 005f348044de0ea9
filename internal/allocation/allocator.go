package allocation

import (
	"context"
	"time"

	"github.com/medzillo/medzillo/internal/inventory"
)

// Allocator serves read-only allocation previews.
type Allocator struct {
	stock inventory.ReadService
	opts  Options
	now   func() time.Time
}

// NewAllocator constructs Allocator over a stock reader.
func NewAllocator(stock inventory.ReadService, skipExpired bool) *Allocator {
	return &Allocator{stock: stock, opts: Options{SkipExpired: skipExpired}, now: time.Now}
}

// Preview runs the settlement allocation algorithm without touching the ledger.
func (a *Allocator) Preview(ctx context.Context, clinicID, medicineID, quantity int64) (Plan, error) {
	view, err := a.stock.GetStock(ctx, clinicID, medicineID)
	if err != nil {
		return Plan{}, err
	}
	opts := a.opts
	opts.AsOf = a.now()
	return Compute(medicineID, FromBatches(view.Batches), quantity, opts)
}
