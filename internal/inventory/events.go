package inventory

import (
	"context"
	"errors"
	"time"
)

// StockChangedEvent is published after a ledger transaction commits.
type StockChangedEvent struct {
	ClinicID          int64
	MedicineID        int64
	Kind              MovementKind
	TotalStockInUnits int64
	MinStockLevel     int64
	At                time.Time
}

// LowStock reports whether the committed total reached the reorder threshold.
func (e StockChangedEvent) LowStock() bool {
	return e.MinStockLevel > 0 && e.TotalStockInUnits <= e.MinStockLevel
}

// Publisher receives committed stock changes (cache invalidation, alerts).
type Publisher interface {
	PublishStockChanged(ctx context.Context, evt StockChangedEvent) error
}

// Publishers fans an event out to every publisher and joins their errors.
type Publishers []Publisher

// PublishStockChanged implements Publisher.
func (ps Publishers) PublishStockChanged(ctx context.Context, evt StockChangedEvent) error {
	var errs []error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.PublishStockChanged(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
