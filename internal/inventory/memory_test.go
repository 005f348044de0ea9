package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/medzillo/medzillo/internal/shared"
)

type memoryRepo struct {
	medicines map[int64]Medicine
	batches   map[string]Batch
	movements []Movement
	nextSeq   int64
	// failCommit forces WithTx to roll back after fn succeeds.
	failCommit error
	// conflicts makes the first N transactions fail with a concurrency conflict.
	conflicts int
	txCount   int
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{medicines: map[int64]Medicine{}, batches: map[string]Batch{}}
}

func batchKey(medicineID int64, batchNumber string) string {
	return fmt.Sprintf("%d:%s", medicineID, batchNumber)
}

func (r *memoryRepo) addMedicine(m Medicine) {
	r.medicines[m.ID] = m
}

type memorySnapshot struct {
	medicines map[int64]Medicine
	batches   map[string]Batch
	movements []Movement
	nextSeq   int64
}

func (r *memoryRepo) snapshot() memorySnapshot {
	s := memorySnapshot{medicines: map[int64]Medicine{}, batches: map[string]Batch{}, nextSeq: r.nextSeq}
	for k, v := range r.medicines {
		s.medicines[k] = v
	}
	for k, v := range r.batches {
		s.batches[k] = v
	}
	s.movements = append([]Movement(nil), r.movements...)
	return s
}

func (r *memoryRepo) restore(s memorySnapshot) {
	r.medicines, r.batches, r.movements, r.nextSeq = s.medicines, s.batches, s.movements, s.nextSeq
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.txCount++
	if r.conflicts > 0 {
		r.conflicts--
		return shared.ErrConcurrencyConflict
	}
	snap := r.snapshot()
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.restore(snap)
		return err
	}
	if r.failCommit != nil {
		r.restore(snap)
		return r.failCommit
	}
	return nil
}

func (r *memoryRepo) GetMedicine(_ context.Context, id int64) (Medicine, error) {
	m, ok := r.medicines[id]
	if !ok {
		return Medicine{}, shared.NotFoundf("medicine %d", id)
	}
	return m, nil
}

func (r *memoryRepo) ListBatches(_ context.Context, medicineID int64) ([]Batch, error) {
	var out []Batch
	for _, b := range r.batches {
		if b.MedicineID == medicineID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ExpiryDate.Equal(out[j].ExpiryDate) {
			return out[i].ExpiryDate.Before(out[j].ExpiryDate)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (r *memoryRepo) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.MedicineID == filter.MedicineID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListMedicineIDs(context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(r.medicines))
	for id := range r.medicines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r *memoryRepo) ListExpiringBatches(_ context.Context, before time.Time) ([]ExpiringBatch, error) {
	var out []ExpiringBatch
	for _, id := range mustIDs(r) {
		batches, _ := r.ListBatches(context.Background(), id)
		for _, b := range batches {
			if b.UnitStock() > 0 && !b.ExpiryDate.After(before) {
				m := r.medicines[id]
				out = append(out, ExpiringBatch{ClinicID: m.ClinicID, MedicineID: id, MedicineName: m.Name, BatchNumber: b.BatchNumber, UnitStock: b.UnitStock(), ExpiryDate: b.ExpiryDate})
			}
		}
	}
	return out, nil
}

func mustIDs(r *memoryRepo) []int64 {
	ids, _ := r.ListMedicineIDs(context.Background())
	return ids
}

func (tx *memoryTx) LockMedicine(ctx context.Context, id int64) (Medicine, error) {
	return tx.repo.GetMedicine(ctx, id)
}

func (tx *memoryTx) LockBatches(ctx context.Context, medicineID int64) ([]Batch, error) {
	return tx.repo.ListBatches(ctx, medicineID)
}

func (tx *memoryTx) LockBatch(_ context.Context, medicineID int64, batchNumber string) (Batch, error) {
	b, ok := tx.repo.batches[batchKey(medicineID, batchNumber)]
	if !ok {
		return Batch{}, shared.NotFoundf("batch %s", batchNumber)
	}
	return b, nil
}

func (tx *memoryTx) InsertBatch(_ context.Context, b Batch) (Batch, error) {
	k := batchKey(b.MedicineID, b.BatchNumber)
	if _, exists := tx.repo.batches[k]; exists {
		return Batch{}, fmt.Errorf("%w: %s", shared.ErrDuplicateBatch, b.BatchNumber)
	}
	tx.repo.nextSeq++
	b.Seq = tx.repo.nextSeq
	tx.repo.batches[k] = b
	return b, nil
}

func (tx *memoryTx) UpdateBatchStock(_ context.Context, b Batch) error {
	k := batchKey(b.MedicineID, b.BatchNumber)
	if _, ok := tx.repo.batches[k]; !ok {
		return shared.NotFoundf("batch %s", b.BatchNumber)
	}
	tx.repo.batches[k] = b
	return nil
}

func (tx *memoryTx) DeleteBatch(_ context.Context, medicineID int64, batchNumber string) error {
	k := batchKey(medicineID, batchNumber)
	if _, ok := tx.repo.batches[k]; !ok {
		return shared.NotFoundf("batch %s", batchNumber)
	}
	delete(tx.repo.batches, k)
	return nil
}

func (tx *memoryTx) SetMedicineStock(_ context.Context, medicineID, total int64) error {
	m, ok := tx.repo.medicines[medicineID]
	if !ok {
		return shared.NotFoundf("medicine %d", medicineID)
	}
	m.TotalStockInUnits = total
	tx.repo.medicines[medicineID] = m
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) error {
	m.ID = int64(len(tx.repo.movements) + 1)
	tx.repo.movements = append(tx.repo.movements, m)
	return nil
}

type recordingPublisher struct {
	events []StockChangedEvent
}

func (p *recordingPublisher) PublishStockChanged(_ context.Context, evt StockChangedEvent) error {
	p.events = append(p.events, evt)
	return nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}
