package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/platform/db"
	"github.com/medzillo/medzillo/internal/shared"
)

const batchUniqueConstraint = "medicine_batches_medicine_batch_key"

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	q querier
}

// NewTxRepository binds the ledger's transactional operations to an open transaction
// so other modules can compose stock mutations into their own unit of work.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{q: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{q: tx})
	})
}

const medicineColumns = `id, clinic_id, name, generic_name, category, manufacturer, gst_rate::text, min_stock_level, total_stock_in_units, updated_at`

const batchColumns = `seq, medicine_id, batch_number, pack_quantity, pack_size, loose_quantity, expiry_date, purchase_rate, selling_rate, created_at`

// GetMedicine loads a medicine without locking.
func (r *Repository) GetMedicine(ctx context.Context, medicineID int64) (Medicine, error) {
	return getMedicine(ctx, r.pool, medicineID, "")
}

// ListBatches returns a medicine's batches in allocation order.
func (r *Repository) ListBatches(ctx context.Context, medicineID int64) ([]Batch, error) {
	return listBatches(ctx, r.pool, medicineID, "")
}

// ListMovements returns stock card entries in posting order.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	from := pgxTime(filter.From)
	to := pgxTime(filter.To)
	rows, err := r.pool.Query(ctx, `SELECT id, medicine_id, batch_number, kind, delta_units, balance_units, ref_type, ref_id, note, COALESCE(actor_id, 0), posted_at
FROM stock_movements
WHERE medicine_id = $1
  AND ($2::timestamptz IS NULL OR posted_at >= $2)
  AND ($3::timestamptz IS NULL OR posted_at <= $3)
ORDER BY posted_at, id
LIMIT $4`, filter.MedicineID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		var kind string
		if err := rows.Scan(&m.ID, &m.MedicineID, &m.BatchNumber, &kind, &m.DeltaUnits, &m.BalanceUnits, &m.RefType, &m.RefID, &m.Note, &m.ActorID, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Kind = MovementKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListMedicineIDs returns every medicine id in ascending order.
func (r *Repository) ListMedicineIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM medicines ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListExpiringBatches returns batches with stock expiring on or before the cutoff.
func (r *Repository) ListExpiringBatches(ctx context.Context, before time.Time) ([]ExpiringBatch, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.clinic_id, m.id, m.name, b.batch_number, b.pack_quantity * b.pack_size + b.loose_quantity, b.expiry_date
FROM medicine_batches b
JOIN medicines m ON m.id = b.medicine_id
WHERE b.expiry_date <= $1::date
  AND b.pack_quantity * b.pack_size + b.loose_quantity > 0
ORDER BY b.expiry_date, b.seq`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExpiringBatch
	for rows.Next() {
		var e ExpiringBatch
		if err := rows.Scan(&e.ClinicID, &e.MedicineID, &e.MedicineName, &e.BatchNumber, &e.UnitStock, &e.ExpiryDate); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *txRepo) LockMedicine(ctx context.Context, medicineID int64) (Medicine, error) {
	return getMedicine(ctx, t.q, medicineID, " FOR UPDATE")
}

func (t *txRepo) LockBatches(ctx context.Context, medicineID int64) ([]Batch, error) {
	return listBatches(ctx, t.q, medicineID, " FOR UPDATE")
}

func (t *txRepo) LockBatch(ctx context.Context, medicineID int64, batchNumber string) (Batch, error) {
	row := t.q.QueryRow(ctx, `SELECT `+batchColumns+` FROM medicine_batches WHERE medicine_id = $1 AND batch_number = $2 FOR UPDATE`, medicineID, batchNumber)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, shared.NotFoundf("batch %s of medicine %d", batchNumber, medicineID)
	}
	return b, err
}

func (t *txRepo) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	row := t.q.QueryRow(ctx, `INSERT INTO medicine_batches (medicine_id, batch_number, pack_quantity, pack_size, loose_quantity, expiry_date, purchase_rate, selling_rate)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING seq, created_at`, b.MedicineID, b.BatchNumber, b.PackQuantity, b.PackSize, b.LooseQuantity, b.ExpiryDate, int64(b.PurchaseRate), int64(b.SellingRate))
	if err := row.Scan(&b.Seq, &b.CreatedAt); err != nil {
		if db.IsUniqueViolation(err, batchUniqueConstraint) {
			return Batch{}, fmt.Errorf("%w: %s", shared.ErrDuplicateBatch, b.BatchNumber)
		}
		return Batch{}, err
	}
	return b, nil
}

func (t *txRepo) UpdateBatchStock(ctx context.Context, b Batch) error {
	tag, err := t.q.Exec(ctx, `UPDATE medicine_batches SET pack_quantity = $3, loose_quantity = $4 WHERE medicine_id = $1 AND batch_number = $2`,
		b.MedicineID, b.BatchNumber, b.PackQuantity, b.LooseQuantity)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("batch %s of medicine %d", b.BatchNumber, b.MedicineID)
	}
	return nil
}

func (t *txRepo) DeleteBatch(ctx context.Context, medicineID int64, batchNumber string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM medicine_batches WHERE medicine_id = $1 AND batch_number = $2`, medicineID, batchNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("batch %s of medicine %d", batchNumber, medicineID)
	}
	return nil
}

func (t *txRepo) SetMedicineStock(ctx context.Context, medicineID, totalUnits int64) error {
	tag, err := t.q.Exec(ctx, `UPDATE medicines SET total_stock_in_units = $2, updated_at = NOW() WHERE id = $1`, medicineID, totalUnits)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("medicine %d", medicineID)
	}
	return nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := t.q.Exec(ctx, `INSERT INTO stock_movements (medicine_id, batch_number, kind, delta_units, balance_units, ref_type, ref_id, note, actor_id, posted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, 0), $10)`,
		m.MedicineID, m.BatchNumber, string(m.Kind), m.DeltaUnits, m.BalanceUnits, m.RefType, m.RefID, m.Note, m.ActorID, m.PostedAt)
	return err
}

func getMedicine(ctx context.Context, q querier, medicineID int64, suffix string) (Medicine, error) {
	row := q.QueryRow(ctx, `SELECT `+medicineColumns+` FROM medicines WHERE id = $1`+suffix, medicineID)
	var m Medicine
	var rate string
	err := row.Scan(&m.ID, &m.ClinicID, &m.Name, &m.GenericName, &m.Category, &m.Manufacturer, &rate, &m.MinStockLevel, &m.TotalStockInUnits, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Medicine{}, shared.NotFoundf("medicine %d", medicineID)
	}
	if err != nil {
		return Medicine{}, err
	}
	m.GSTRate, err = decimal.NewFromString(rate)
	if err != nil {
		return Medicine{}, fmt.Errorf("inventory: medicine %d gst rate: %w", medicineID, err)
	}
	return m, nil
}

func listBatches(ctx context.Context, q querier, medicineID int64, suffix string) ([]Batch, error) {
	rows, err := q.Query(ctx, `SELECT `+batchColumns+` FROM medicine_batches WHERE medicine_id = $1 ORDER BY expiry_date, seq`+suffix, medicineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var purchase, selling int64
	if err := row.Scan(&b.Seq, &b.MedicineID, &b.BatchNumber, &b.PackQuantity, &b.PackSize, &b.LooseQuantity, &b.ExpiryDate, &purchase, &selling, &b.CreatedAt); err != nil {
		return Batch{}, err
	}
	b.PurchaseRate = money.Amount(purchase)
	b.SellingRate = money.Amount(selling)
	return b, nil
}

func pgxTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
