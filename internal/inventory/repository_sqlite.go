package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/platform/sqlite"
	"github.com/medzillo/medzillo/internal/shared"
)

// SQLiteRepository persists inventory data in an embedded single-clinic database.
// Row locks are unnecessary because the connection pool holds one connection.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository constructs SQLiteRepository.
func NewSQLiteRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type sqliteTxRepo struct {
	tx *sqlx.Tx
}

// NewSQLiteTxRepository binds ledger operations to an open SQLite transaction.
func NewSQLiteTxRepository(tx *sqlx.Tx) TxRepository {
	return &sqliteTxRepo{tx: tx}
}

type medicineRow struct {
	ID                int64  `db:"id"`
	ClinicID          int64  `db:"clinic_id"`
	Name              string `db:"name"`
	GenericName       string `db:"generic_name"`
	Category          string `db:"category"`
	Manufacturer      string `db:"manufacturer"`
	GSTRate           string `db:"gst_rate"`
	MinStockLevel     int64  `db:"min_stock_level"`
	TotalStockInUnits int64  `db:"total_stock_in_units"`
	UpdatedAt         string `db:"updated_at"`
}

func (r medicineRow) medicine() (Medicine, error) {
	rate, err := decimal.NewFromString(r.GSTRate)
	if err != nil {
		return Medicine{}, fmt.Errorf("inventory: medicine %d gst rate: %w", r.ID, err)
	}
	updated, _ := sqlite.ParseTime(r.UpdatedAt)
	return Medicine{
		ID:                r.ID,
		ClinicID:          r.ClinicID,
		Name:              r.Name,
		GenericName:       r.GenericName,
		Category:          r.Category,
		Manufacturer:      r.Manufacturer,
		GSTRate:           rate,
		MinStockLevel:     r.MinStockLevel,
		TotalStockInUnits: r.TotalStockInUnits,
		UpdatedAt:         updated,
	}, nil
}

type batchRow struct {
	Seq           int64  `db:"seq"`
	MedicineID    int64  `db:"medicine_id"`
	BatchNumber   string `db:"batch_number"`
	PackQuantity  int64  `db:"pack_quantity"`
	PackSize      int64  `db:"pack_size"`
	LooseQuantity int64  `db:"loose_quantity"`
	ExpiryDate    string `db:"expiry_date"`
	PurchaseRate  int64  `db:"purchase_rate"`
	SellingRate   int64  `db:"selling_rate"`
	CreatedAt     string `db:"created_at"`
}

func (r batchRow) batch() (Batch, error) {
	expiry, err := sqlite.ParseDate(r.ExpiryDate)
	if err != nil {
		return Batch{}, fmt.Errorf("inventory: batch %s expiry: %w", r.BatchNumber, err)
	}
	created, _ := sqlite.ParseTime(r.CreatedAt)
	return Batch{
		Seq:           r.Seq,
		MedicineID:    r.MedicineID,
		BatchNumber:   r.BatchNumber,
		PackQuantity:  r.PackQuantity,
		PackSize:      r.PackSize,
		LooseQuantity: r.LooseQuantity,
		ExpiryDate:    expiry,
		PurchaseRate:  money.Amount(r.PurchaseRate),
		SellingRate:   money.Amount(r.SellingRate),
		CreatedAt:     created,
	}, nil
}

const sqliteMedicineSelect = `SELECT id, clinic_id, name, generic_name, category, manufacturer, gst_rate, min_stock_level, total_stock_in_units, updated_at FROM medicines WHERE id = ?`

const sqliteBatchSelect = `SELECT seq, medicine_id, batch_number, pack_quantity, pack_size, loose_quantity, expiry_date, purchase_rate, selling_rate, created_at FROM medicine_batches`

// WithTx executes the callback inside a transaction.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return sqlite.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(ctx, &sqliteTxRepo{tx: tx})
	})
}

// GetMedicine loads a medicine.
func (r *SQLiteRepository) GetMedicine(ctx context.Context, medicineID int64) (Medicine, error) {
	return sqliteGetMedicine(ctx, r.db, medicineID)
}

// ListBatches returns a medicine's batches in allocation order.
func (r *SQLiteRepository) ListBatches(ctx context.Context, medicineID int64) ([]Batch, error) {
	return sqliteListBatches(ctx, r.db, medicineID)
}

type movementRow struct {
	ID           int64  `db:"id"`
	MedicineID   int64  `db:"medicine_id"`
	BatchNumber  string `db:"batch_number"`
	Kind         string `db:"kind"`
	DeltaUnits   int64  `db:"delta_units"`
	BalanceUnits int64  `db:"balance_units"`
	RefType      string `db:"ref_type"`
	RefID        string `db:"ref_id"`
	Note         string `db:"note"`
	ActorID      int64  `db:"actor_id"`
	PostedAt     string `db:"posted_at"`
}

// ListMovements returns stock card entries in posting order.
func (r *SQLiteRepository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	query := `SELECT id, medicine_id, batch_number, kind, delta_units, balance_units, ref_type, ref_id, note, actor_id, posted_at FROM stock_movements WHERE medicine_id = ?`
	args := []any{filter.MedicineID}
	if !filter.From.IsZero() {
		query += ` AND posted_at >= ?`
		args = append(args, sqlite.FormatTime(filter.From))
	}
	if !filter.To.IsZero() {
		query += ` AND posted_at <= ?`
		args = append(args, sqlite.FormatTime(filter.To))
	}
	query += ` ORDER BY posted_at, id LIMIT ?`
	args = append(args, limit)

	var rows []movementRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]Movement, 0, len(rows))
	for _, row := range rows {
		posted, err := sqlite.ParseTime(row.PostedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, Movement{
			ID:           row.ID,
			MedicineID:   row.MedicineID,
			BatchNumber:  row.BatchNumber,
			Kind:         MovementKind(row.Kind),
			DeltaUnits:   row.DeltaUnits,
			BalanceUnits: row.BalanceUnits,
			RefType:      row.RefType,
			RefID:        row.RefID,
			Note:         row.Note,
			ActorID:      row.ActorID,
			PostedAt:     posted,
		})
	}
	return out, nil
}

// ListMedicineIDs returns every medicine id in ascending order.
func (r *SQLiteRepository) ListMedicineIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, `SELECT id FROM medicines ORDER BY id`); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListExpiringBatches returns batches with stock expiring on or before the cutoff.
func (r *SQLiteRepository) ListExpiringBatches(ctx context.Context, before time.Time) ([]ExpiringBatch, error) {
	var rows []struct {
		ClinicID     int64  `db:"clinic_id"`
		MedicineID   int64  `db:"medicine_id"`
		MedicineName string `db:"medicine_name"`
		BatchNumber  string `db:"batch_number"`
		UnitStock    int64  `db:"unit_stock"`
		ExpiryDate   string `db:"expiry_date"`
	}
	err := r.db.SelectContext(ctx, &rows, `SELECT m.clinic_id AS clinic_id, m.id AS medicine_id, m.name AS medicine_name, b.batch_number AS batch_number,
	b.pack_quantity * b.pack_size + b.loose_quantity AS unit_stock, b.expiry_date AS expiry_date
FROM medicine_batches b
JOIN medicines m ON m.id = b.medicine_id
WHERE b.expiry_date <= ? AND b.pack_quantity * b.pack_size + b.loose_quantity > 0
ORDER BY b.expiry_date, b.seq`, sqlite.FormatDate(before))
	if err != nil {
		return nil, err
	}
	out := make([]ExpiringBatch, 0, len(rows))
	for _, row := range rows {
		expiry, err := sqlite.ParseDate(row.ExpiryDate)
		if err != nil {
			return nil, err
		}
		out = append(out, ExpiringBatch{
			ClinicID:     row.ClinicID,
			MedicineID:   row.MedicineID,
			MedicineName: row.MedicineName,
			BatchNumber:  row.BatchNumber,
			UnitStock:    row.UnitStock,
			ExpiryDate:   expiry,
		})
	}
	return out, nil
}

func (t *sqliteTxRepo) LockMedicine(ctx context.Context, medicineID int64) (Medicine, error) {
	return sqliteGetMedicine(ctx, t.tx, medicineID)
}

func (t *sqliteTxRepo) LockBatches(ctx context.Context, medicineID int64) ([]Batch, error) {
	return sqliteListBatches(ctx, t.tx, medicineID)
}

func (t *sqliteTxRepo) LockBatch(ctx context.Context, medicineID int64, batchNumber string) (Batch, error) {
	var row batchRow
	err := sqlx.GetContext(ctx, t.tx, &row, sqliteBatchSelect+` WHERE medicine_id = ? AND batch_number = ?`, medicineID, batchNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return Batch{}, shared.NotFoundf("batch %s of medicine %d", batchNumber, medicineID)
	}
	if err != nil {
		return Batch{}, err
	}
	return row.batch()
}

func (t *sqliteTxRepo) InsertBatch(ctx context.Context, b Batch) (Batch, error) {
	b.CreatedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `INSERT INTO medicine_batches (medicine_id, batch_number, pack_quantity, pack_size, loose_quantity, expiry_date, purchase_rate, selling_rate, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.MedicineID, b.BatchNumber, b.PackQuantity, b.PackSize, b.LooseQuantity, sqlite.FormatDate(b.ExpiryDate), int64(b.PurchaseRate), int64(b.SellingRate), sqlite.FormatTime(b.CreatedAt))
	if err != nil {
		if sqlite.IsUniqueViolation(err, "medicine_batches.batch_number") {
			return Batch{}, fmt.Errorf("%w: %s", shared.ErrDuplicateBatch, b.BatchNumber)
		}
		return Batch{}, err
	}
	b.Seq, err = res.LastInsertId()
	if err != nil {
		return Batch{}, err
	}
	return b, nil
}

func (t *sqliteTxRepo) UpdateBatchStock(ctx context.Context, b Batch) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE medicine_batches SET pack_quantity = ?, loose_quantity = ? WHERE medicine_id = ? AND batch_number = ?`,
		b.PackQuantity, b.LooseQuantity, b.MedicineID, b.BatchNumber)
	if err != nil {
		return err
	}
	return requireAffected(res, shared.NotFoundf("batch %s of medicine %d", b.BatchNumber, b.MedicineID))
}

func (t *sqliteTxRepo) DeleteBatch(ctx context.Context, medicineID int64, batchNumber string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM medicine_batches WHERE medicine_id = ? AND batch_number = ?`, medicineID, batchNumber)
	if err != nil {
		return err
	}
	return requireAffected(res, shared.NotFoundf("batch %s of medicine %d", batchNumber, medicineID))
}

func (t *sqliteTxRepo) SetMedicineStock(ctx context.Context, medicineID, totalUnits int64) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE medicines SET total_stock_in_units = ?, updated_at = ? WHERE id = ?`,
		totalUnits, sqlite.FormatTime(time.Now()), medicineID)
	if err != nil {
		return err
	}
	return requireAffected(res, shared.NotFoundf("medicine %d", medicineID))
}

func (t *sqliteTxRepo) InsertMovement(ctx context.Context, m Movement) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO stock_movements (medicine_id, batch_number, kind, delta_units, balance_units, ref_type, ref_id, note, actor_id, posted_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MedicineID, m.BatchNumber, string(m.Kind), m.DeltaUnits, m.BalanceUnits, m.RefType, m.RefID, m.Note, m.ActorID, sqlite.FormatTime(m.PostedAt))
	return err
}

func sqliteGetMedicine(ctx context.Context, q sqlx.QueryerContext, medicineID int64) (Medicine, error) {
	var row medicineRow
	err := sqlx.GetContext(ctx, q, &row, sqliteMedicineSelect, medicineID)
	if errors.Is(err, sql.ErrNoRows) {
		return Medicine{}, shared.NotFoundf("medicine %d", medicineID)
	}
	if err != nil {
		return Medicine{}, err
	}
	return row.medicine()
}

func sqliteListBatches(ctx context.Context, q sqlx.QueryerContext, medicineID int64) ([]Batch, error) {
	var rows []batchRow
	if err := sqlx.SelectContext(ctx, q, &rows, sqliteBatchSelect+` WHERE medicine_id = ? ORDER BY expiry_date, seq`, medicineID); err != nil {
		return nil, err
	}
	out := make([]Batch, 0, len(rows))
	for _, row := range rows {
		b, err := row.batch()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func requireAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
