package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/medzillo/medzillo/internal/inventory"
	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/platform/db"
	"github.com/medzillo/medzillo/internal/shared"
	"github.com/medzillo/medzillo/internal/tax"
)

const idempotencyConstraint = "bills_idempotency_key"

// Repository persists bills in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	inventory.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction that also carries
// the ledger's row-locking operations.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

func (t *txRepo) InsertBill(ctx context.Context, b Bill) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO bills (id, bill_number, clinic_id, patient_id, patient_name, sub_total, total_amount, payment_mode, appointment_id, idempotency_key, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, 0), $12)`,
		b.ID, b.BillNumber, b.ClinicID, b.PatientID, b.PatientName, int64(b.SubTotal), int64(b.TotalAmount), string(b.PaymentMode),
		b.AppointmentID, b.IdempotencyKey, b.CreatedBy, b.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err, idempotencyConstraint) {
			return ErrIdempotencyReplay
		}
		return err
	}

	batch := &pgx.Batch{}
	for _, it := range b.Items {
		batch.Queue(`INSERT INTO bill_items (bill_id, position, item_type, medicine_id, batch_number, description, quantity, rate, amount, gst_rate)
VALUES ($1, $2, $3, NULLIF($4, 0), NULLIF($5, ''), $6, $7, $8, $9, $10::text::numeric)`,
			b.ID, it.Position, string(it.Type), it.MedicineID, it.BatchNumber, it.Description, it.Quantity, int64(it.Rate), int64(it.Amount), it.GSTRate.String())
	}
	for _, d := range b.TaxDetails {
		batch.Queue(`INSERT INTO bill_tax_details (bill_id, rate, taxable_amount, cgst, sgst) VALUES ($1, $2::text::numeric, $3, $4, $5)`,
			b.ID, d.Rate.String(), int64(d.TaxableAmount), int64(d.CGST), int64(d.SGST))
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *txRepo) CompleteAppointment(ctx context.Context, clinicID int64, appointmentID string) error {
	var status string
	err := t.tx.QueryRow(ctx, `SELECT status FROM appointments WHERE id = $1 AND clinic_id = $2 FOR UPDATE`, appointmentID, clinicID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFoundf("appointment %s", appointmentID)
	}
	if err != nil {
		return err
	}
	if strings.EqualFold(status, AppointmentBilled) {
		return shared.NewValidationError("appointment_id", "is already billed")
	}
	_, err = t.tx.Exec(ctx, `UPDATE appointments SET status = $2, updated_at = NOW() WHERE id = $1`, appointmentID, AppointmentBilled)
	return err
}

// GetBill loads a committed bill with its items and tax details.
func (r *Repository) GetBill(ctx context.Context, clinicID int64, billNumber string) (Bill, error) {
	var b Bill
	var sub, total int64
	var mode string
	err := r.pool.QueryRow(ctx, `SELECT id, bill_number, clinic_id, patient_id, patient_name, sub_total, total_amount, payment_mode,
	COALESCE(appointment_id, ''), COALESCE(idempotency_key, ''), COALESCE(created_by, 0), created_at
FROM bills WHERE clinic_id = $1 AND bill_number = $2`, clinicID, billNumber).
		Scan(&b.ID, &b.BillNumber, &b.ClinicID, &b.PatientID, &b.PatientName, &sub, &total, &mode, &b.AppointmentID, &b.IdempotencyKey, &b.CreatedBy, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bill{}, shared.NotFoundf("bill %s", billNumber)
	}
	if err != nil {
		return Bill{}, err
	}
	b.SubTotal, b.TotalAmount, b.PaymentMode = money.Amount(sub), money.Amount(total), PaymentMode(mode)

	if b.Items, err = r.listItems(ctx, b.ID); err != nil {
		return Bill{}, err
	}
	if b.TaxDetails, err = r.listTaxDetails(ctx, b.ID); err != nil {
		return Bill{}, err
	}
	return b, nil
}

// FindBillByIdempotencyKey loads the bill committed under key.
func (r *Repository) FindBillByIdempotencyKey(ctx context.Context, clinicID int64, key string) (Bill, error) {
	var number string
	err := r.pool.QueryRow(ctx, `SELECT bill_number FROM bills WHERE clinic_id = $1 AND idempotency_key = $2`, clinicID, key).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bill{}, shared.NotFoundf("bill with idempotency key %s", key)
	}
	if err != nil {
		return Bill{}, err
	}
	return r.GetBill(ctx, clinicID, number)
}

func (r *Repository) listItems(ctx context.Context, billID uuid.UUID) ([]BillItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT position, item_type, COALESCE(medicine_id, 0), COALESCE(batch_number, ''), description, quantity, rate, amount, gst_rate::text
FROM bill_items WHERE bill_id = $1 ORDER BY position`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []BillItem
	for rows.Next() {
		var it BillItem
		var typ, gst string
		var rate, amount int64
		if err := rows.Scan(&it.Position, &typ, &it.MedicineID, &it.BatchNumber, &it.Description, &it.Quantity, &rate, &amount, &gst); err != nil {
			return nil, err
		}
		it.Type, it.Rate, it.Amount = ItemType(typ), money.Amount(rate), money.Amount(amount)
		if it.GSTRate, err = decimal.NewFromString(gst); err != nil {
			return nil, fmt.Errorf("billing: item %d gst rate: %w", it.Position, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *Repository) listTaxDetails(ctx context.Context, billID uuid.UUID) ([]tax.Detail, error) {
	rows, err := r.pool.Query(ctx, `SELECT rate::text, taxable_amount, cgst, sgst FROM bill_tax_details WHERE bill_id = $1 ORDER BY rate`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var details []tax.Detail
	for rows.Next() {
		var rate string
		var taxable, cgst, sgst int64
		if err := rows.Scan(&rate, &taxable, &cgst, &sgst); err != nil {
			return nil, err
		}
		d := tax.Detail{TaxableAmount: money.Amount(taxable), CGST: money.Amount(cgst), SGST: money.Amount(sgst)}
		if d.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, fmt.Errorf("billing: tax rate: %w", err)
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

// Directory resolves patients and clinics from PostgreSQL.
type Directory struct {
	pool *pgxpool.Pool
}

// NewDirectory constructs Directory.
func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

// ResolvePatient implements PatientResolver. Patients of other clinics are not found.
func (d *Directory) ResolvePatient(ctx context.Context, clinicID int64, ref PatientRef) (Patient, error) {
	var p Patient
	err := d.pool.QueryRow(ctx, `SELECT id, clinic_id, name, phone FROM patients WHERE id = $1 AND clinic_id = $2`, ref.ID, clinicID).
		Scan(&p.ID, &p.ClinicID, &p.Name, &p.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return Patient{}, shared.NotFoundf("patient %s", ref.ID)
	}
	return p, err
}

// GetClinic returns receipt header data.
func (d *Directory) GetClinic(ctx context.Context, clinicID int64) (Clinic, error) {
	var c Clinic
	err := d.pool.QueryRow(ctx, `SELECT id, name, address, phone, gstin FROM clinics WHERE id = $1`, clinicID).
		Scan(&c.ID, &c.Name, &c.Address, &c.Phone, &c.GSTIN)
	if errors.Is(err, pgx.ErrNoRows) {
		return Clinic{}, shared.NotFoundf("clinic %d", clinicID)
	}
	return c, err
}
