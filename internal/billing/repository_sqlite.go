package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/medzillo/medzillo/internal/inventory"
	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/platform/sqlite"
	"github.com/medzillo/medzillo/internal/shared"
	"github.com/medzillo/medzillo/internal/tax"
)

// SQLiteRepository persists bills in the embedded store.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository constructs SQLiteRepository.
func NewSQLiteRepository(db *sqlx.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type sqliteTxRepo struct {
	inventory.TxRepository
	tx *sqlx.Tx
}

// WithTx executes the callback inside a transaction.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return sqlite.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		return fn(ctx, &sqliteTxRepo{TxRepository: inventory.NewSQLiteTxRepository(tx), tx: tx})
	})
}

func (t *sqliteTxRepo) InsertBill(ctx context.Context, b Bill) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO bills (id, bill_number, clinic_id, patient_id, patient_name, sub_total, total_amount, payment_mode, appointment_id, idempotency_key, created_by, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?)`,
		b.ID.String(), b.BillNumber, b.ClinicID, b.PatientID, b.PatientName, int64(b.SubTotal), int64(b.TotalAmount), string(b.PaymentMode),
		b.AppointmentID, b.IdempotencyKey, b.CreatedBy, sqlite.FormatTime(b.CreatedAt))
	if err != nil {
		if sqlite.IsUniqueViolation(err, "bills.idempotency_key") {
			return ErrIdempotencyReplay
		}
		return err
	}
	for _, it := range b.Items {
		var medicineID any
		if it.MedicineID != 0 {
			medicineID = it.MedicineID
		}
		if _, err := t.tx.ExecContext(ctx, `INSERT INTO bill_items (bill_id, position, item_type, medicine_id, batch_number, description, quantity, rate, amount, gst_rate)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, ?, ?, ?)`,
			b.ID.String(), it.Position, string(it.Type), medicineID, it.BatchNumber, it.Description, it.Quantity, int64(it.Rate), int64(it.Amount), it.GSTRate.String()); err != nil {
			return err
		}
	}
	for _, d := range b.TaxDetails {
		if _, err := t.tx.ExecContext(ctx, `INSERT INTO bill_tax_details (bill_id, rate, taxable_amount, cgst, sgst) VALUES (?, ?, ?, ?, ?)`,
			b.ID.String(), d.Rate.String(), int64(d.TaxableAmount), int64(d.CGST), int64(d.SGST)); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTxRepo) CompleteAppointment(ctx context.Context, clinicID int64, appointmentID string) error {
	var status string
	err := t.tx.GetContext(ctx, &status, `SELECT status FROM appointments WHERE id = ? AND clinic_id = ?`, appointmentID, clinicID)
	if errors.Is(err, sql.ErrNoRows) {
		return shared.NotFoundf("appointment %s", appointmentID)
	}
	if err != nil {
		return err
	}
	if strings.EqualFold(status, AppointmentBilled) {
		return shared.NewValidationError("appointment_id", "is already billed")
	}
	_, err = t.tx.ExecContext(ctx, `UPDATE appointments SET status = ?, updated_at = ? WHERE id = ?`, AppointmentBilled, sqlite.FormatTime(time.Now()), appointmentID)
	return err
}

type billRow struct {
	ID             string `db:"id"`
	BillNumber     string `db:"bill_number"`
	ClinicID       int64  `db:"clinic_id"`
	PatientID      string `db:"patient_id"`
	PatientName    string `db:"patient_name"`
	SubTotal       int64  `db:"sub_total"`
	TotalAmount    int64  `db:"total_amount"`
	PaymentMode    string `db:"payment_mode"`
	AppointmentID  string `db:"appointment_id"`
	IdempotencyKey string `db:"idempotency_key"`
	CreatedBy      int64  `db:"created_by"`
	CreatedAt      string `db:"created_at"`
}

type billItemRow struct {
	Position    int    `db:"position"`
	ItemType    string `db:"item_type"`
	MedicineID  int64  `db:"medicine_id"`
	BatchNumber string `db:"batch_number"`
	Description string `db:"description"`
	Quantity    int64  `db:"quantity"`
	Rate        int64  `db:"rate"`
	Amount      int64  `db:"amount"`
	GSTRate     string `db:"gst_rate"`
}

type taxDetailRow struct {
	Rate          string `db:"rate"`
	TaxableAmount int64  `db:"taxable_amount"`
	CGST          int64  `db:"cgst"`
	SGST          int64  `db:"sgst"`
}

// GetBill loads a committed bill with its items and tax details.
func (r *SQLiteRepository) GetBill(ctx context.Context, clinicID int64, billNumber string) (Bill, error) {
	var row billRow
	err := r.db.GetContext(ctx, &row, `SELECT id, bill_number, clinic_id, patient_id, patient_name, sub_total, total_amount, payment_mode,
	COALESCE(appointment_id, '') AS appointment_id, COALESCE(idempotency_key, '') AS idempotency_key, created_by, created_at
FROM bills WHERE clinic_id = ? AND bill_number = ?`, clinicID, billNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return Bill{}, shared.NotFoundf("bill %s", billNumber)
	}
	if err != nil {
		return Bill{}, err
	}
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return Bill{}, fmt.Errorf("billing: bill id: %w", err)
	}
	created, err := sqlite.ParseTime(row.CreatedAt)
	if err != nil {
		return Bill{}, fmt.Errorf("billing: bill created_at: %w", err)
	}
	b := Bill{
		ID:             id,
		BillNumber:     row.BillNumber,
		ClinicID:       row.ClinicID,
		PatientID:      row.PatientID,
		PatientName:    row.PatientName,
		SubTotal:       money.Amount(row.SubTotal),
		TotalAmount:    money.Amount(row.TotalAmount),
		PaymentMode:    PaymentMode(row.PaymentMode),
		AppointmentID:  row.AppointmentID,
		IdempotencyKey: row.IdempotencyKey,
		CreatedBy:      row.CreatedBy,
		CreatedAt:      created,
	}

	var items []billItemRow
	if err := r.db.SelectContext(ctx, &items, `SELECT position, item_type, COALESCE(medicine_id, 0) AS medicine_id, COALESCE(batch_number, '') AS batch_number,
	description, quantity, rate, amount, gst_rate
FROM bill_items WHERE bill_id = ? ORDER BY position`, row.ID); err != nil {
		return Bill{}, err
	}
	for _, it := range items {
		rate, err := decimal.NewFromString(it.GSTRate)
		if err != nil {
			return Bill{}, fmt.Errorf("billing: item %d gst rate: %w", it.Position, err)
		}
		b.Items = append(b.Items, BillItem{
			Position:    it.Position,
			Type:        ItemType(it.ItemType),
			MedicineID:  it.MedicineID,
			BatchNumber: it.BatchNumber,
			Description: it.Description,
			Quantity:    it.Quantity,
			Rate:        money.Amount(it.Rate),
			Amount:      money.Amount(it.Amount),
			GSTRate:     rate,
		})
	}

	var details []taxDetailRow
	if err := r.db.SelectContext(ctx, &details, `SELECT rate, taxable_amount, cgst, sgst FROM bill_tax_details WHERE bill_id = ?`, row.ID); err != nil {
		return Bill{}, err
	}
	for _, d := range details {
		rate, err := decimal.NewFromString(d.Rate)
		if err != nil {
			return Bill{}, fmt.Errorf("billing: tax rate: %w", err)
		}
		b.TaxDetails = append(b.TaxDetails, tax.Detail{Rate: rate, TaxableAmount: money.Amount(d.TaxableAmount), CGST: money.Amount(d.CGST), SGST: money.Amount(d.SGST)})
	}
	sortDetails(b.TaxDetails)
	return b, nil
}

// FindBillByIdempotencyKey loads the bill committed under key.
func (r *SQLiteRepository) FindBillByIdempotencyKey(ctx context.Context, clinicID int64, key string) (Bill, error) {
	var number string
	err := r.db.GetContext(ctx, &number, `SELECT bill_number FROM bills WHERE clinic_id = ? AND idempotency_key = ?`, clinicID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return Bill{}, shared.NotFoundf("bill with idempotency key %s", key)
	}
	if err != nil {
		return Bill{}, err
	}
	return r.GetBill(ctx, clinicID, number)
}

// SQLiteDirectory resolves patients and clinics from the embedded store.
type SQLiteDirectory struct {
	db *sqlx.DB
}

// NewSQLiteDirectory constructs SQLiteDirectory.
func NewSQLiteDirectory(db *sqlx.DB) *SQLiteDirectory {
	return &SQLiteDirectory{db: db}
}

// ResolvePatient implements PatientResolver.
func (d *SQLiteDirectory) ResolvePatient(ctx context.Context, clinicID int64, ref PatientRef) (Patient, error) {
	var row struct {
		ID       string `db:"id"`
		ClinicID int64  `db:"clinic_id"`
		Name     string `db:"name"`
		Phone    string `db:"phone"`
	}
	err := d.db.GetContext(ctx, &row, `SELECT id, clinic_id, name, phone FROM patients WHERE id = ? AND clinic_id = ?`, ref.ID, clinicID)
	if errors.Is(err, sql.ErrNoRows) {
		return Patient{}, shared.NotFoundf("patient %s", ref.ID)
	}
	if err != nil {
		return Patient{}, err
	}
	return Patient{ID: row.ID, ClinicID: row.ClinicID, Name: row.Name, Phone: row.Phone}, nil
}

// GetClinic returns receipt header data.
func (d *SQLiteDirectory) GetClinic(ctx context.Context, clinicID int64) (Clinic, error) {
	var row struct {
		ID      int64  `db:"id"`
		Name    string `db:"name"`
		Address string `db:"address"`
		Phone   string `db:"phone"`
		GSTIN   string `db:"gstin"`
	}
	err := d.db.GetContext(ctx, &row, `SELECT id, name, address, phone, gstin FROM clinics WHERE id = ?`, clinicID)
	if errors.Is(err, sql.ErrNoRows) {
		return Clinic{}, shared.NotFoundf("clinic %d", clinicID)
	}
	if err != nil {
		return Clinic{}, err
	}
	return Clinic{ID: row.ID, Name: row.Name, Address: row.Address, Phone: row.Phone, GSTIN: row.GSTIN}, nil
}

// Rates are stored as text, so ordering happens after decoding.
func sortDetails(details []tax.Detail) {
	sort.Slice(details, func(i, j int) bool { return details[i].Rate.LessThan(details[j].Rate) })
}
