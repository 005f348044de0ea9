package billing

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/tax"
)

func sampleBill() Bill {
	twelve := decimal.NewFromInt(12)
	return Bill{
		ID:          uuid.MustParse("7c1d8f0e-3b7a-4a51-9c1e-2f0a4a9d7e11"),
		BillNumber:  "BILL-1",
		ClinicID:    1,
		PatientID:   "P-1001",
		PatientName: "Asha Rao",
		Items: []BillItem{
			{Position: 1, Type: ItemMedicine, MedicineID: 42, BatchNumber: "A", Description: "Amoxicillin 250", Quantity: 10, Rate: money.MustParse("2.00"), Amount: money.MustParse("20.00"), GSTRate: twelve},
			{Position: 2, Type: ItemMedicine, MedicineID: 42, BatchNumber: "B", Description: "Amoxicillin 250", Quantity: 5, Rate: money.MustParse("3.00"), Amount: money.MustParse("15.00"), GSTRate: twelve},
		},
		SubTotal:    money.MustParse("35.00"),
		TaxDetails:  []tax.Detail{{Rate: twelve, TaxableAmount: money.MustParse("35.00"), CGST: money.MustParse("2.10"), SGST: money.MustParse("2.10")}},
		TotalAmount: money.MustParse("39.20"),
		PaymentMode: PaymentUPI,
		CreatedAt:   time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC),
	}
}

func TestAssembleReceipt(t *testing.T) {
	bill := sampleBill()
	r := AssembleReceipt(bill, Clinic{ID: 1, Name: "Sunrise Clinic", GSTIN: "29ABCDE1234F1Z5"}, Patient{ID: "P-1001", Phone: "98450"})

	assert.Equal(t, "BILL-1", r.BillNumber)
	assert.Equal(t, bill.ID.String(), r.BillID)
	assert.Equal(t, "01 Mar 2026 12:00", r.BillDate)
	assert.Equal(t, "Sunrise Clinic", r.Clinic.Name)
	assert.Equal(t, "Asha Rao", r.Patient.Name)
	assert.Equal(t, "98450", r.Patient.Phone)
	require.Len(t, r.Items, 2)
	assert.Equal(t, "B", r.Items[1].Batch)
	assert.Equal(t, "12%", r.Items[1].GSTRate)
	assert.Equal(t, "₹3.00", r.Items[1].Rate)
	require.Len(t, r.TaxLines, 1)
	assert.Equal(t, "₹2.10", r.TaxLines[0].CGST)
	assert.Equal(t, "₹4.20", r.TotalTax)
	assert.Equal(t, "₹39.20", r.Total)
	assert.Equal(t, bill, r.Bill)
}

func TestAssembleReceiptFallsBackToPatientName(t *testing.T) {
	bill := sampleBill()
	bill.PatientName = ""
	r := AssembleReceipt(bill, Clinic{}, Patient{Name: "Asha R."})
	assert.Equal(t, "Asha R.", r.Patient.Name)
}
