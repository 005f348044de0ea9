package billing

import (
	"time"

	"golang.org/x/text/language"

	"github.com/medzillo/medzillo/internal/money"
)

// ReceiptLocale governs number grouping on receipts.
var ReceiptLocale = language.MustParse("en-IN")

// Receipt is the caller-facing projection of a committed bill.
type Receipt struct {
	BillID        string           `json:"bill_id"`
	BillNumber    string           `json:"bill_number"`
	BillDate      string           `json:"bill_date"`
	Clinic        ReceiptClinic    `json:"clinic"`
	Patient       ReceiptPatient   `json:"patient"`
	Items         []ReceiptItem    `json:"items"`
	TaxLines      []ReceiptTaxLine `json:"tax_lines"`
	SubTotal      string           `json:"sub_total"`
	TotalTax      string           `json:"total_tax"`
	Total         string           `json:"total"`
	PaymentMode   PaymentMode      `json:"payment_mode"`
	AppointmentID string           `json:"appointment_id,omitempty"`
	Bill          Bill             `json:"bill"`
}

// ReceiptClinic is the receipt header.
type ReceiptClinic struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	GSTIN   string `json:"gstin,omitempty"`
}

// ReceiptPatient identifies the billed patient.
type ReceiptPatient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// ReceiptItem is a display line.
type ReceiptItem struct {
	No          int    `json:"no"`
	Description string `json:"description"`
	Batch       string `json:"batch,omitempty"`
	Quantity    int64  `json:"quantity"`
	Rate        string `json:"rate"`
	Amount      string `json:"amount"`
	GSTRate     string `json:"gst_rate"`
}

// ReceiptTaxLine is one row of the GST breakdown.
type ReceiptTaxLine struct {
	Rate    string `json:"rate"`
	Taxable string `json:"taxable"`
	CGST    string `json:"cgst"`
	SGST    string `json:"sgst"`
}

// AssembleReceipt projects a committed bill with display data. It has no side effects.
func AssembleReceipt(bill Bill, clinic Clinic, patient Patient) Receipt {
	format := func(a money.Amount) string { return money.Format(a, ReceiptLocale) }
	r := Receipt{
		BillID:        bill.ID.String(),
		BillNumber:    bill.BillNumber,
		BillDate:      bill.CreatedAt.In(receiptZone).Format("02 Jan 2006 15:04"),
		Clinic:        ReceiptClinic{Name: clinic.Name, Address: clinic.Address, Phone: clinic.Phone, GSTIN: clinic.GSTIN},
		Patient:       ReceiptPatient{ID: bill.PatientID, Name: bill.PatientName, Phone: patient.Phone},
		SubTotal:      format(bill.SubTotal),
		TotalTax:      format(bill.TotalTax()),
		Total:         format(bill.TotalAmount),
		PaymentMode:   bill.PaymentMode,
		AppointmentID: bill.AppointmentID,
		Bill:          bill,
	}
	if r.Patient.Name == "" {
		r.Patient.Name = patient.Name
	}
	for _, it := range bill.Items {
		r.Items = append(r.Items, ReceiptItem{
			No:          it.Position,
			Description: it.Description,
			Batch:       it.BatchNumber,
			Quantity:    it.Quantity,
			Rate:        format(it.Rate),
			Amount:      format(it.Amount),
			GSTRate:     it.GSTRate.String() + "%",
		})
	}
	for _, d := range bill.TaxDetails {
		r.TaxLines = append(r.TaxLines, ReceiptTaxLine{
			Rate:    d.Rate.String() + "%",
			Taxable: format(d.TaxableAmount),
			CGST:    format(d.CGST),
			SGST:    format(d.SGST),
		})
	}
	return r
}

// receiptZone is Indian Standard Time; receipts print local clinic time.
var receiptZone = time.FixedZone("IST", 5*3600+1800)
