// Package billing settles sales into immutable bills.
package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/tax"
)

// ItemType classifies bill lines.
type ItemType string

const (
	ItemMedicine        ItemType = "Medicine"
	ItemConsultationFee ItemType = "ConsultationFee"
	ItemService         ItemType = "Service"
	ItemProduct         ItemType = "Product"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemMedicine, ItemConsultationFee, ItemService, ItemProduct:
		return true
	}
	return false
}

// PaymentMode is how the bill was paid.
type PaymentMode string

const (
	PaymentCash  PaymentMode = "Cash"
	PaymentCard  PaymentMode = "Card"
	PaymentUPI   PaymentMode = "UPI"
	PaymentOther PaymentMode = "Other"
)

// Valid reports whether m is an accepted payment mode.
func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI, PaymentOther:
		return true
	}
	return false
}

// ShortfallPolicy decides what happens when a medicine line cannot be fully supplied.
type ShortfallPolicy string

const (
	// ShortfallStrict aborts the settlement with InsufficientStock.
	ShortfallStrict ShortfallPolicy = "strict"
	// ShortfallGraceful bills the missing units as a zero-rate line without a batch.
	ShortfallGraceful ShortfallPolicy = "graceful"
)

// ParseShortfallPolicy parses a configuration value. Empty means strict.
func ParseShortfallPolicy(s string) (ShortfallPolicy, error) {
	switch p := ShortfallPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ShortfallStrict:
		return ShortfallStrict, nil
	case ShortfallGraceful:
		return p, nil
	default:
		return "", fmt.Errorf("billing: unknown shortfall policy %q", s)
	}
}

// AppointmentBilled is the terminal appointment status set by settlement.
const AppointmentBilled = "Billed"

// PatientRef identifies the patient being billed.
type PatientRef struct {
	ID string `json:"id"`
}

// Patient is the resolved patient record.
type Patient struct {
	ID       string
	ClinicID int64
	Name     string
	Phone    string
}

// Clinic is the display data printed on receipts.
type Clinic struct {
	ID      int64
	Name    string
	Address string
	Phone   string
	GSTIN   string
}

// LineRequest is one requested bill line. Medicine lines carry MedicineID and Quantity;
// other lines carry Description, Quantity, Rate and GSTRate.
type LineRequest struct {
	Type        ItemType
	MedicineID  int64
	Description string
	Quantity    int64
	Rate        money.Amount
	GSTRate     decimal.Decimal
}

// SettleInput requests a settlement.
type SettleInput struct {
	ClinicID       int64
	ActorID        int64
	Patient        PatientRef
	Lines          []LineRequest
	PaymentMode    PaymentMode
	AppointmentID  string
	IdempotencyKey string
}

// BillItem is an immutable bill line. Amount == Quantity * Rate.
type BillItem struct {
	Position    int             `json:"position"`
	Type        ItemType        `json:"item_type"`
	MedicineID  int64           `json:"medicine_id,omitempty"`
	BatchNumber string          `json:"batch_number,omitempty"`
	Description string          `json:"description"`
	Quantity    int64           `json:"quantity"`
	Rate        money.Amount    `json:"rate"`
	Amount      money.Amount    `json:"amount"`
	GSTRate     decimal.Decimal `json:"gst_rate"`
}

// Bill is a committed sale.
type Bill struct {
	ID             uuid.UUID    `json:"id"`
	BillNumber     string       `json:"bill_number"`
	ClinicID       int64        `json:"clinic_id"`
	PatientID      string       `json:"patient_id"`
	PatientName    string       `json:"patient_name"`
	Items          []BillItem   `json:"items"`
	SubTotal       money.Amount `json:"sub_total"`
	TaxDetails     []tax.Detail `json:"tax_details"`
	TotalAmount    money.Amount `json:"total_amount"`
	PaymentMode    PaymentMode  `json:"payment_mode"`
	AppointmentID  string       `json:"appointment_id,omitempty"`
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	CreatedBy      int64        `json:"created_by"`
	CreatedAt      time.Time    `json:"created_at"`
}

// TotalTax is the sum of CGST and SGST over all tax details.
func (b Bill) TotalTax() money.Amount {
	var total money.Amount
	for _, d := range b.TaxDetails {
		total += d.Total()
	}
	return total
}

// TaxLines converts items into calculator input.
func TaxLines(items []BillItem) []tax.Line {
	lines := make([]tax.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, tax.Line{Amount: it.Amount, Rate: it.GSTRate})
	}
	return lines
}
