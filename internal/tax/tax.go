// Package tax computes the GST breakdown of a bill.
package tax

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/medzillo/medzillo/internal/money"
)

// Line is a priced bill item as seen by the calculator.
type Line struct {
	Amount money.Amount
	Rate   decimal.Decimal
}

// Detail is the tax owed for one GST rate. CGST and SGST are always equal.
type Detail struct {
	Rate          decimal.Decimal `json:"rate"`
	TaxableAmount money.Amount    `json:"taxable_amount"`
	CGST          money.Amount    `json:"cgst"`
	SGST          money.Amount    `json:"sgst"`
}

// Total is CGST plus SGST.
func (d Detail) Total() money.Amount {
	return d.CGST + d.SGST
}

// Summary holds bill totals.
type Summary struct {
	SubTotal    money.Amount
	Details     []Detail
	TotalTax    money.Amount
	TotalAmount money.Amount
}

const halfRateDivisor = 200

// RateDigits is the precision at which GST rates are stored and grouped.
const RateDigits = 2

// MaxRate is the exclusive upper bound of a stored GST rate.
var MaxRate = decimal.NewFromInt(1000)

// Rate validation failures.
var (
	ErrNegativeRate  = errors.New("must not be negative")
	ErrRatePrecision = errors.New("must have at most 2 decimal places")
	ErrRateTooLarge  = errors.New("must be below 1000")
)

// CheckRate rejects rates that cannot be stored exactly, since two rates that round to
// the same stored value would collide as one tax group.
func CheckRate(rate decimal.Decimal) error {
	switch {
	case rate.IsNegative():
		return ErrNegativeRate
	case !rate.Equal(rate.Truncate(RateDigits)):
		return ErrRatePrecision
	case !rate.LessThan(MaxRate):
		return ErrRateTooLarge
	}
	return nil
}

// Compute groups lines with a positive rate and returns one detail per rate in
// ascending rate order. Each half is taxable*rate/200 rounded half-even once.
func Compute(lines []Line) []Detail {
	var details []Detail
	for _, l := range lines {
		if !l.Rate.IsPositive() {
			continue
		}
		idx := -1
		for i := range details {
			if details[i].Rate.Equal(l.Rate) {
				idx = i
				break
			}
		}
		if idx < 0 {
			details = append(details, Detail{Rate: l.Rate})
			idx = len(details) - 1
		}
		details[idx].TaxableAmount += l.Amount
	}
	sort.Slice(details, func(i, j int) bool {
		return details[i].Rate.LessThan(details[j].Rate)
	})
	for i := range details {
		half := details[i].TaxableAmount.ScaleRound(details[i].Rate, halfRateDivisor)
		details[i].CGST = half
		details[i].SGST = half
	}
	return details
}

// Summarize computes subtotal, tax details and the grand total.
func Summarize(lines []Line) Summary {
	var s Summary
	for _, l := range lines {
		s.SubTotal += l.Amount
	}
	s.Details = Compute(lines)
	for _, d := range s.Details {
		s.TotalTax += d.Total()
	}
	s.TotalAmount = s.SubTotal + s.TotalTax
	return s
}
