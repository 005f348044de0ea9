// Package money implements fixed-point currency amounts in minor units.
//
// Amounts are int64 paise. Conversion to and from decimal text happens only at the
// interface boundary; every computed value is rounded half-even exactly once.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorDigits is the number of fractional digits of the currency.
const MinorDigits = 2

// Amount is a currency value in minor units.
type Amount int64

// Zero is the zero amount.
const Zero Amount = 0

// MaxAmount bounds every accepted or computed amount (₹10 trillion). Sums of bill lines
// and their tax stay far inside int64 under this ceiling.
const MaxAmount Amount = 1_000_000_000_000_000

// ErrOutOfRange is returned when a value exceeds ±MaxAmount.
var ErrOutOfRange = errors.New("money: amount out of range")

var maxDecimal = decimal.New(int64(MaxAmount), -MinorDigits)

// FromDecimal rounds d half-even to minor units. Values beyond ±MaxAmount are rejected.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	rounded := d.RoundBank(MinorDigits)
	if rounded.Abs().GreaterThan(maxDecimal) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return Amount(rounded.Shift(MinorDigits).IntPart()), nil
}

// round is FromDecimal for values derived from in-range amounts.
func round(d decimal.Decimal) Amount {
	return Amount(d.RoundBank(MinorDigits).Shift(MinorDigits).IntPart())
}

// Parse reads a decimal string such as "35.00" or "12.5".
func Parse(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	a, err := FromDecimal(d)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return a, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Decimal returns the exact decimal value.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -MinorDigits)
}

// String formats with exactly two fractional digits.
func (a Amount) String() string {
	return a.Decimal().StringFixed(MinorDigits)
}

// Mul multiplies by an integer quantity. The product is exact; callers that take
// untrusted operands use CheckedMul.
func (a Amount) Mul(qty int64) Amount {
	return a * Amount(qty)
}

// CheckedMul is Mul that fails with ErrOutOfRange when the product exceeds ±MaxAmount.
func (a Amount) CheckedMul(qty int64) (Amount, error) {
	if !a.InRange() {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, a)
	}
	if a == 0 || qty == 0 {
		return 0, nil
	}
	abs := int64(a)
	if abs < 0 {
		abs = -abs
	}
	limit := int64(MaxAmount) / abs
	if qty > limit || qty < -limit {
		return 0, fmt.Errorf("%w: %s x %d", ErrOutOfRange, a, qty)
	}
	return a * Amount(qty), nil
}

// InRange reports |a| <= MaxAmount.
func (a Amount) InRange() bool {
	return a >= -MaxAmount && a <= MaxAmount
}

// DivRound divides by n rounding half-even. n <= 0 returns a unchanged.
func (a Amount) DivRound(n int64) Amount {
	if n <= 0 {
		return a
	}
	return round(a.Decimal().Div(decimal.NewFromInt(n)))
}

// ScaleRound multiplies a by num/den rounding half-even once.
func (a Amount) ScaleRound(num decimal.Decimal, den int64) Amount {
	if den == 0 {
		return 0
	}
	return round(a.Decimal().Mul(num).Div(decimal.NewFromInt(den)))
}

// IsNegative reports a < 0.
func (a Amount) IsNegative() bool {
	return a < 0
}

// MarshalJSON encodes the amount as a decimal string.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts "35.00" or 35.00.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		*a = 0
		return nil
	}
	raw = strings.Trim(raw, `"`)
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum adds amounts.
func Sum(values ...Amount) Amount {
	var total Amount
	for _, v := range values {
		total += v
	}
	return total
}

// CheckedSum is Sum that fails with ErrOutOfRange once the running total leaves ±MaxAmount.
func CheckedSum(values ...Amount) (Amount, error) {
	var total Amount
	for _, v := range values {
		if !v.InRange() {
			return 0, fmt.Errorf("%w: %s", ErrOutOfRange, v)
		}
		total += v
		if !total.InRange() {
			return 0, fmt.Errorf("%w: sum exceeds %s", ErrOutOfRange, MaxAmount)
		}
	}
	return total, nil
}
