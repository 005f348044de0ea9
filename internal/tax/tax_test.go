package tax

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medzillo/medzillo/internal/money"
)

func rate(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeSingleRate(t *testing.T) {
	details := Compute([]Line{
		{Amount: money.MustParse("20.00"), Rate: rate("12")},
		{Amount: money.MustParse("15.00"), Rate: rate("12")},
	})
	require.Len(t, details, 1)
	assert.True(t, details[0].Rate.Equal(rate("12")))
	assert.Equal(t, money.MustParse("35.00"), details[0].TaxableAmount)
	assert.Equal(t, money.MustParse("2.10"), details[0].CGST)
	assert.Equal(t, money.MustParse("2.10"), details[0].SGST)
	assert.Equal(t, money.MustParse("4.20"), details[0].Total())
}

func TestComputeGroupsAndSortsByRate(t *testing.T) {
	details := Compute([]Line{
		{Amount: money.MustParse("100.00"), Rate: rate("18")},
		{Amount: money.MustParse("500.00"), Rate: rate("0")},
		{Amount: money.MustParse("40.00"), Rate: rate("5")},
		{Amount: money.MustParse("60.00"), Rate: rate("18.00")},
	})
	require.Len(t, details, 2)
	assert.True(t, details[0].Rate.Equal(rate("5")))
	assert.Equal(t, money.MustParse("40.00"), details[0].TaxableAmount)
	assert.Equal(t, money.MustParse("1.00"), details[0].CGST)
	assert.True(t, details[1].Rate.Equal(rate("18")))
	assert.Equal(t, money.MustParse("160.00"), details[1].TaxableAmount)
	assert.Equal(t, money.MustParse("14.40"), details[1].SGST)
}

func TestComputeRoundsHalfEvenOncePerHalf(t *testing.T) {
	cases := []struct {
		taxable string
		rate    string
		half    string
	}{
		{"1.00", "1", "0.00"},
		{"3.00", "1", "0.02"},
		{"10.05", "5", "0.25"},
		{"0.01", "12", "0.00"},
	}
	for _, tc := range cases {
		details := Compute([]Line{{Amount: money.MustParse(tc.taxable), Rate: rate(tc.rate)}})
		require.Len(t, details, 1)
		assert.Equal(t, money.MustParse(tc.half), details[0].CGST, "taxable %s rate %s", tc.taxable, tc.rate)
		assert.Equal(t, details[0].CGST, details[0].SGST)
	}
}

func TestComputeIgnoresZeroRate(t *testing.T) {
	assert.Empty(t, Compute([]Line{{Amount: money.MustParse("500.00"), Rate: decimal.Zero}}))
	assert.Empty(t, Compute(nil))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Line{
		{Amount: money.MustParse("35.00"), Rate: rate("12")},
		{Amount: money.MustParse("500.00"), Rate: decimal.Zero},
	})
	assert.Equal(t, money.MustParse("535.00"), s.SubTotal)
	assert.Equal(t, money.MustParse("4.20"), s.TotalTax)
	assert.Equal(t, money.MustParse("539.20"), s.TotalAmount)

	var taxable money.Amount
	for _, d := range s.Details {
		taxable += d.TaxableAmount
	}
	assert.Equal(t, money.MustParse("35.00"), taxable)
}

func TestCheckRate(t *testing.T) {
	for _, ok := range []string{"0", "5", "12.5", "18.00", "999.99"} {
		assert.NoError(t, CheckRate(decimal.RequireFromString(ok)), ok)
	}
	assert.ErrorIs(t, CheckRate(decimal.RequireFromString("-1")), ErrNegativeRate)
	assert.ErrorIs(t, CheckRate(decimal.RequireFromString("5.001")), ErrRatePrecision)
	assert.ErrorIs(t, CheckRate(decimal.RequireFromString("5.004")), ErrRatePrecision)
	assert.ErrorIs(t, CheckRate(decimal.RequireFromString("1000")), ErrRateTooLarge)
}
