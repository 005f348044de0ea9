package allocation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medzillo/medzillo/internal/money"
	"github.com/medzillo/medzillo/internal/shared"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func scenarioAB() []Candidate {
	return []Candidate{
		{BatchNumber: "B", Seq: 2, ExpiryDate: day(2027, 6, 30), UnitStock: 20, PackSize: 10, SellingRate: money.MustParse("30.00")},
		{BatchNumber: "A", Seq: 1, ExpiryDate: day(2027, 1, 31), UnitStock: 10, PackSize: 10, SellingRate: money.MustParse("20.00")},
	}
}

func TestComputeConsumesEarliestExpiryFirst(t *testing.T) {
	plan, err := Compute(7, scenarioAB(), 15, Options{})
	require.NoError(t, err)

	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, Allocation{BatchNumber: "A", Units: 10, UnitRate: money.MustParse("2.00"), ExpiryDate: day(2027, 1, 31)}, plan.Allocations[0])
	assert.Equal(t, Allocation{BatchNumber: "B", Units: 5, UnitRate: money.MustParse("3.00"), ExpiryDate: day(2027, 6, 30)}, plan.Allocations[1])
	assert.Zero(t, plan.Shortfall)
	assert.Equal(t, int64(30), plan.Available)
	assert.Equal(t, money.MustParse("35.00"), plan.Allocations[0].Amount()+plan.Allocations[1].Amount())
}

func TestComputeReportsShortfall(t *testing.T) {
	plan, err := Compute(7, scenarioAB(), 40, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(10), plan.Shortfall)
	assert.Equal(t, int64(30), plan.Allocated())
	assert.Equal(t, int64(30), plan.Available)
}

func TestComputeBreaksTiesBySequence(t *testing.T) {
	exp := day(2027, 3, 1)
	plan, err := Compute(1, []Candidate{
		{BatchNumber: "late", Seq: 9, ExpiryDate: exp, UnitStock: 5, PackSize: 1, SellingRate: money.MustParse("1.00")},
		{BatchNumber: "early", Seq: 3, ExpiryDate: exp, UnitStock: 5, PackSize: 1, SellingRate: money.MustParse("1.00")},
	}, 6, Options{})
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 2)
	assert.Equal(t, "early", plan.Allocations[0].BatchNumber)
	assert.Equal(t, int64(5), plan.Allocations[0].Units)
	assert.Equal(t, int64(1), plan.Allocations[1].Units)
}

func TestComputeSkipsEmptyBatches(t *testing.T) {
	candidates := scenarioAB()
	candidates[1].UnitStock = 0
	plan, err := Compute(7, candidates, 3, Options{})
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, "B", plan.Allocations[0].BatchNumber)
}

func TestComputeSkipExpired(t *testing.T) {
	plan, err := Compute(7, scenarioAB(), 5, Options{SkipExpired: true, AsOf: day(2027, 2, 1)})
	require.NoError(t, err)
	require.Len(t, plan.Allocations, 1)
	assert.Equal(t, "B", plan.Allocations[0].BatchNumber)
	assert.Equal(t, int64(20), plan.Available)

	plan, err = Compute(7, scenarioAB(), 5, Options{SkipExpired: true, AsOf: day(2027, 1, 31)})
	require.NoError(t, err)
	assert.Equal(t, "A", plan.Allocations[0].BatchNumber)
}

func TestComputeRejectsNonPositiveQuantity(t *testing.T) {
	_, err := Compute(7, scenarioAB(), 0, Options{})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestComputeDoesNotMutateCandidates(t *testing.T) {
	candidates := scenarioAB()
	_, err := Compute(7, candidates, 15, Options{})
	require.NoError(t, err)
	assert.Equal(t, "B", candidates[0].BatchNumber)
	assert.Equal(t, int64(20), candidates[0].UnitStock)
}

func TestUnitRateRounding(t *testing.T) {
	assert.Equal(t, money.MustParse("3.33"), UnitRate(money.MustParse("10.00"), 3))
	assert.Equal(t, money.MustParse("0.12"), UnitRate(money.MustParse("1.00"), 8))
	assert.Equal(t, money.MustParse("45.00"), UnitRate(money.MustParse("45.00"), 0))
}

func TestConsumeIsCumulative(t *testing.T) {
	candidates := scenarioAB()
	first, err := Compute(7, candidates, 12, Options{})
	require.NoError(t, err)
	candidates = Consume(candidates, first)

	second, err := Compute(7, candidates, 12, Options{})
	require.NoError(t, err)
	require.Len(t, second.Allocations, 1)
	assert.Equal(t, "B", second.Allocations[0].BatchNumber)
	assert.Equal(t, int64(12), second.Allocations[0].Units)
	assert.Equal(t, int64(18), second.Available)
}
