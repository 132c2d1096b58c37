package pricing

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sampleInputs() []Input {
	return []Input{
		{EntryID: 1, Name: "Carpentry", UnitID: 1, UnitSymbol: "h", Rate: dec("100"), Quantity: dec("2")},
		{EntryID: 2, Name: "Oak veneer", UnitID: 2, UnitSymbol: "m2", Rate: dec("50"), Quantity: dec("1")},
	}
}

func TestCalculateTwoLineScenario(t *testing.T) {
	res, err := Calculate(sampleInputs(), dec("0.20"), dec("0.16"))
	require.NoError(t, err)

	assert.Equal(t, "250.00", res.Subtotal.StringFixed(MoneyScale))
	assert.Equal(t, "50.00", res.MarginAmount.StringFixed(MoneyScale))
	assert.Equal(t, "48.00", res.TaxAmount.StringFixed(MoneyScale))
	assert.Equal(t, "348.00", res.Total.StringFixed(MoneyScale))
	require.Len(t, res.Items, 2)
	assert.True(t, res.Items[0].ExtendedCost.Equal(dec("200")))
	assert.True(t, res.Items[1].ExtendedCost.Equal(dec("50")))
}

func TestCalculateEmptyIsAllZero(t *testing.T) {
	res, err := Calculate(nil, dec("0.20"), dec("0.16"))
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	for _, v := range []decimal.Decimal{res.Subtotal, res.MarginAmount, res.TaxAmount, res.Total} {
		assert.True(t, v.IsZero())
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	inputs := []Input{
		{EntryID: 3, Rate: dec("19.99"), Quantity: dec("3.333")},
		{EntryID: 4, Rate: dec("0.07"), Quantity: dec("11")},
		{EntryID: 5, Rate: dec("1234.5678"), Quantity: dec("0.25")},
	}
	first, err := Calculate(inputs, dec("0.175"), dec("0.16"))
	require.NoError(t, err)
	second, err := Calculate(inputs, dec("0.175"), dec("0.16"))
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestCalculateSubtotalIgnoresOrder(t *testing.T) {
	inputs := []Input{
		{EntryID: 1, Rate: dec("0.1"), Quantity: dec("3")},
		{EntryID: 2, Rate: dec("0.2"), Quantity: dec("7")},
		{EntryID: 3, Rate: dec("33.33"), Quantity: dec("1.5")},
	}
	reversed := []Input{inputs[2], inputs[1], inputs[0]}

	a, err := Calculate(inputs, dec("0.3"), dec("0.16"))
	require.NoError(t, err)
	b, err := Calculate(reversed, dec("0.3"), dec("0.16"))
	require.NoError(t, err)
	assert.Equal(t, a.Total.String(), b.Total.String())
	assert.Equal(t, a.Subtotal.String(), b.Subtotal.String())
}

func TestCalculateOverrideRate(t *testing.T) {
	override := dec("80")
	inputs := sampleInputs()
	inputs[0].OverrideRate = &override

	res, err := Calculate(inputs, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, res.Items[0].RateOverridden)
	assert.True(t, res.Items[0].Rate.Equal(override))
	assert.Equal(t, "210.00", res.Total.StringFixed(MoneyScale))
}

func TestCalculateRejectsBadQuantity(t *testing.T) {
	for _, qty := range []string{"0", "-1"} {
		inputs := sampleInputs()
		inputs[1].Quantity = dec(qty)
		_, err := Calculate(inputs, dec("0.2"), dec("0.16"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidLineItem)

		var lineErr *LineError
		require.ErrorAs(t, err, &lineErr)
		assert.Equal(t, 2, lineErr.Position)
		assert.Equal(t, int64(2), lineErr.EntryID)
	}
}

func TestCalculateRejectsNegativeOverride(t *testing.T) {
	override := dec("-5")
	inputs := sampleInputs()
	inputs[0].OverrideRate = &override
	_, err := Calculate(inputs, dec("0.2"), dec("0.16"))
	assert.ErrorIs(t, err, ErrInvalidLineItem)
}

func TestCalculateRejectsRatesOutOfRange(t *testing.T) {
	_, err := Calculate(sampleInputs(), dec("-0.1"), dec("0.16"))
	assert.ErrorIs(t, err, ErrInvalidRate)

	_, err = Calculate(sampleInputs(), dec("0.2"), dec("1.5"))
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestCalculateRoundsHalfAwayFromZero(t *testing.T) {
	inputs := []Input{{EntryID: 1, Rate: dec("0.125"), Quantity: dec("1")}}
	res, err := Calculate(inputs, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "0.13", res.Total.StringFixed(MoneyScale))
}

func TestCalculateRejectsValuesFinerThanStored(t *testing.T) {
	override := dec("0.00005")
	inputs := []Input{{EntryID: 7, Rate: dec("12"), OverrideRate: &override, Quantity: dec("1000")}}
	_, err := Calculate(inputs, dec("0.12"), dec("0.16"))
	assert.ErrorIs(t, err, ErrInvalidLineItem)

	inputs = []Input{{EntryID: 7, Rate: dec("12"), Quantity: dec("0.00001")}}
	_, err = Calculate(inputs, dec("0.12"), dec("0.16"))
	var lineErr *LineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 1, lineErr.Position)
	assert.Contains(t, lineErr.Reason, "decimal places")

	_, err = Calculate(sampleInputs(), dec("0.12345"), dec("0.16"))
	assert.ErrorIs(t, err, ErrInvalidRate)
	_, err = Calculate(sampleInputs(), dec("0.12"), dec("0.16001"))
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestCalculateAcceptsTrailingZeros(t *testing.T) {
	inputs := []Input{{EntryID: 1, Rate: dec("10.500000"), Quantity: dec("2.00000")}}
	res, err := Calculate(inputs, dec("0.1000000"), dec("0.160"))
	require.NoError(t, err)
	assert.Equal(t, "26.80", res.Total.StringFixed(MoneyScale))
}

func TestCalculateStoredRatesReplay(t *testing.T) {
	override := dec("0.0005")
	inputs := []Input{{EntryID: 7, Rate: dec("12"), OverrideRate: &override, Quantity: dec("1000.1234")}}
	first, err := Calculate(inputs, dec("0.1234"), dec("0.16"))
	require.NoError(t, err)

	// Rebuild inputs from the frozen item as a stored version would hold it.
	item := first.Items[0]
	stored := item.Rate.Round(RateScale)
	replay, err := Calculate([]Input{{EntryID: item.EntryID, Rate: stored, Quantity: item.Quantity.Round(RateScale)}},
		first.MarginRate.Round(RateScale), first.TaxRate.Round(RateScale))
	require.NoError(t, err)
	assert.True(t, first.Total.Equal(replay.Total), "%s vs %s", first.Total, replay.Total)
	assert.True(t, item.ExtendedCost.Equal(replay.Items[0].ExtendedCost))
}

func TestCalculateRejectsOversizedValues(t *testing.T) {
	inputs := []Input{{EntryID: 1, Rate: dec("10000000000"), Quantity: dec("1")}}
	_, err := Calculate(inputs, decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidLineItem)

	inputs = []Input{{EntryID: 1, Rate: dec("9999999999"), Quantity: dec("9999999999")}}
	_, err = Calculate(inputs, decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidLineItem)

	_, err = Calculate(sampleInputs(), dec("10000"), dec("0.16"))
	assert.ErrorIs(t, err, ErrInvalidRate)
}
