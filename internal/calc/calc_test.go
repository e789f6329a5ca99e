package calc

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCalculateDeltaBothNegative(t *testing.T) {
	got := CalculateDelta(d("-0.01"), d("-0.03"), decimal.Zero, decimal.Zero)
	assert.True(t, got.Equal(d("0.02")), "got %s", got)
}

func TestCalculateDeltaOppositeSigns(t *testing.T) {
	got := CalculateDelta(d("0.02"), d("-0.01"), decimal.Zero, decimal.Zero)
	assert.True(t, got.Equal(d("0.03")), "got %s", got)
}

func TestCalculateDeltaBothPositive(t *testing.T) {
	got := CalculateDelta(d("0.05"), d("0.02"), decimal.Zero, decimal.Zero)
	assert.True(t, got.Equal(d("0.03")), "got %s", got)
}

func TestCalculateDeltaZeroFundingFallsThrough(t *testing.T) {
	// Neither branch matches when one side is exactly zero: the raw
	// delta stays zero and only the fee term survives.
	got := CalculateDelta(decimal.Zero, d("0.05"), decimal.Zero, decimal.Zero)
	assert.True(t, got.IsZero(), "got %s", got)
}

func TestCalculateDeltaSubtractsFeesBothLegs(t *testing.T) {
	got := CalculateDelta(d("0.05"), d("0.02"), d("0.001"), d("0.002"))
	// raw delta 0.03, minus (0.001+0.002)*2 = 0.006 => 0.024
	assert.True(t, got.Equal(d("0.024")), "got %s", got)
}

func TestLongShortRouterAssignsHigherFundingToShort(t *testing.T) {
	routes := LongShortRouter("Binance", d("0.05"), "ByBit", d("0.01"))
	assert.Equal(t, "SHORT", string(routes["Binance"]))
	assert.Equal(t, "LONG", string(routes["ByBit"]))
}

func TestLongShortRouterTieGoesToVenue1AsLong(t *testing.T) {
	routes := LongShortRouter("Binance", d("0.02"), "ByBit", d("0.02"))
	assert.Equal(t, "LONG", string(routes["Binance"]))
	assert.Equal(t, "SHORT", string(routes["ByBit"]))
}

func TestCalculateCryptoAmountForUSDTBelowMinimumLot(t *testing.T) {
	_, ok := CalculateCryptoAmountForUSDT(d("100"), d("100"), d("1"), d("1"), d("1"))
	assert.False(t, ok)
}

func TestCalculateCryptoAmountForUSDTRoundsToCoarserStep(t *testing.T) {
	amount, ok := CalculateCryptoAmountForUSDT(d("100"), d("100"), d("1000"), d("0.001"), d("0.01"))
	require.True(t, ok)
	// token amount 10 on both legs, step rounds to coarser multiplier 0.01
	assert.True(t, amount.Equal(d("10")), "got %s", amount)
}

func TestCalculateEstimatePnLPercentMatchingSigns(t *testing.T) {
	pnl, ok := CalculateEstimatePnLPercent(
		d("0.0005"), d("0.0002"),
		d("10000"), d("10000"),
		d("0.0004"), d("0.0004"),
		d("1"), d("100"), d("100"),
		d("10"),
	)
	require.True(t, ok)
	assert.False(t, pnl.IsZero())
}

func TestCalculateEstimatePnLPercentOpposingFundingFeeSigns(t *testing.T) {
	_, ok := CalculateEstimatePnLPercent(
		d("0.0005"), d("-0.0002"),
		d("10000"), d("10000"),
		d("0.0004"), d("0.0004"),
		d("1"), d("100"), d("100"),
		d("10"),
	)
	assert.True(t, ok)
}
