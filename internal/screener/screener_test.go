package screener

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCalculateLeverageWithinBothCaps(t *testing.T) {
	got := CalculateLeverage(d("20"), d("1"), d("25"), d("1"), d("10"))
	assert.True(t, got.Equal(d("10")))
}

func TestCalculateLeverageQuantizesToCoarserStep(t *testing.T) {
	got := CalculateLeverage(d("10"), d("1"), d("15"), d("5"), d("20"))
	// requested exceeds both maxima: common max is 10, quantized to step 5
	assert.True(t, got.Equal(d("10")), "got %s", got)
}

// venueExclusiveSelection exercises the greedy selection rule used inside
// FindArbitrage directly, since the full method requires live network
// calls through the exchange interface.
func venueExclusiveSelection(candidates []Opportunity, threshold decimal.Decimal) []Opportunity {
	venueInUse := map[string]bool{}
	var selected []Opportunity
	for _, c := range candidates {
		if c.DeltaWithFee.LessThanOrEqual(threshold) {
			continue
		}
		if venueInUse[c.Venue1] || venueInUse[c.Venue2] {
			continue
		}
		venueInUse[c.Venue1] = true
		venueInUse[c.Venue2] = true
		selected = append(selected, c)
	}
	return selected
}

func TestVenueExclusiveSelectionNeverReusesAVenue(t *testing.T) {
	candidates := []Opportunity{
		{Venue1: "Binance", Venue2: "ByBit", Symbol1: "BTCUSDT", DeltaWithFee: d("0.5")},
		{Venue1: "Binance", Venue2: "ByBit", Symbol1: "ETHUSDT", DeltaWithFee: d("0.4")},
	}
	selected := venueExclusiveSelection(candidates, minDeltaThreshold)
	assert.Len(t, selected, 1, "second candidate reuses both venues and must be skipped")
	assert.Equal(t, "BTCUSDT", selected[0].Symbol1)
}

func TestVenueExclusiveSelectionFiltersBelowThreshold(t *testing.T) {
	candidates := []Opportunity{
		{Venue1: "Binance", Venue2: "ByBit", Symbol1: "BTCUSDT", DeltaWithFee: d("0.05")},
	}
	selected := venueExclusiveSelection(candidates, minDeltaThreshold)
	assert.Empty(t, selected)
}
