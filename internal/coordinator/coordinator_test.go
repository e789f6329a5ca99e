package coordinator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/fundingarb/internal/enricher"
	"github.com/web3guy0/fundingarb/internal/venue"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func newTestCoordinator(venues ...string) *Coordinator {
	adapters := map[string]venue.Adapter{}
	for _, v := range venues {
		adapters[v] = nil
	}
	return &Coordinator{enriched: &enricher.Enriched{Adapters: adapters}}
}

// S5: one leg's opening order is rejected, the other fills — the survivor
// must be identified and rolled back, never the reverse.
func TestRejectedExchangesIdentifiesSingleRejection(t *testing.T) {
	c := newTestCoordinator("Binance", "ByBit")
	orders := map[string]venue.Order{
		"Binance": {Status: venue.StatusFilled},
		"ByBit":   {Status: venue.StatusRejected},
	}
	errs := map[string]error{"Binance": nil, "ByBit": nil}

	rejected := c.rejectedExchanges(orders, errs)
	assert.Equal(t, []string{"ByBit"}, rejected)
	assert.Equal(t, "Binance", c.otherVenue(rejected[0]))
}

func TestRejectedExchangesTreatsPlacementErrorAsRejection(t *testing.T) {
	c := newTestCoordinator("Binance", "ByBit")
	orders := map[string]venue.Order{
		"Binance": {Status: venue.StatusFilled},
		"ByBit":   {},
	}
	errs := map[string]error{"Binance": nil, "ByBit": errors.New("timeout")}

	rejected := c.rejectedExchanges(orders, errs)
	assert.Equal(t, []string{"ByBit"}, rejected)
}

func TestRejectedExchangesBothRejectedAbortsWithoutRollback(t *testing.T) {
	c := newTestCoordinator("Binance", "ByBit")
	orders := map[string]venue.Order{
		"Binance": {Status: venue.StatusRejected},
		"ByBit":   {Status: venue.StatusRejected},
	}
	errs := map[string]error{}

	rejected := c.rejectedExchanges(orders, errs)
	assert.Len(t, rejected, 2)
}

// S6: the close-wait loop must sum deltas across each venue's own book
// and only signal ready once the combined delta is non-negative.
func TestCloseWaitingDecisionWaitsUntilNonNegativeSum(t *testing.T) {
	routes := venue.ExchangeRoutes{"Binance": venue.PositionLong, "ByBit": venue.PositionShort}
	openPrices := map[string]decimal.Decimal{"Binance": d("100"), "ByBit": d("100")}

	// Binance (long) lost 1, ByBit (short) gained only 0.5: net still negative.
	stillLosing := map[string]decimal.Decimal{"Binance": d("99"), "ByBit": d("99.5")}
	sum, ready := closeWaitingDecision(routes, openPrices, stillLosing, d("1"))
	assert.False(t, ready, "sum=%s should not be ready yet", sum)

	// Binance (long) gained 1, ByBit (short) flat: net now non-negative.
	nowReady := map[string]decimal.Decimal{"Binance": d("101"), "ByBit": d("100")}
	sum, ready = closeWaitingDecision(routes, openPrices, nowReady, d("1"))
	assert.True(t, ready, "sum=%s should be ready", sum)
	assert.True(t, sum.Equal(d("1")))
}

func TestCloseWaitingDecisionUsesPerVenueOwnPriceNotSharedBook(t *testing.T) {
	// Regression guard for the resolved "shared book" bug: Binance and
	// ByBit close prices diverge, and each leg's delta must be computed
	// against its own venue's open/close price, not a single shared one.
	routes := venue.ExchangeRoutes{"Binance": venue.PositionShort, "ByBit": venue.PositionLong}
	openPrices := map[string]decimal.Decimal{"Binance": d("50"), "ByBit": d("200")}
	closePrices := map[string]decimal.Decimal{"Binance": d("49"), "ByBit": d("202")}

	sum, ready := closeWaitingDecision(routes, openPrices, closePrices, d("2"))
	// Binance short: (50-49)*2 = 2; ByBit long: (202-200)*2 = 4; sum = 6.
	assert.True(t, sum.Equal(d("6")))
	assert.True(t, ready)
}
