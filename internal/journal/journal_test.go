package journal

import (
	"testing"
	"time"

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

func sampleLeg(venue string) LegOrders {
	now := time.Now()
	return LegOrders{
		Open: Order{
			Venue: venue, VenueOrderID: venue + "-open", Side: "BUY",
			ContractQuantity: d("1.5"), Leverage: d("5"), AvgPrice: d("100"),
			FeeAmount: d("0.06"), QuoteAmount: d("150"), TradeTime: now,
		},
		Close: Order{
			Venue: venue, VenueOrderID: venue + "-close", Side: "SELL",
			ContractQuantity: d("1.5"), Leverage: d("5"), AvgPrice: d("101"),
			FeeAmount: d("0.0606"), QuoteAmount: d("151.5"), TradeTime: now.Add(time.Hour),
		},
	}
}

func TestInsertTradeWritesFourOrdersTwoPositionsOneTrade(t *testing.T) {
	j, err := New(":memory:")
	require.NoError(t, err)

	entry, close := time.Now(), time.Now().Add(time.Hour)
	trade, err := j.InsertTrade(
		"BTCUSDT",
		sampleLeg("Binance"), "LONG", LegFunding{Rate: d("0.01"), Fee: d("0.15")},
		sampleLeg("ByBit"), "SHORT", LegFunding{Rate: d("0.05"), Fee: d("-0.75")},
		d("1.2"), entry, close,
	)
	require.NoError(t, err)
	assert.NotZero(t, trade.ID)

	var orderCount, positionCount, tradeCount int64
	require.NoError(t, j.db.Model(&Order{}).Count(&orderCount).Error)
	require.NoError(t, j.db.Model(&Position{}).Count(&positionCount).Error)
	require.NoError(t, j.db.Model(&Trade{}).Count(&tradeCount).Error)

	assert.EqualValues(t, 4, orderCount)
	assert.EqualValues(t, 2, positionCount)
	assert.EqualValues(t, 1, tradeCount)

	var pos1, pos2 Position
	require.NoError(t, j.db.First(&pos1, trade.PositionID1).Error)
	require.NoError(t, j.db.First(&pos2, trade.PositionID2).Error)
	assert.Equal(t, "LONG", pos1.PositionSide)
	assert.Equal(t, "SHORT", pos2.PositionSide)
}

func TestInsertTradeRollsBackEntirelyOnPartialFailure(t *testing.T) {
	j, err := New(":memory:")
	require.NoError(t, err)

	leg1 := sampleLeg("Binance")
	leg2 := sampleLeg("ByBit")
	// Forcing a duplicate primary key on the close order of leg 2 makes
	// its insert fail after leg 1 and leg 2's open order have already
	// been written inside the same transaction.
	leg2.Close.ID = 1
	require.NoError(t, j.db.Create(&Order{ID: 1, Venue: "placeholder"}).Error)

	_, err = j.InsertTrade(
		"BTCUSDT",
		leg1, "LONG", LegFunding{Rate: d("0.01"), Fee: d("0.1")},
		leg2, "SHORT", LegFunding{Rate: d("0.02"), Fee: d("-0.1")},
		d("1"), time.Now(), time.Now(),
	)
	require.Error(t, err)

	var tradeCount, positionCount int64
	require.NoError(t, j.db.Model(&Trade{}).Count(&tradeCount).Error)
	require.NoError(t, j.db.Model(&Position{}).Count(&positionCount).Error)
	assert.Zero(t, tradeCount)
	assert.Zero(t, positionCount, "leg 1's position must roll back when leg 2 fails")

	var orderCount int64
	require.NoError(t, j.db.Model(&Order{}).Where("venue = ?", "Binance").Count(&orderCount).Error)
	assert.Zero(t, orderCount, "leg 1's orders must roll back too, not just its position")
}
