package enricher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/web3guy0/fundingarb/internal/orderbook"
	"github.com/web3guy0/fundingarb/internal/venue"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestQuotePricePrefersSecondRung(t *testing.T) {
	sess := venue.NewSession("BTCUSDT")
	sess.Book.ApplySnapshot(
		[]orderbook.Level{{Price: d("100"), Qty: d("1")}, {Price: d("99"), Qty: d("1")}},
		[]orderbook.Level{{Price: d("101"), Qty: d("1")}, {Price: d("102"), Qty: d("1")}},
		1,
	)

	assert.True(t, quotePrice(sess, venue.PositionLong).Equal(d("102")))
	assert.True(t, quotePrice(sess, venue.PositionShort).Equal(d("99")))
}

func TestQuotePriceFallsBackToSingleRung(t *testing.T) {
	sess := venue.NewSession("BTCUSDT")
	sess.Book.ApplySnapshot(
		[]orderbook.Level{{Price: d("99"), Qty: d("1")}},
		[]orderbook.Level{{Price: d("101"), Qty: d("1")}},
		1,
	)

	assert.True(t, quotePrice(sess, venue.PositionLong).Equal(d("101")))
	assert.True(t, quotePrice(sess, venue.PositionShort).Equal(d("99")))
}

func TestQuotePriceEmptyLadderReturnsZero(t *testing.T) {
	sess := venue.NewSession("BTCUSDT")
	assert.True(t, quotePrice(sess, venue.PositionLong).IsZero())
}
