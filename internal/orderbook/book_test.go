package orderbook

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

func TestApplySnapshotOrdering(t *testing.T) {
	b := New("BTCUSDT")
	b.ApplySnapshot(
		[]Level{{Price: d("100"), Qty: d("1")}, {Price: d("99"), Qty: d("2")}},
		[]Level{{Price: d("101"), Qty: d("1")}, {Price: d("102"), Qty: d("2")}},
		1000,
	)
	bids, asks := b.Snapshot()
	require.Len(t, bids, 2)
	require.Len(t, asks, 2)
	assert.True(t, bids[0].Price.GreaterThan(bids[1].Price), "bids must sort descending")
	assert.True(t, asks[0].Price.LessThan(asks[1].Price), "asks must sort ascending")
	assert.EqualValues(t, 1000, b.Timestamp())
}

func TestApplyDeltaInsertUpdateDelete(t *testing.T) {
	b := New("BTCUSDT")
	b.ApplySnapshot(
		[]Level{{Price: d("100"), Qty: d("1")}, {Price: d("98"), Qty: d("1")}},
		[]Level{{Price: d("101"), Qty: d("1")}, {Price: d("103"), Qty: d("1")}},
		1,
	)

	// Insert a new best bid.
	b.ApplyDelta(Bids, d("100.5"), d("5"), 2)
	bids, _ := b.Snapshot()
	require.Len(t, bids, 3)
	assert.True(t, bids[0].Price.Equal(d("100.5")))

	// Update an existing level's quantity in place.
	b.ApplyDelta(Bids, d("100"), d("9"), 3)
	bids, _ = b.Snapshot()
	assert.True(t, bids[1].Price.Equal(d("100")))
	assert.True(t, bids[1].Qty.Equal(d("9")))

	// Zero quantity removes the level.
	b.ApplyDelta(Bids, d("98"), decimal.Zero, 4)
	bids, _ = b.Snapshot()
	for _, lvl := range bids {
		assert.False(t, lvl.Price.Equal(d("98")), "deleted level must not reappear")
	}
	assert.EqualValues(t, 4, b.Timestamp())
}

// Invariant 2: applying a delta twice in a row to an already-applied
// ladder leaves it unchanged iff the second delta is identical.
func TestApplyDeltaIsIdempotentForIdenticalRepeat(t *testing.T) {
	b := New("BTCUSDT")
	b.ApplySnapshot(
		[]Level{{Price: d("100"), Qty: d("1")}, {Price: d("99"), Qty: d("2")}},
		nil,
		1,
	)

	b.ApplyDelta(Bids, d("100"), d("5"), 2)
	bidsAfterFirst, _ := b.Snapshot()

	b.ApplyDelta(Bids, d("100"), d("5"), 3)
	bidsAfterRepeat, _ := b.Snapshot()

	require.Equal(t, bidsAfterFirst, bidsAfterRepeat, "identical repeat delta must leave the ladder unchanged")
	assert.EqualValues(t, 3, b.Timestamp(), "timestamp still advances even when the ladder content doesn't change")
}

func TestApplyDeltaDifferentQtyIsNotIdempotent(t *testing.T) {
	b := New("BTCUSDT")
	b.ApplySnapshot([]Level{{Price: d("100"), Qty: d("1")}}, nil, 1)

	b.ApplyDelta(Bids, d("100"), d("5"), 2)
	b.ApplyDelta(Bids, d("100"), d("7"), 3)

	bids, _ := b.Snapshot()
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Qty.Equal(d("7")), "a differing repeat delta must change the ladder")
}

func TestCalculateWalksLadderForVWAP(t *testing.T) {
	b := New("BTCUSDT")
	b.ApplySnapshot(
		nil,
		[]Level{{Price: d("100"), Qty: d("1")}, {Price: d("101"), Qty: d("2")}, {Price: d("102"), Qty: d("5")}},
		1,
	)

	price, avg, quote, ok := b.Calculate("BUY", d("2"))
	require.True(t, ok)
	assert.True(t, price.Equal(d("101")))
	// 1 @ 100 + 1 @ 101 = 201, /2 = 100.5
	assert.True(t, avg.Equal(d("100.5")), "avg price mismatch: %s", avg)
	assert.True(t, quote.Equal(d("201")))
}

func TestCalculateInsufficientDepth(t *testing.T) {
	b := New("BTCUSDT")
	b.ApplySnapshot(nil, []Level{{Price: d("100"), Qty: d("1")}}, 1)
	_, _, _, ok := b.Calculate("BUY", d("5"))
	assert.False(t, ok, "must report insufficient depth rather than a partial fill")
}

func TestCalculateForUSDTInverse(t *testing.T) {
	b := New("BTCUSDT")
	b.ApplySnapshot(
		[]Level{{Price: d("100"), Qty: d("10")}},
		nil,
		1,
	)
	price, _, base, ok := b.CalculateForUSDT("SELL", d("500"))
	require.True(t, ok)
	assert.True(t, price.Equal(d("100")))
	assert.True(t, base.Equal(d("5")))
}
