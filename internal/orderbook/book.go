// Package orderbook implements a price-sorted, depth-walking replica of a
// venue's perpetual futures order book, kept live by snapshot+delta
// reconciliation from a streaming session.
package orderbook

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Side identifies which ladder a level belongs to.
type Side string

const (
	Bids Side = "bids"
	Asks Side = "asks"
)

// Level is one price/quantity rung of a ladder.
type Level struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// Book is a mutex-guarded, price-sorted order book replica for one
// venue-symbol. Bids are kept descending, asks ascending, matching the
// ladders a depth-walking VWAP calculation expects to consume in order.
type Book struct {
	mu        sync.RWMutex
	symbol    string
	bids      []Level
	asks      []Level
	timestamp int64
}

// New returns an empty book for symbol.
func New(symbol string) *Book {
	return &Book{symbol: symbol}
}

// Symbol returns the book's ticker.
func (b *Book) Symbol() string {
	return b.symbol
}

// Timestamp returns the millisecond timestamp of the last applied update.
func (b *Book) Timestamp() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.timestamp
}

// ApplySnapshot replaces both ladders wholesale. Callers must supply bids
// sorted descending and asks sorted ascending.
func (b *Book) ApplySnapshot(bids, asks []Level, timestampMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids = append([]Level(nil), bids...)
	b.asks = append([]Level(nil), asks...)
	b.timestamp = timestampMs
}

// ApplyDelta applies one incremental update to a ladder: a zero quantity
// removes the price level, an existing price is replaced in place, and a
// new price is inserted to keep the ladder ordered (descending for bids,
// ascending for asks). An empty ladder takes a non-zero update as its
// first level. Updates for prices that sort past the end of a non-empty,
// truncated ladder are dropped rather than appended, mirroring a
// depth-limited snapshot.
func (b *Book) ApplyDelta(side Side, price, qty decimal.Decimal, timestampMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ladder := b.ladder(side)

	for i, lvl := range ladder {
		if lvl.Price.Equal(price) {
			if qty.IsZero() {
				ladder = append(ladder[:i], ladder[i+1:]...)
			} else {
				ladder[i].Qty = qty
			}
			b.setLadder(side, ladder)
			b.timestamp = timestampMs
			return
		}
		if betterThan(side, price, lvl.Price) {
			if !qty.IsZero() {
				ladder = insertAt(ladder, i, Level{Price: price, Qty: qty})
				b.setLadder(side, ladder)
			}
			b.timestamp = timestampMs
			return
		}
	}
	if len(ladder) == 0 && !qty.IsZero() {
		b.setLadder(side, []Level{{Price: price, Qty: qty}})
		b.timestamp = timestampMs
	}
}

func betterThan(side Side, price, other decimal.Decimal) bool {
	if side == Bids {
		return price.GreaterThan(other)
	}
	return price.LessThan(other)
}

func insertAt(ladder []Level, i int, lvl Level) []Level {
	ladder = append(ladder, Level{})
	copy(ladder[i+1:], ladder[i:])
	ladder[i] = lvl
	return ladder
}

func (b *Book) ladder(side Side) []Level {
	if side == Bids {
		return b.bids
	}
	return b.asks
}

func (b *Book) setLadder(side Side, ladder []Level) {
	if side == Bids {
		b.bids = ladder
	} else {
		b.asks = ladder
	}
}

// Snapshot returns defensive copies of both ladders for inspection.
func (b *Book) Snapshot() (bids, asks []Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bids = append([]Level(nil), b.bids...)
	asks = append([]Level(nil), b.asks...)
	return bids, asks
}

// Calculate walks the book for an order of `amount` base-asset units on the
// given route and returns the last-touched price, the volume-weighted
// average price, and the total quote-asset notional consumed. It returns
// ok=false if the book does not hold enough depth to fill amount.
func (b *Book) Calculate(route string, amount decimal.Decimal) (price, avgPrice, quoteAmount decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ladder := b.routeLadder(route)
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, decimal.Zero, false
	}

	remaining := amount
	spent := decimal.Zero
	for _, lvl := range ladder {
		if lvl.Qty.GreaterThanOrEqual(remaining) {
			spent = spent.Add(remaining.Mul(lvl.Price))
			return lvl.Price, spent.Div(amount), spent, true
		}
		spent = spent.Add(lvl.Qty.Mul(lvl.Price))
		remaining = remaining.Sub(lvl.Qty)
	}
	return decimal.Zero, decimal.Zero, decimal.Zero, false
}

// CalculateForUSDT is the inverse of Calculate: amount is denominated in
// quote-asset (USDT) notional and the base-asset quantity filled is
// returned as baseAmount.
func (b *Book) CalculateForUSDT(route string, amount decimal.Decimal) (price, avgPrice, baseAmount decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ladder := b.routeLadder(route)
	if amount.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, decimal.Zero, decimal.Zero, false
	}

	remaining := amount
	filled := decimal.Zero
	for _, lvl := range ladder {
		notional := lvl.Qty.Mul(lvl.Price)
		if notional.GreaterThanOrEqual(remaining) {
			filled = filled.Add(remaining.Div(lvl.Price))
			return lvl.Price, amount.Div(filled), filled, true
		}
		filled = filled.Add(lvl.Qty)
		remaining = remaining.Sub(notional)
	}
	return decimal.Zero, decimal.Zero, decimal.Zero, false
}

func (b *Book) routeLadder(route string) []Level {
	if route == "BUY" {
		return b.asks
	}
	return b.bids
}
