// Package venue defines the venue-neutral vocabulary shared by every
// exchange adapter: orders, positions, trades, income records, funding
// snapshots, and the long/short route assignment between two venues.
//
// Sentinel strings like Binance's "BUY"/"SELL" or ByBit's casing quirks are
// venue-local encodings of these enums; adapters translate at the boundary
// and callers only ever see the types in this file.
package venue

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the venue-reported lifecycle state of an order.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// Side is the abstract order direction.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderType is the abstract order execution style.
type OrderType string

const (
	Limit  OrderType = "LIMIT"
	Market OrderType = "MARKET"
)

// TimeInForce controls how long an order rests before it is cancelled.
type TimeInForce string

const (
	GoodTilCancel     TimeInForce = "GTC"
	ImmediateOrCancel TimeInForce = "IOC"
	FillOrKill        TimeInForce = "FOK"
	GoodTilCrossing   TimeInForce = "GTX"
)

// PositionSide tags which side of an arbitrage leg an order belongs to.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
)

// MarginMode is the venue's collateralization mode for a position.
type MarginMode string

const (
	Isolated MarginMode = "ISOLATED"
	Cross    MarginMode = "CROSSED"
)

// IncomeKind classifies an income-history record.
type IncomeKind string

const (
	IncomePNL        IncomeKind = "REALIZED_PNL"
	IncomeFundingFee IncomeKind = "FUNDING_FEE"
	IncomeCommission IncomeKind = "COMMISSION"
	IncomeOther      IncomeKind = "OTHER"
)

// Order is the immutable identity record a venue returns for any order it
// accepted. Orders are never mutated client-side; a status refresh produces
// a new Order value.
type Order struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Price         decimal.Decimal
	Status        OrderStatus
}

// OrderInfo augments an Order with post-settlement fill data.
type OrderInfo struct {
	Order
	Side         Side
	AvgPrice     decimal.Decimal
	QuoteQty     decimal.Decimal
	BaseQty      decimal.Decimal
	Commission   decimal.Decimal
	FillTime     time.Time
	PositionSide PositionSide
}

// Balance is a single asset's ledger and available balance.
type Balance struct {
	Total     decimal.Decimal
	Available decimal.Decimal
}

// Position is a venue's live view of an open perpetual position.
type Position struct {
	EntryPrice       decimal.Decimal
	PositionValue    decimal.Decimal
	CumPnL           decimal.Decimal
	MarkPrice        decimal.Decimal
	LiquidationPrice decimal.Decimal
	Leverage         decimal.Decimal
	MarginMode       MarginMode
}

// Trade is one venue-reported fill from the trade history endpoint.
type Trade struct {
	Symbol           string
	TradeID          string
	OrderID          string
	Side             Side
	Price            decimal.Decimal
	Qty              decimal.Decimal
	RealizedPnL      decimal.Decimal
	MarginAsset      string
	QuoteQty         decimal.Decimal
	Commission       decimal.Decimal
	CommissionAsset  string
	Time             time.Time
	PositionSide     PositionSide
	Maker            bool
	Buyer            bool
}

// Income is one row from the venue's income/ledger history.
type Income struct {
	Symbol  string
	Kind    IncomeKind
	Amount  decimal.Decimal
	Asset   string
	Time    time.Time
	Info    string
	TranID  string
	TradeID string
}

// FundingSnapshot is a point-in-time funding rate and fee schedule for one
// venue-symbol, as collected by the screener.
type FundingSnapshot struct {
	Venue      string
	Symbol     string
	FundingPct decimal.Decimal
	MakerFee   decimal.Decimal
	TakerFee   decimal.Decimal
}

// ExchangeRoutes assigns exactly one long and one short leg across two
// venues. The venue with the higher funding rate is always short (it
// receives funding); the other is long.
type ExchangeRoutes map[string]PositionSide

// PlaceOrderParams is the uniform order-placement request across venues.
type PlaceOrderParams struct {
	Side          Side
	Quantity      decimal.Decimal
	Type          OrderType
	TimeInForce   TimeInForce
	Price         *decimal.Decimal
	StopPrice     *decimal.Decimal
	ReduceOnly    bool
	ClosePosition bool
	PositionSide  PositionSide
}
