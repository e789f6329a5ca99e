package venue

import (
	"context"

	"github.com/shopspring/decimal"
)

// Adapter is the venue-neutral surface every exchange integration
// implements. A Trade Coordinator and the Opportunity Enricher talk to
// Binance and ByBit through this interface. The Screener does not: it
// reads both venues' public funding-rate feeds through its own lighter
// exchange interface in internal/screener.
type Adapter interface {
	// Name returns the venue identifier used as a map key throughout the
	// system ("Binance", "ByBit").
	Name() string

	// GetMultiplier returns the minimum order-quantity lot step for the
	// adapter's configured symbol.
	GetMultiplier(ctx context.Context) (decimal.Decimal, error)

	// GetBalances returns the account's per-asset balances.
	GetBalances(ctx context.Context) (map[string]Balance, error)

	// PlaceOrder submits an order and returns its venue-assigned identity.
	PlaceOrder(ctx context.Context, p PlaceOrderParams) (Order, error)

	// GetOrderStatus refreshes an order's lifecycle status.
	GetOrderStatus(ctx context.Context, o Order) (Order, error)

	// GetOrderInfo fetches fill details for a settled order.
	GetOrderInfo(ctx context.Context, o Order) (OrderInfo, error)

	// GetTrades returns fills in [startMs, endMs).
	GetTrades(ctx context.Context, startMs, endMs int64) ([]Trade, error)

	// GetPositions returns the account's open positions for this symbol.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetIncomeHistory returns ledger entries (funding, PnL, commission)
	// in an optional [startMs, endMs) window; nil bounds mean unbounded.
	GetIncomeHistory(ctx context.Context, startMs, endMs *int64) ([]Income, error)

	// GetMaxLeverageForUSDTAmount returns the maximum leverage the venue
	// allows for a position of the given notional, and the leverage step
	// that bracket is quantized to.
	GetMaxLeverageForUSDTAmount(ctx context.Context, notional decimal.Decimal) (maxLev, step decimal.Decimal, err error)

	// CancelOrder cancels a resting order; returns false if it was
	// already filled or otherwise not cancellable.
	CancelOrder(ctx context.Context, o Order) (bool, error)

	// GetFundingRate returns the current funding rate for this symbol.
	GetFundingRate(ctx context.Context) (decimal.Decimal, error)

	// SetMarginTypeAndLeverage configures isolated/cross margin and
	// leverage for the symbol; idempotent against a venue reporting "no
	// change needed" for an already-matching margin mode.
	SetMarginTypeAndLeverage(ctx context.Context, mode MarginMode, leverage decimal.Decimal) (bool, error)

	// ClosestTimeBeforeFunding reports whether one of the venue's funding
	// settlements falls within the next windowSecs+60 seconds.
	ClosestTimeBeforeFunding(windowSecs int) bool

	// FundingTimeout reports whether one of the venue's funding
	// settlements took place more than windowSecs and less than
	// windowSecs+60 seconds ago. It does not look at funding credits.
	FundingTimeout(windowSecs int) bool

	// StartStreams launches the venue's public (depth/mark-price) and
	// private (user-data) streaming sessions, writing into sess until ctx
	// is cancelled.
	StartStreams(ctx context.Context, sess *Session) error
}

// Credentials is one venue's API key pair, as read from the credentials
// file and handed to an adapter constructor.
type Credentials struct {
	APIKey    string
	APISecret string
}
