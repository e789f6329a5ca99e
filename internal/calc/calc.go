// Package calc holds the pure, side-effect-free arithmetic the screener and
// enricher share: funding-rate delta scoring, long/short route assignment,
// depth-aware position sizing, and PnL estimation. Every function here is
// decimal-only and safe to call from multiple goroutines.
package calc

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/internal/venue"
)

var two = decimal.NewFromInt(2)

// CalculateDelta scores the funding-rate spread between two venues net of
// round-trip taker fees on both legs.
//
// The sign comparison only recognizes four shapes: both negative, funding1
// positive with funding2 negative, funding1 negative with funding2
// positive, and both positive. A funding rate of exactly zero matches none
// of these, so the raw delta falls through as zero before fees are
// subtracted, even when the other venue's rate is non-zero: the result is
// then just the negated fee term.
func CalculateDelta(funding1, funding2, fee1, fee2 decimal.Decimal) decimal.Decimal {
	var delta decimal.Decimal
	switch {
	case funding1.IsNegative() && funding2.IsNegative():
		delta = funding1.Abs().Sub(funding2.Abs()).Abs()
	case funding1.IsPositive() && funding2.IsNegative():
		delta = funding1.Sub(funding2)
	case funding1.IsNegative() && funding2.IsPositive():
		delta = funding1.Sub(funding2).Abs()
	case funding1.IsPositive() && funding2.IsPositive():
		delta = funding1.Sub(funding2).Abs()
	}
	return delta.Sub(fee1.Add(fee2).Mul(two))
}

// LongShortRouter assigns the long leg to whichever venue pays the lower
// funding rate and the short leg to whichever pays the higher rate: shorts
// receive funding when the rate is positive, so the short leg should sit on
// the venue that pays more.
func LongShortRouter(venue1 string, funding1 decimal.Decimal, venue2 string, funding2 decimal.Decimal) venue.ExchangeRoutes {
	if funding1.GreaterThan(funding2) {
		return venue.ExchangeRoutes{venue2: venue.PositionLong, venue1: venue.PositionShort}
	}
	return venue.ExchangeRoutes{venue1: venue.PositionLong, venue2: venue.PositionShort}
}

// roundDownToStep truncates amount down to the nearest lower multiple of
// step, matching a lot-size quantization.
func roundDownToStep(amount, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return amount
	}
	quotient, _ := amount.QuoRem(step, 0)
	return quotient.Mul(step)
}

// CalculateCryptoAmountForUSDT converts a target USDT notional into a
// lot-size-aligned base-asset quantity that both venues can accept. It
// rounds each venue's token amount down to the coarser of the two lot
// steps, then returns whichever venue's rounded amount is smaller — so
// neither leg overshoots the other's tradable size. It reports ok=false
// when usdtAmount does not clear one venue's minimum lot size.
func CalculateCryptoAmountForUSDT(price1, price2, usdtAmount, multiplier1, multiplier2 decimal.Decimal) (amount decimal.Decimal, ok bool) {
	tokenAmount1 := usdtAmount.Div(price1)
	tokenAmount2 := usdtAmount.Div(price2)

	if tokenAmount1.LessThan(multiplier1) || tokenAmount2.LessThan(multiplier2) {
		return decimal.Zero, false
	}

	step := multiplier2
	if multiplier1.GreaterThan(multiplier2) {
		step = multiplier1
	}

	rounded1 := roundDownToStep(tokenAmount1, step)
	rounded2 := roundDownToStep(tokenAmount2, step)

	if rounded1.GreaterThan(rounded2) {
		return rounded2, true
	}
	return rounded1, true
}

// CalculateEstimatePnLPercent estimates the trade's PnL as a percentage of
// margin used, combining the net funding differential, round-trip fees on
// both legs, and the entry-price slippage between the long and short fills.
// It returns ok=false when the two legs' funding fees do not have the
// expected opposing-or-matching sign relationship to net against each
// other (mirrors the original's "no result" fallthrough).
func CalculateEstimatePnLPercent(
	fundingLong, fundingShort decimal.Decimal,
	positionAmountLong, positionAmountShort decimal.Decimal,
	feeLong, feeShort decimal.Decimal,
	tokenAmount, priceLong, priceShort, leverage decimal.Decimal,
) (pnlPercent decimal.Decimal, ok bool) {
	fundingFeeLong := fundingLong.Mul(positionAmountLong)
	fundingFeeShort := fundingShort.Mul(positionAmountShort)

	var sumFundingFee decimal.Decimal
	switch {
	case (fundingFeeLong.IsNegative() && fundingFeeShort.IsNegative()) ||
		(fundingFeeLong.IsPositive() && fundingFeeShort.IsPositive()):
		sumFundingFee = fundingFeeLong.Abs().Sub(fundingFeeShort.Abs()).Abs()
	case (fundingFeeLong.IsNegative() && fundingFeeShort.IsPositive()) ||
		(fundingFeeLong.IsPositive() && fundingFeeShort.IsNegative()):
		sumFundingFee = fundingFeeLong.Abs().Add(fundingFeeShort.Abs())
	default:
		return decimal.Zero, false
	}

	pnlUSDT := sumFundingFee.
		Sub(two.Mul(feeLong.Mul(positionAmountLong))).
		Sub(two.Mul(feeShort.Mul(positionAmountShort))).
		Add(tokenAmount.Mul(priceShort.Sub(priceLong)))

	margin := positionAmountLong.Add(positionAmountShort).Div(leverage)
	pnlPercent = pnlUSDT.Div(margin).Mul(decimal.NewFromInt(100))
	return pnlPercent, true
}
