// Package enricher turns a scored Opportunity into a fully sized,
// routed, and leverage-configured trade candidate: it resolves lot
// multipliers and leverage brackets, warms up both venues' order books,
// and estimates the trade's PnL before a Trade Coordinator ever places an
// order.
package enricher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/fundingarb/internal/calc"
	"github.com/web3guy0/fundingarb/internal/screener"
	"github.com/web3guy0/fundingarb/internal/venue"
)

// bookWarmup is how long a freshly started streaming session is given to
// accumulate enough depth before it is read for a price quote.
const bookWarmup = 10 * time.Second

// AdapterFactory builds a venue.Adapter for one symbol. main.go supplies
// the concrete binance.New / bybit.New constructors so this package
// never imports a venue's wire format directly.
type AdapterFactory func(venueName, symbol string, creds venue.Credentials, log zerolog.Logger) (venue.Adapter, error)

// Enriched is a sized, routed opportunity ready for a Trade Coordinator.
type Enriched struct {
	Opportunity screener.Opportunity
	Routes      venue.ExchangeRoutes
	Leverage    decimal.Decimal
	Amount      decimal.Decimal
	Price1      decimal.Decimal
	Price2      decimal.Decimal
	EstimatedPnLPercent decimal.Decimal
	Adapters    map[string]venue.Adapter
	Sessions    map[string]*venue.Session
}

// Enricher resolves an Opportunity into an Enriched trade candidate.
type Enricher struct {
	newAdapter AdapterFactory
	log        zerolog.Logger
}

// New returns an Enricher that builds venue adapters via factory.
func New(factory AdapterFactory, log zerolog.Logger) *Enricher {
	return &Enricher{newAdapter: factory, log: log.With().Str("component", "enricher").Logger()}
}

type legSetup struct {
	venueName string
	symbol    string
	adapter   venue.Adapter
	session   *venue.Session
	multiplier decimal.Decimal
	maxLev    decimal.Decimal
	levStep   decimal.Decimal
}

// Enrich sizes, routes, and configures leverage for opp, warming up both
// venues' order books before quoting an entry price. It returns an error
// if either leg's lot minimum can't be cleared by usdtAmount.
func (e *Enricher) Enrich(ctx context.Context, opp screener.Opportunity, usdtAmount, requestedLeverage decimal.Decimal, creds map[string]venue.Credentials) (*Enriched, error) {
	leg1 := &legSetup{venueName: opp.Venue1, symbol: opp.Symbol1}
	leg2 := &legSetup{venueName: opp.Venue2, symbol: opp.Symbol2}

	for _, leg := range []*legSetup{leg1, leg2} {
		adapter, err := e.newAdapter(leg.venueName, leg.symbol, creds[leg.venueName], e.log)
		if err != nil {
			return nil, fmt.Errorf("build adapter for %s: %w", leg.venueName, err)
		}
		leg.adapter = adapter
		leg.session = venue.NewSession(leg.symbol)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, leg := range []*legSetup{leg1, leg2} {
		leg := leg
		g.Go(func() error {
			mult, err := leg.adapter.GetMultiplier(gctx)
			if err != nil {
				return fmt.Errorf("%s multiplier: %w", leg.venueName, err)
			}
			leg.multiplier = mult
			return nil
		})
		g.Go(func() error {
			maxLev, step, err := leg.adapter.GetMaxLeverageForUSDTAmount(gctx, usdtAmount)
			if err != nil {
				return fmt.Errorf("%s leverage bracket: %w", leg.venueName, err)
			}
			leg.maxLev, leg.levStep = maxLev, step
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	usedLeverage := screener.CalculateLeverage(leg1.maxLev, leg1.levStep, leg2.maxLev, leg2.levStep, requestedLeverage)

	setupGroup, setupCtx := errgroup.WithContext(ctx)
	for _, leg := range []*legSetup{leg1, leg2} {
		leg := leg
		// Leverage is set exactly once per venue: each leg's adapter is
		// distinct even when both legs happen to run on the same venue
		// name with different symbols, so there is no double-application.
		setupGroup.Go(func() error {
			_, err := leg.adapter.SetMarginTypeAndLeverage(setupCtx, venue.Isolated, usedLeverage)
			if err != nil {
				return fmt.Errorf("%s set leverage: %w", leg.venueName, err)
			}
			return nil
		})
	}
	if err := setupGroup.Wait(); err != nil {
		return nil, err
	}

	streamCtx, cancelStreams := context.WithCancel(ctx)
	for _, leg := range []*legSetup{leg1, leg2} {
		leg := leg
		go func() {
			if err := leg.adapter.StartStreams(streamCtx, leg.session); err != nil && streamCtx.Err() == nil {
				e.log.Warn().Err(err).Str("venue", leg.venueName).Msg("stream warm-up ended early")
			}
		}()
	}

	select {
	case <-time.After(bookWarmup):
	case <-ctx.Done():
		cancelStreams()
		return nil, ctx.Err()
	}

	routes := calc.LongShortRouter(opp.Venue1, opp.FundingRate1, opp.Venue2, opp.FundingRate2)

	price1 := quotePrice(leg1.session, routes[opp.Venue1])
	price2 := quotePrice(leg2.session, routes[opp.Venue2])

	amount, ok := calc.CalculateCryptoAmountForUSDT(price1, price2, usdtAmount, leg1.multiplier, leg2.multiplier)
	if !ok {
		cancelStreams()
		return nil, fmt.Errorf("usdt amount %s below lot minimum for %s/%s", usdtAmount, opp.Symbol1, opp.Symbol2)
	}

	positionAmount1 := amount.Mul(price1).Mul(usedLeverage)
	positionAmount2 := amount.Mul(price2).Mul(usedLeverage)

	var fundingLong, fundingShort, feeLong, feeShort, priceLong, priceShort decimal.Decimal
	var posLong, posShort decimal.Decimal
	if routes[opp.Venue1] == venue.PositionLong {
		fundingLong, fundingShort = opp.FundingRate1.Div(decimal.NewFromInt(100)), opp.FundingRate2.Div(decimal.NewFromInt(100))
		feeLong, feeShort = opp.Fee1.Div(decimal.NewFromInt(100)), opp.Fee2.Div(decimal.NewFromInt(100))
		priceLong, priceShort = price1, price2
		posLong, posShort = positionAmount1, positionAmount2
	} else {
		fundingLong, fundingShort = opp.FundingRate2.Div(decimal.NewFromInt(100)), opp.FundingRate1.Div(decimal.NewFromInt(100))
		feeLong, feeShort = opp.Fee2.Div(decimal.NewFromInt(100)), opp.Fee1.Div(decimal.NewFromInt(100))
		priceLong, priceShort = price2, price1
		posLong, posShort = positionAmount2, positionAmount1
	}

	pnlPercent, ok := calc.CalculateEstimatePnLPercent(fundingLong, fundingShort, posLong, posShort, feeLong, feeShort, amount, priceLong, priceShort, usedLeverage)
	if !ok {
		cancelStreams()
		return nil, fmt.Errorf("pnl estimate undefined for %s/%s: mismatched funding-fee signs", opp.Symbol1, opp.Symbol2)
	}

	return &Enriched{
		Opportunity:         opp,
		Routes:              routes,
		Leverage:            usedLeverage,
		Amount:              amount,
		Price1:              price1,
		Price2:              price2,
		EstimatedPnLPercent: pnlPercent,
		Adapters: map[string]venue.Adapter{
			opp.Venue1: leg1.adapter,
			opp.Venue2: leg2.adapter,
		},
		Sessions: map[string]*venue.Session{
			opp.Venue1: leg1.session,
			opp.Venue2: leg2.session,
		},
	}, nil
}

// quotePrice reads the second rung of whichever ladder the position side
// will execute against: a long leg buys into the ask ladder, a short leg
// sells into the bid ladder. The second rung (rather than best bid/ask)
// absorbs one level of quote flicker between the warm-up read and the
// order actually landing.
func quotePrice(sess *venue.Session, side venue.PositionSide) decimal.Decimal {
	bids, asks := sess.Book.Snapshot()
	ladder := bids
	if side == venue.PositionLong {
		ladder = asks
	}
	if len(ladder) > 1 {
		return ladder[1].Price
	}
	if len(ladder) == 1 {
		return ladder[0].Price
	}
	return decimal.Zero
}
