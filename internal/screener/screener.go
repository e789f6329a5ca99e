// Package screener finds funding-rate arbitrage opportunities by scoring
// every ticker common to both venues, then greedily selecting the
// highest-scoring non-overlapping pairs.
package screener

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/fundingarb/internal/calc"
	"github.com/web3guy0/fundingarb/internal/obs"
)

// minDeltaThreshold is the first-pass filter applied before any per-venue
// leverage/price enrichment work: a funding delta below this (in percent)
// isn't worth the cost of warming up books and setting leverage for.
var minDeltaThreshold = decimal.NewFromFloat(0.1)

// Opportunity is one scored, venue-exclusive funding-rate arbitrage
// candidate, ready for the enricher to size and route.
type Opportunity struct {
	Venue1           string
	Venue2           string
	Symbol1          string
	Symbol2          string
	FundingRate1     decimal.Decimal
	FundingRate2     decimal.Decimal
	DeltaWithoutFee  decimal.Decimal
	DeltaWithFee     decimal.Decimal
	Fee1             decimal.Decimal
	Fee2             decimal.Decimal
}

// Screener ranks and selects funding-rate arbitrage opportunities across
// the Binance and ByBit public funding-rate feeds.
type Screener struct {
	exchanges []exchange
	log       zerolog.Logger
}

// New returns a Screener wired to both supported venues.
func New(log zerolog.Logger) *Screener {
	return &Screener{
		exchanges: []exchange{newBinanceExchange(), newBybitExchange()},
		log:       log.With().Str("component", "screener").Logger(),
	}
}

type exchangeSnapshot struct {
	name    string
	fee     decimal.Decimal
	funding map[string]fundingQuote
}

// FindArbitrage fetches funding rates from every venue in parallel,
// scores the delta for every ticker both venues list, and greedily picks
// the highest-scoring opportunities such that no venue appears twice.
func (s *Screener) FindArbitrage(ctx context.Context, quoteAsset string) ([]Opportunity, error) {
	var selected []Opportunity
	err := obs.Timed(s.log, "FindArbitrage", func() error {
		var err error
		selected, err = s.findArbitrage(ctx, quoteAsset)
		return err
	})
	return selected, err
}

func (s *Screener) findArbitrage(ctx context.Context, quoteAsset string) ([]Opportunity, error) {
	snapshots := make([]exchangeSnapshot, len(s.exchanges))

	g, gctx := errgroup.WithContext(ctx)
	for i, ex := range s.exchanges {
		i, ex := i, ex
		g.Go(func() error {
			funding, err := ex.GetFundingRates(gctx, quoteAsset)
			if err != nil {
				return err
			}
			snapshots[i] = exchangeSnapshot{name: ex.Name(), fee: ex.TakerFee(), funding: funding}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	commonTickers := map[string][]int{}
	for i, snap := range snapshots {
		for ticker := range snap.funding {
			commonTickers[ticker] = append(commonTickers[ticker], i)
		}
	}

	var candidates []Opportunity
	for ticker, venues := range commonTickers {
		if len(venues) < 2 {
			continue
		}
		for a := 0; a < len(venues); a++ {
			for b := a + 1; b < len(venues); b++ {
				ex1, ex2 := snapshots[venues[a]], snapshots[venues[b]]
				f1, f2 := ex1.funding[ticker].FundingRate, ex2.funding[ticker].FundingRate

				deltaWithoutFee := calc.CalculateDelta(f1, f2, decimal.Zero, decimal.Zero)
				deltaWithFee := calc.CalculateDelta(f1, f2, ex1.fee, ex2.fee)

				candidates = append(candidates, Opportunity{
					Venue1:          ex1.name,
					Venue2:          ex2.name,
					Symbol1:         ticker,
					Symbol2:         ticker,
					FundingRate1:    f1,
					FundingRate2:    f2,
					DeltaWithoutFee: deltaWithoutFee,
					DeltaWithFee:    deltaWithFee,
					Fee1:            ex1.fee,
					Fee2:            ex2.fee,
				})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DeltaWithFee.GreaterThan(candidates[j].DeltaWithFee)
	})

	var selected []Opportunity
	venueInUse := map[string]bool{}
	for _, c := range candidates {
		if c.DeltaWithFee.LessThanOrEqual(minDeltaThreshold) {
			continue
		}
		if venueInUse[c.Venue1] || venueInUse[c.Venue2] {
			continue
		}
		venueInUse[c.Venue1] = true
		venueInUse[c.Venue2] = true
		selected = append(selected, c)
	}

	s.log.Info().Int("candidates", len(candidates)).Int("selected", len(selected)).Msg("arbitrage scan complete")
	return selected, nil
}

// CalculateLeverage brackets the requested leverage down to whichever
// venue's maximum is lower, then quantizes to the coarser of the two
// venues' leverage steps — so a single leverage value is valid on both
// legs of the trade.
func CalculateLeverage(maxLev1, step1, maxLev2, step2, requested decimal.Decimal) decimal.Decimal {
	maxStep := step1
	if step2.GreaterThan(step1) {
		maxStep = step2
	}
	maxCommon := maxLev1
	if maxLev2.LessThan(maxLev1) {
		maxCommon = maxLev2
	}
	if requested.LessThan(maxCommon) {
		maxCommon = requested
	}
	if maxStep.IsZero() {
		return maxCommon
	}
	quotient, _ := maxCommon.QuoRem(maxStep, 0)
	return quotient.Mul(maxStep)
}
