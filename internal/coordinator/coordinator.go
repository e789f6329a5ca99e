// Package coordinator drives one funding-rate arbitrage trade from open
// to journal: it places the paired opening orders, waits for funding to
// settle on both legs, watches each venue's own book for a profitable
// close, closes both legs, and writes the whole round trip to the trade
// journal — rolling back and journaling a failed attempt if either leg's
// opening order is rejected.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/fundingarb/internal/alert"
	"github.com/web3guy0/fundingarb/internal/enricher"
	"github.com/web3guy0/fundingarb/internal/journal"
	"github.com/web3guy0/fundingarb/internal/venue"
)

// State is one step of a trade's lifecycle.
type State string

const (
	StateSetup           State = "SETUP"
	StateOpening         State = "OPENING"
	StateOpenWaitFunding State = "OPEN_WAIT_FUNDING"
	StateCloseWaiting    State = "CLOSE_WAITING"
	StateClosing         State = "CLOSING"
	StateSettling        State = "SETTLING"
	StateJournaled       State = "JOURNALED"
	StateAborted         State = "ABORTED"
)

// legInstruction is one leg of one position-side's open/close order pair.
type legInstruction struct {
	side  venue.Side
	isAsk bool
}

// tradeInstruction mirrors the original TRADE_INSTRUCTION table: index 0
// is the opening order, index 1 is the order that flattens it.
var tradeInstruction = map[venue.PositionSide][2]legInstruction{
	venue.PositionLong:  {{venue.Buy, true}, {venue.Sell, false}},
	venue.PositionShort: {{venue.Sell, false}, {venue.Buy, true}},
}

// closeWaitingDeadline is how long after the funding timestamp the close
// loop keeps waiting for a profitable sum of close-price deltas before
// giving up and forcing a market close — 7h54m, one funding period minus
// a 6-minute safety margin.
const closeWaitingDeadline = 7*time.Hour + 54*time.Minute

// closeWaitPollInterval is how often the close-wait loop re-reads both
// venues' books.
const closeWaitPollInterval = 100 * time.Millisecond

// settleDelay is how long the coordinator waits after placing close
// orders before it starts collecting fill and funding-fee data, giving
// the venues' trade-history endpoints time to reflect the just-closed
// position.
const settleDelay = 15 * time.Second

// Coordinator drives a single enriched opportunity through its full
// trade lifecycle.
type Coordinator struct {
	enriched       *enricher.Enriched
	fundingTimeout int
	journal        *journal.Journal
	alertBot       *alert.Telegram
	log            zerolog.Logger
	logFile        *os.File
}

// New builds a Coordinator for one enriched opportunity, opening its
// dedicated per-trade log file.
func New(consoleWriter io.Writer, e *enricher.Enriched, fundingTimeoutSecs int, j *journal.Journal, alertBot *alert.Telegram) (*Coordinator, error) {
	symbol := e.Opportunity.Symbol1
	logger, f, err := newTradeLogger(consoleWriter, e.Opportunity.Venue1, e.Opportunity.Venue2, symbol)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		enriched:       e,
		fundingTimeout: fundingTimeoutSecs,
		journal:        j,
		alertBot:       alertBot,
		log:            logger,
		logFile:        f,
	}, nil
}

// Close releases the coordinator's dedicated log file.
func (c *Coordinator) Close() error {
	if c.logFile == nil {
		return nil
	}
	return c.logFile.Close()
}

// Run drives the trade from OPENING through JOURNALED or ABORTED.
func (c *Coordinator) Run(ctx context.Context) (State, error) {
	opp := c.enriched.Opportunity
	c.alertBot.SendTextMessagef(
		"Starting trade\nvenues=%s/%s\ntoken_amount=%s\nleverage=%s\nfunding_timeout=%ds\nfunding_rate_1=%s\nfunding_rate_2=%s",
		opp.Venue1, opp.Venue2, c.enriched.Amount, c.enriched.Leverage, c.fundingTimeout, opp.FundingRate1, opp.FundingRate2,
	)
	c.log.Info().Msg("starting trade")

	startTs := time.Now()
	openOrders, openErrs := c.placeLegOrders(ctx, 0, nil)
	rejected := c.rejectedExchanges(openOrders, openErrs)

	if len(rejected) == 2 {
		c.log.Info().Msg("rejected on both exchanges, aborting without journaling")
		return StateAborted, nil
	}

	if len(rejected) == 1 {
		survivor := c.otherVenue(rejected[0])
		c.log.Info().Str("rejected", rejected[0]).Str("rollback_on", survivor).Msg("rolling back surviving leg")
		rollbackOrder, err := c.rollbackOrder(ctx, survivor)
		if err != nil {
			c.alertBot.SendTextMessagef("Rollback failed on %s: %v", survivor, err)
			return StateAborted, fmt.Errorf("rollback on %s: %w", survivor, err)
		}
		if err := c.journalFailedTrade(ctx, survivor, openOrders[survivor], rollbackOrder, startTs); err != nil {
			return StateAborted, fmt.Errorf("journal failed trade: %w", err)
		}
		return StateAborted, nil
	}

	c.waitForFunding(ctx)

	fundingTime := time.Now()
	closePrices, ok := c.waitForClosePrices(ctx, fundingTime)
	if !ok {
		c.log.Info().Msg("close-wait deadline exceeded, forcing market close")
	}

	closeOrders, closeErrs := c.placeLegOrders(ctx, 1, closePrices)
	for venueName := range closeOrders {
		if closeErrs[venueName] != nil || closeOrders[venueName].Status == venue.StatusRejected {
			c.log.Warn().Str("venue", venueName).Msg("close order rejected, forcing market close")
			forced, err := c.rollbackOrder(ctx, venueName)
			if err != nil {
				return StateSettling, fmt.Errorf("forced close on %s: %w", venueName, err)
			}
			closeOrders[venueName] = forced
		}
	}

	select {
	case <-time.After(settleDelay):
	case <-ctx.Done():
		return StateSettling, ctx.Err()
	}

	endTs := time.Now()
	totalPnL := c.collectPnL(ctx, startTs, endTs)
	fundingFees := c.collectFundingFees(ctx, startTs)

	if err := c.journalTrade(ctx, openOrders, closeOrders, fundingFees, totalPnL, startTs, endTs); err != nil {
		c.alertBot.SendTextMessagef("Journaling failed: %v", err)
		return StateSettling, fmt.Errorf("journal trade: %w", err)
	}

	c.alertBot.SendTextMessagef("Trade closed. Total PnL=%s", totalPnL)
	return StateJournaled, nil
}

// placeLegOrders submits the idx'th instruction (0=open, 1=close) on both
// venues concurrently, always as market orders. prices, if non-nil,
// supplies a reference price per venue that is passed along as the
// order's Price field.
func (c *Coordinator) placeLegOrders(ctx context.Context, idx int, prices map[string]decimal.Decimal) (map[string]venue.Order, map[string]error) {
	orders := map[string]venue.Order{}
	errs := map[string]error{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for venueName, adapter := range c.enriched.Adapters {
		venueName, adapter := venueName, adapter
		routeSide := c.enriched.Routes[venueName]
		instr := tradeInstruction[routeSide][idx]
		g.Go(func() error {
			var price *decimal.Decimal
			if prices != nil {
				if p, ok := prices[venueName]; ok {
					price = &p
				}
			}
			order, err := adapter.PlaceOrder(gctx, venue.PlaceOrderParams{
				Side:         instr.side,
				Quantity:     c.enriched.Amount,
				Type:         venue.Market,
				TimeInForce:  venue.GoodTilCancel,
				Price:        price,
				PositionSide: routeSide,
			})
			mu.Lock()
			orders[venueName] = order
			errs[venueName] = err
			mu.Unlock()
			if err != nil {
				c.log.Error().Err(err).Str("venue", venueName).Msg("order placement failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return orders, errs
}

// rejectedExchanges returns venue names whose order failed outright or
// came back REJECTED.
func (c *Coordinator) rejectedExchanges(orders map[string]venue.Order, errs map[string]error) []string {
	var out []string
	for venueName, order := range orders {
		if errs[venueName] != nil || order.Status == venue.StatusRejected {
			out = append(out, venueName)
		}
	}
	return out
}

func (c *Coordinator) otherVenue(venueName string) string {
	for name := range c.enriched.Adapters {
		if name != venueName {
			return name
		}
	}
	return ""
}

// rollbackOrder flattens an unwanted position on venueName by placing its
// closing-side instruction as an immediate market order.
func (c *Coordinator) rollbackOrder(ctx context.Context, venueName string) (venue.Order, error) {
	adapter := c.enriched.Adapters[venueName]
	routeSide := c.enriched.Routes[venueName]
	instr := tradeInstruction[routeSide][1]
	return adapter.PlaceOrder(ctx, venue.PlaceOrderParams{
		Side:         instr.side,
		Quantity:     c.enriched.Amount,
		Type:         venue.Market,
		TimeInForce:  venue.GoodTilCancel,
		PositionSide: routeSide,
	})
}

// waitForFunding blocks until every venue has either confirmed a funding
// credit over its user-data stream or hit its own funding timeout.
func (c *Coordinator) waitForFunding(ctx context.Context) {
	c.log.Info().Msg("waiting for funding")
	stopped := map[string]bool{}
	for len(stopped) < len(c.enriched.Adapters) {
		if ctx.Err() != nil {
			return
		}
		for venueName, adapter := range c.enriched.Adapters {
			if stopped[venueName] {
				continue
			}
			if adapter.FundingTimeout(c.fundingTimeout) {
				c.log.Info().Str("venue", venueName).Msg("funding check closed by timeout")
				stopped[venueName] = true
				continue
			}
			if c.enriched.Sessions[venueName].Reports.FundingCollected() {
				c.log.Info().Str("venue", venueName).Msg("funding check closed by stream")
				stopped[venueName] = true
			}
		}
		if len(stopped) < len(c.enriched.Adapters) {
			time.Sleep(closeWaitPollInterval)
		}
	}
}

// waitForClosePrices polls each venue's own order book — never the other
// venue's — for the closing-side VWAP, summing the USDT delta of both legs
// until it turns non-negative or the deadline since fundingTime passes.
func (c *Coordinator) waitForClosePrices(ctx context.Context, fundingTime time.Time) (map[string]decimal.Decimal, bool) {
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		closePrices := map[string]decimal.Decimal{}
		complete := true
		for venueName, routeSide := range c.enriched.Routes {
			sess := c.enriched.Sessions[venueName]
			closeRoute := tradeInstruction[routeSide][1]
			price, ok := quoteCloseLadder(sess, closeRoute.isAsk, c.enriched.Amount)
			if !ok {
				complete = false
				continue
			}
			closePrices[venueName] = price
		}

		if complete {
			sum, ready := closeWaitingDecision(c.enriched.Routes, c.openPrices(), closePrices, c.enriched.Amount)
			c.log.Debug().Str("sum_delta_usdt", sum.String()).Msg("close delta")
			if ready {
				return closePrices, true
			}
		}

		if time.Since(fundingTime) > closeWaitingDeadline {
			return nil, false
		}

		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(closeWaitPollInterval):
		}
	}
}

func (c *Coordinator) openPrices() map[string]decimal.Decimal {
	opp := c.enriched.Opportunity
	return map[string]decimal.Decimal{
		opp.Venue1: c.enriched.Price1,
		opp.Venue2: c.enriched.Price2,
	}
}

// closeWaitingDecision is the pure scoring step of waitForClosePrices: it
// sums each venue's USDT delta between its open and close price (signed
// by whether that venue is long or short) and reports whether the total
// has turned non-negative.
func closeWaitingDecision(routes venue.ExchangeRoutes, openPrices, closePrices map[string]decimal.Decimal, amount decimal.Decimal) (decimal.Decimal, bool) {
	sum := decimal.Zero
	for venueName, side := range routes {
		open, close := openPrices[venueName], closePrices[venueName]
		var delta decimal.Decimal
		if side == venue.PositionLong {
			delta = amount.Mul(close.Sub(open))
		} else {
			delta = amount.Mul(open.Sub(close))
		}
		sum = sum.Add(delta)
	}
	return sum, sum.GreaterThanOrEqual(decimal.Zero)
}

// collectFundingFees fetches each venue's funding-fee income since
// slightly before the trade opened.
func (c *Coordinator) collectFundingFees(ctx context.Context, startTime time.Time) map[string]decimal.Decimal {
	startMs := startTime.UnixMilli() - 60_000
	endMs := time.Now().UnixMilli() + 60_000
	fees := map[string]decimal.Decimal{}
	for venueName, adapter := range c.enriched.Adapters {
		incomes, err := adapter.GetIncomeHistory(ctx, &startMs, &endMs)
		if err != nil {
			c.log.Warn().Err(err).Str("venue", venueName).Msg("failed to fetch funding fees")
			continue
		}
		total := decimal.Zero
		for _, inc := range incomes {
			if inc.Kind == venue.IncomeFundingFee {
				total = total.Add(inc.Amount)
			}
		}
		fees[venueName] = total
		c.log.Info().Str("venue", venueName).Str("funding_fee", total.String()).Msg("funding fee")
	}
	return fees
}

// collectPnL sums every income record (PnL, funding, commission) across
// both venues between startTime and endTime.
func (c *Coordinator) collectPnL(ctx context.Context, startTime, endTime time.Time) decimal.Decimal {
	startMs := startTime.UnixMilli() - 60_000
	endMs := endTime.UnixMilli() + 60_000
	total := decimal.Zero
	for venueName, adapter := range c.enriched.Adapters {
		incomes, err := adapter.GetIncomeHistory(ctx, &startMs, &endMs)
		if err != nil {
			c.log.Warn().Err(err).Str("venue", venueName).Msg("failed to fetch pnl income")
			continue
		}
		for _, inc := range incomes {
			total = total.Add(inc.Amount)
		}
	}
	return total
}

func (c *Coordinator) journalTrade(ctx context.Context, openOrders, closeOrders map[string]venue.Order, fundingFees map[string]decimal.Decimal, totalPnL decimal.Decimal, startTs, endTs time.Time) error {
	opp := c.enriched.Opportunity
	leg1 := c.legOrders(ctx, opp.Venue1, openOrders, closeOrders)
	leg2 := c.legOrders(ctx, opp.Venue2, openOrders, closeOrders)

	_, err := c.journal.InsertTrade(
		opp.Symbol1,
		leg1, string(c.enriched.Routes[opp.Venue1]), journal.LegFunding{Rate: opp.FundingRate1, Fee: fundingFees[opp.Venue1]},
		leg2, string(c.enriched.Routes[opp.Venue2]), journal.LegFunding{Rate: opp.FundingRate2, Fee: fundingFees[opp.Venue2]},
		totalPnL, startTs, endTs,
	)
	return err
}

func (c *Coordinator) legOrders(ctx context.Context, venueName string, openOrders, closeOrders map[string]venue.Order) journal.LegOrders {
	adapter := c.enriched.Adapters[venueName]
	openInfo, err := adapter.GetOrderInfo(ctx, openOrders[venueName])
	if err != nil {
		c.log.Warn().Err(err).Str("venue", venueName).Msg("failed to fetch open order info")
	}
	closeInfo, err := adapter.GetOrderInfo(ctx, closeOrders[venueName])
	if err != nil {
		c.log.Warn().Err(err).Str("venue", venueName).Msg("failed to fetch close order info")
	}
	return journal.LegOrders{
		Open:  orderInfoToJournalOrder(venueName, openInfo, c.enriched.Leverage),
		Close: orderInfoToJournalOrder(venueName, closeInfo, c.enriched.Leverage),
	}
}

func orderInfoToJournalOrder(venueName string, info venue.OrderInfo, leverage decimal.Decimal) journal.Order {
	return journal.Order{
		Venue:            venueName,
		VenueOrderID:     info.OrderID,
		Side:             string(info.Side),
		ContractQuantity: info.BaseQty,
		Leverage:         leverage,
		AvgPrice:         info.AvgPrice,
		FeeAmount:        info.Commission,
		QuoteAmount:      info.QuoteQty,
		TradeTime:        info.FillTime,
	}
}

// journalFailedTrade records an aborted trade: the surviving venue's real
// open and rollback orders, and zeroed mock open/close orders standing in
// for the exchange whose open attempt was rejected, matching the
// original's report_failed_trade_to_db behavior.
func (c *Coordinator) journalFailedTrade(ctx context.Context, survivor string, openOrder, rollbackOrder venue.Order, startTs time.Time) error {
	opp := c.enriched.Opportunity
	rejected := c.otherVenue(survivor)

	survivorOpenInfo, _ := c.enriched.Adapters[survivor].GetOrderInfo(ctx, openOrder)
	survivorCloseInfo, _ := c.enriched.Adapters[survivor].GetOrderInfo(ctx, rollbackOrder)

	survivorLeg := journal.LegOrders{
		Open:  orderInfoToJournalOrder(survivor, survivorOpenInfo, c.enriched.Leverage),
		Close: orderInfoToJournalOrder(survivor, survivorCloseInfo, c.enriched.Leverage),
	}
	rejectedLeg := journal.LegOrders{
		Open:  journal.Order{Venue: rejected, Side: "SELL", TradeTime: startTs},
		Close: journal.Order{Venue: rejected, Side: "SELL", TradeTime: startTs},
	}

	endTs := time.Now()
	totalPnL := c.collectPnL(ctx, startTs, endTs)

	var survivorFirst bool
	if opp.Venue1 == survivor {
		survivorFirst = true
	}

	if survivorFirst {
		_, err := c.journal.InsertTrade(opp.Symbol1,
			survivorLeg, string(c.enriched.Routes[survivor]), journal.LegFunding{},
			rejectedLeg, "SHORT", journal.LegFunding{},
			totalPnL, startTs, endTs)
		return err
	}
	_, err := c.journal.InsertTrade(opp.Symbol1,
		rejectedLeg, "SHORT", journal.LegFunding{},
		survivorLeg, string(c.enriched.Routes[survivor]), journal.LegFunding{},
		totalPnL, startTs, endTs)
	return err
}

// quoteCloseLadder reads the VWAP for closing amount off whichever ladder
// the closing order will execute against.
func quoteCloseLadder(sess *venue.Session, isAsk bool, amount decimal.Decimal) (decimal.Decimal, bool) {
	if isAsk {
		_, avgPrice, _, ok := sess.Book.Calculate("BUY", amount)
		return avgPrice, ok
	}
	_, avgPrice, _, ok := sess.Book.Calculate("SELL", amount)
	return avgPrice, ok
}
