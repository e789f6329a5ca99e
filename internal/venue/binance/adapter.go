// Package binance implements the Binance USDⓈ-M Futures venue adapter:
// signed REST calls for account/order/position management and a streaming
// session for live depth and user-data updates.
package binance

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/internal/venue"
	"github.com/web3guy0/fundingarb/internal/venue/httpsign"
)

// fundingTimes are the three daily UTC funding settlements, expressed as
// seconds since midnight.
var fundingTimes = []int{0, 28800, 57600}

const (
	baseURL   = "https://fapi.binance.com"
	publicURL = "https://fapi.binance.com"
)

// Adapter is the Binance implementation of venue.Adapter for one symbol.
type Adapter struct {
	http       *resty.Client
	apiKey     string
	apiSecret  string
	symbol     string
	recvWindow int
	log        zerolog.Logger
}

// New constructs a Binance adapter for symbol, authenticated with creds.
func New(symbol string, creds venue.Credentials, log zerolog.Logger) *Adapter {
	return &Adapter{
		http:       httpsign.NewClient(baseURL),
		apiKey:     creds.APIKey,
		apiSecret:  creds.APISecret,
		symbol:     symbol,
		recvWindow: 5000,
		log:        log.With().Str("venue", "Binance").Str("symbol", symbol).Logger(),
	}
}

func (a *Adapter) Name() string { return "Binance" }

func (a *Adapter) signedParams(extra url.Values) url.Values {
	if extra == nil {
		extra = url.Values{}
	}
	extra.Set("timestamp", strconv.FormatInt(httpsign.TimestampMs(time.Now()), 10))
	extra.Set("recvWindow", strconv.Itoa(a.recvWindow))
	extra.Set("signature", httpsign.SignQuery(a.apiSecret, extra))
	return extra
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (a *Adapter) GetMultiplier(ctx context.Context) (decimal.Decimal, error) {
	var result struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType string `json:"filterType"`
				StepSize   string `json:"stepSize"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	resp, err := a.http.R().SetContext(ctx).SetResult(&result).Get(publicURL + "/fapi/v1/exchangeInfo")
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance exchangeInfo: %w", err)
	}
	if resp.StatusCode() != 200 {
		return decimal.Zero, fmt.Errorf("binance exchangeInfo: status %d", resp.StatusCode())
	}
	for _, s := range result.Symbols {
		if s.Symbol != a.symbol {
			continue
		}
		for _, f := range s.Filters {
			if f.FilterType == "LOT_SIZE" {
				return decimal.NewFromString(f.StepSize)
			}
		}
	}
	return decimal.Zero, fmt.Errorf("binance: symbol %s not found in exchangeInfo", a.symbol)
}

func (a *Adapter) GetBalances(ctx context.Context) (map[string]venue.Balance, error) {
	var result []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParamsFromValues(a.signedParams(nil)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&result).
		Get("/fapi/v2/balance")
	if err != nil {
		return nil, fmt.Errorf("binance balance: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("binance balance: %s", resp.String())
	}
	out := make(map[string]venue.Balance, len(result))
	for _, b := range result {
		total, _ := decimal.NewFromString(b.Balance)
		avail, _ := decimal.NewFromString(b.AvailableBalance)
		out[b.Asset] = venue.Balance{Total: total, Available: avail}
	}
	return out, nil
}

func (a *Adapter) PlaceOrder(ctx context.Context, p venue.PlaceOrderParams) (venue.Order, error) {
	params := url.Values{
		"symbol":          {a.symbol},
		"side":            {string(p.Side)},
		"type":            {string(p.Type)},
		"quantity":        {p.Quantity.String()},
		"newClientOrderId": {uuid.NewString()},
		"reduceOnly":      {strconv.FormatBool(p.ReduceOnly)},
	}
	if p.Type != venue.Market {
		params.Set("price", p.Price.String())
		params.Set("timeInForce", string(p.TimeInForce))
	}
	if p.StopPrice != nil {
		params.Set("stopPrice", p.StopPrice.String())
	}
	if p.ClosePosition {
		params.Set("closePosition", "true")
	}

	var result struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetFormDataFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&result).
		Post("/fapi/v1/order")
	if err != nil {
		return venue.Order{}, fmt.Errorf("binance place order: %w", err)
	}
	if resp.StatusCode() != 200 {
		var apiErr binanceError
		if jerr := resty.New().JSONUnmarshal(resp.Body(), &apiErr); jerr == nil && apiErr.Code == -2019 {
			// Insufficient margin: the venue rejects outright rather than
			// queuing the order, so surface it as a rejected order rather
			// than an error the coordinator must special-case.
			price := decimal.Zero
			if p.Price != nil {
				price = *p.Price
			}
			return venue.Order{Symbol: a.symbol, Price: price, Status: venue.StatusRejected}, nil
		}
		return venue.Order{}, fmt.Errorf("binance place order: %s", resp.String())
	}

	price := decimal.Zero
	if p.Price != nil {
		price = *p.Price
	}
	order := venue.Order{
		OrderID:       strconv.FormatInt(result.OrderID, 10),
		ClientOrderID: result.ClientOrderID,
		Symbol:        a.symbol,
		Price:         price,
		Status:        venue.OrderStatus(result.Status),
	}
	return a.GetOrderStatus(ctx, order)
}

func (a *Adapter) GetOrderStatus(ctx context.Context, o venue.Order) (venue.Order, error) {
	params := url.Values{"symbol": {a.symbol}, "orderId": {o.OrderID}}
	var result struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Price         string `json:"price"`
		Status        string `json:"status"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParamsFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&result).
		Get("/fapi/v1/openOrder")
	if err != nil {
		return venue.Order{}, fmt.Errorf("binance order status: %w", err)
	}
	if resp.StatusCode() != 200 {
		// Binance reports a filled-and-closed order as "does not exist"
		// on the open-order endpoint; fall back to the historical order
		// endpoint for the true terminal status.
		return a.getHistoricalOrderStatus(ctx, o)
	}
	price, _ := decimal.NewFromString(result.Price)
	return venue.Order{
		OrderID:       strconv.FormatInt(result.OrderID, 10),
		ClientOrderID: result.ClientOrderID,
		Symbol:        a.symbol,
		Price:         price,
		Status:        venue.OrderStatus(result.Status),
	}, nil
}

func (a *Adapter) getHistoricalOrderStatus(ctx context.Context, o venue.Order) (venue.Order, error) {
	params := url.Values{"symbol": {a.symbol}, "orderId": {o.OrderID}}
	var result struct {
		Status string `json:"status"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParamsFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&result).
		Get("/fapi/v1/order")
	if err != nil {
		return venue.Order{}, fmt.Errorf("binance historical order: %w", err)
	}
	if resp.StatusCode() != 200 {
		return venue.Order{}, fmt.Errorf("binance historical order: %s", resp.String())
	}
	out := o
	out.Status = venue.OrderStatus(result.Status)
	return out, nil
}

func (a *Adapter) GetOrderInfo(ctx context.Context, o venue.Order) (venue.OrderInfo, error) {
	params := url.Values{"symbol": {a.symbol}, "orderId": {o.OrderID}}
	var fills []struct {
		QuoteQty     string `json:"quoteQty"`
		Qty          string `json:"qty"`
		Commission   string `json:"commission"`
		PositionSide string `json:"positionSide"`
		Side         string `json:"side"`
		Time         int64  `json:"time"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParamsFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&fills).
		Get("/fapi/v1/userTrades")
	if err != nil {
		return venue.OrderInfo{}, fmt.Errorf("binance order info: %w", err)
	}
	if resp.StatusCode() != 200 {
		return venue.OrderInfo{}, fmt.Errorf("binance order info: %s", resp.String())
	}

	quoteQty, fee, qty := decimal.Zero, decimal.Zero, decimal.Zero
	var side venue.Side
	var posSide venue.PositionSide
	var fillTime time.Time
	for _, f := range fills {
		q, _ := decimal.NewFromString(f.QuoteQty)
		c, _ := decimal.NewFromString(f.Commission)
		k, _ := decimal.NewFromString(f.Qty)
		quoteQty = quoteQty.Add(q)
		fee = fee.Add(c)
		qty = qty.Add(k)
		side = venue.Side(f.Side)
		posSide = venue.PositionSide(f.PositionSide)
		fillTime = time.UnixMilli(f.Time)
	}
	avgPrice := decimal.Zero
	if !qty.IsZero() {
		avgPrice = quoteQty.Div(qty)
	}
	return venue.OrderInfo{
		Order:        o,
		Side:         side,
		AvgPrice:     avgPrice,
		QuoteQty:     quoteQty,
		BaseQty:      qty,
		Commission:   fee,
		FillTime:     fillTime,
		PositionSide: posSide,
	}, nil
}

func (a *Adapter) GetTrades(ctx context.Context, startMs, endMs int64) ([]venue.Trade, error) {
	params := url.Values{
		"symbol":    {a.symbol},
		"startTime": {strconv.FormatInt(startMs, 10)},
		"endTime":   {strconv.FormatInt(endMs, 10)},
	}
	var result []struct {
		Symbol          string `json:"symbol"`
		ID              int64  `json:"id"`
		OrderID         int64  `json:"orderId"`
		Side            string `json:"side"`
		Price           string `json:"price"`
		Qty             string `json:"qty"`
		RealizedPnl     string `json:"realizedPnl"`
		MarginAsset     string `json:"marginAsset"`
		QuoteQty        string `json:"quoteQty"`
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
		Time            int64  `json:"time"`
		PositionSide    string `json:"positionSide"`
		Maker           bool   `json:"maker"`
		Buyer           bool   `json:"buyer"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParamsFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&result).
		Get("/fapi/v1/userTrades")
	if err != nil {
		return nil, fmt.Errorf("binance trades: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("binance trades: %s", resp.String())
	}
	out := make([]venue.Trade, 0, len(result))
	for _, t := range result {
		price, _ := decimal.NewFromString(t.Price)
		qty, _ := decimal.NewFromString(t.Qty)
		pnl, _ := decimal.NewFromString(t.RealizedPnl)
		quoteQty, _ := decimal.NewFromString(t.QuoteQty)
		commission, _ := decimal.NewFromString(t.Commission)
		out = append(out, venue.Trade{
			Symbol:          t.Symbol,
			TradeID:         strconv.FormatInt(t.ID, 10),
			OrderID:         strconv.FormatInt(t.OrderID, 10),
			Side:            venue.Side(t.Side),
			Price:           price,
			Qty:             qty,
			RealizedPnL:     pnl,
			MarginAsset:     t.MarginAsset,
			QuoteQty:        quoteQty,
			Commission:      commission,
			CommissionAsset: t.CommissionAsset,
			Time:            time.UnixMilli(t.Time),
			PositionSide:    venue.PositionSide(t.PositionSide),
			Maker:           t.Maker,
			Buyer:           t.Buyer,
		})
	}
	return out, nil
}

func (a *Adapter) GetPositions(ctx context.Context) ([]venue.Position, error) {
	params := url.Values{"symbol": {a.symbol}}
	var result []struct {
		EntryPrice       string `json:"entryPrice"`
		PositionAmt      string `json:"positionAmt"`
		UnRealizedProfit string `json:"unRealizedProfit"`
		MarkPrice        string `json:"markPrice"`
		LiquidationPrice string `json:"liquidationPrice"`
		Leverage         string `json:"leverage"`
		MarginType       string `json:"marginType"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParamsFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&result).
		Get("/fapi/v2/positionRisk")
	if err != nil {
		return nil, fmt.Errorf("binance positions: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("binance positions: %s", resp.String())
	}
	out := make([]venue.Position, 0, len(result))
	for _, p := range result {
		entry, _ := decimal.NewFromString(p.EntryPrice)
		value, _ := decimal.NewFromString(p.PositionAmt)
		pnl, _ := decimal.NewFromString(p.UnRealizedProfit)
		mark, _ := decimal.NewFromString(p.MarkPrice)
		liq, _ := decimal.NewFromString(p.LiquidationPrice)
		lev, _ := decimal.NewFromString(p.Leverage)
		out = append(out, venue.Position{
			EntryPrice:       entry,
			PositionValue:    value,
			CumPnL:           pnl,
			MarkPrice:        mark,
			LiquidationPrice: liq,
			Leverage:         lev,
			MarginMode:       venue.MarginMode(p.MarginType),
		})
	}
	return out, nil
}

func (a *Adapter) GetIncomeHistory(ctx context.Context, startMs, endMs *int64) ([]venue.Income, error) {
	params := url.Values{"symbol": {a.symbol}}
	if startMs != nil && endMs != nil {
		params.Set("startTime", strconv.FormatInt(*startMs, 10))
		params.Set("endTime", strconv.FormatInt(*endMs, 10))
	}
	var result []struct {
		Symbol     string `json:"symbol"`
		IncomeType string `json:"incomeType"`
		Income     string `json:"income"`
		Asset      string `json:"asset"`
		Time       int64  `json:"time"`
		Info       string `json:"info"`
		TranID     string `json:"tranId"`
		TradeID    string `json:"tradeId"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParamsFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&result).
		Get("/fapi/v1/income")
	if err != nil {
		return nil, fmt.Errorf("binance income: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("binance income: %s", resp.String())
	}
	out := make([]venue.Income, 0, len(result))
	for _, inc := range result {
		amount, _ := decimal.NewFromString(inc.Income)
		out = append(out, venue.Income{
			Symbol:  inc.Symbol,
			Kind:    venue.IncomeKind(inc.IncomeType),
			Amount:  amount,
			Asset:   inc.Asset,
			Time:    time.UnixMilli(inc.Time),
			Info:    inc.Info,
			TranID:  inc.TranID,
			TradeID: inc.TradeID,
		})
	}
	return out, nil
}

func (a *Adapter) GetMaxLeverageForUSDTAmount(ctx context.Context, notional decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	params := url.Values{"symbol": {a.symbol}}
	var result []struct {
		Brackets []struct {
			InitialLeverage int    `json:"initialLeverage"`
			NotionalCap     int64  `json:"notionalCap"`
		} `json:"brackets"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParamsFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		SetResult(&result).
		Get("/fapi/v1/leverageBracket")
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("binance leverage bracket: %w", err)
	}
	if resp.StatusCode() != 200 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("binance leverage bracket: %s", resp.String())
	}
	if len(result) == 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("binance leverage bracket: empty response")
	}
	for _, b := range result[0].Brackets {
		cap := decimal.NewFromInt(b.NotionalCap)
		lev := decimal.NewFromInt(int64(b.InitialLeverage))
		if notional.Mul(lev).LessThan(cap) {
			return lev, decimal.NewFromInt(1), nil
		}
	}
	return decimal.Zero, decimal.Zero, fmt.Errorf("binance leverage bracket: no bracket covers notional %s", notional)
}

func (a *Adapter) CancelOrder(ctx context.Context, o venue.Order) (bool, error) {
	params := url.Values{"symbol": {a.symbol}, "orderId": {o.OrderID}}
	resp, err := a.http.R().SetContext(ctx).
		SetFormDataFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		Delete("/fapi/v1/order")
	if err != nil {
		return false, fmt.Errorf("binance cancel order: %w", err)
	}
	if resp.StatusCode() != 200 {
		return false, fmt.Errorf("binance cancel order: %s", resp.String())
	}
	return true, nil
}

func (a *Adapter) GetFundingRate(ctx context.Context) (decimal.Decimal, error) {
	var result struct {
		LastFundingRate string `json:"lastFundingRate"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParam("symbol", a.symbol).
		SetResult(&result).
		Get(publicURL + "/fapi/v1/premiumIndex")
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance funding rate: %w", err)
	}
	if resp.StatusCode() != 200 {
		return decimal.Zero, fmt.Errorf("binance funding rate: status %d", resp.StatusCode())
	}
	rate, err := decimal.NewFromString(result.LastFundingRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance funding rate: %w", err)
	}
	return rate.Mul(decimal.NewFromInt(100)), nil
}

func (a *Adapter) setLeverage(ctx context.Context, leverage decimal.Decimal) error {
	params := url.Values{"leverage": {leverage.StringFixed(0)}, "symbol": {a.symbol}}
	resp, err := a.http.R().SetContext(ctx).
		SetFormDataFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		Post("/fapi/v1/leverage")
	if err != nil {
		return fmt.Errorf("binance set leverage: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("binance set leverage: %s", resp.String())
	}
	return nil
}

func (a *Adapter) SetMarginTypeAndLeverage(ctx context.Context, mode venue.MarginMode, leverage decimal.Decimal) (bool, error) {
	if err := a.setLeverage(ctx, leverage); err != nil {
		return false, err
	}
	params := url.Values{"marginType": {string(mode)}, "symbol": {a.symbol}}
	resp, err := a.http.R().SetContext(ctx).
		SetFormDataFromValues(a.signedParams(params)).
		SetHeader("X-MBX-APIKEY", a.apiKey).
		Post("/fapi/v1/marginType")
	if err != nil {
		return false, fmt.Errorf("binance set margin type: %w", err)
	}
	if resp.StatusCode() != 200 {
		var apiErr binanceError
		if jerr := resty.New().JSONUnmarshal(resp.Body(), &apiErr); jerr == nil && apiErr.Msg == "No need to change margin type." {
			return true, nil
		}
		return false, fmt.Errorf("binance set margin type: %s", resp.String())
	}
	return true, nil
}

func secondsSinceMidnightUTC(now time.Time) int {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return int(now.Sub(midnight).Seconds())
}

func (a *Adapter) ClosestTimeBeforeFunding(windowSecs int) bool {
	seconds := secondsSinceMidnightUTC(time.Now().UTC())
	for _, ft := range fundingTimes {
		delta := ft - seconds
		if 0 <= delta && delta <= windowSecs+60 {
			return true
		}
	}
	return false
}

func (a *Adapter) FundingTimeout(windowSecs int) bool {
	seconds := secondsSinceMidnightUTC(time.Now().UTC())
	for _, ft := range fundingTimes {
		delta := seconds - ft
		if windowSecs < delta && delta < windowSecs+60 {
			return true
		}
	}
	return false
}
