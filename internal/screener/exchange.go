package screener

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/internal/venue/httpsign"
)

// fundingQuote is one ticker's funding rate as reported by a venue's
// public funding-rate feed.
type fundingQuote struct {
	OriginalSymbol string
	FundingRate    decimal.Decimal
}

// exchange is the lightweight, unauthenticated surface the screener needs
// to rank opportunities across every listed ticker — distinct from
// venue.Adapter, which trades a single already-chosen symbol.
type exchange interface {
	Name() string
	TakerFee() decimal.Decimal
	GetFundingRates(ctx context.Context, quoteAsset string) (map[string]fundingQuote, error)
}

type binanceExchange struct{}

type bybitExchange struct{}

func newBinanceExchange() *binanceExchange { return &binanceExchange{} }
func newBybitExchange() *bybitExchange     { return &bybitExchange{} }

func (b *binanceExchange) Name() string             { return "Binance" }
func (b *binanceExchange) TakerFee() decimal.Decimal { return decimal.NewFromFloat(0.04) }

// binanceBlacklist excludes tickers the venue lists as perpetual but that
// the original screener refuses to trade (illiquid / frequently delisted).
var binanceBlacklist = map[string]bool{"HNTUSDT": true}

func (b *binanceExchange) GetFundingRates(ctx context.Context, quoteAsset string) (map[string]fundingQuote, error) {
	var result []struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
	}
	client := httpsign.NewClient("https://fapi.binance.com")
	resp, err := client.R().SetContext(ctx).SetResult(&result).Get("/fapi/v1/premiumIndex")
	if err != nil {
		return nil, fmt.Errorf("binance funding rates: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("binance funding rates: status %d", resp.StatusCode())
	}
	out := map[string]fundingQuote{}
	for _, p := range result {
		if quoteAsset != "" && !strings.HasSuffix(p.Symbol, quoteAsset) {
			continue
		}
		if binanceBlacklist[p.Symbol] {
			continue
		}
		rate, err := decimal.NewFromString(p.LastFundingRate)
		if err != nil {
			continue
		}
		out[p.Symbol] = fundingQuote{OriginalSymbol: p.Symbol, FundingRate: rate.Mul(decimal.NewFromInt(100))}
	}
	return out, nil
}

func (b *bybitExchange) Name() string             { return "ByBit" }
func (b *bybitExchange) TakerFee() decimal.Decimal { return decimal.NewFromFloat(0.06) }

func (b *bybitExchange) GetFundingRates(ctx context.Context, quoteAsset string) (map[string]fundingQuote, error) {
	var result struct {
		Result struct {
			List []struct {
				Symbol      string `json:"symbol"`
				FundingRate string `json:"fundingRate"`
			} `json:"list"`
		} `json:"result"`
	}
	client := httpsign.NewClient("https://api.bybit.com")
	resp, err := client.R().SetContext(ctx).
		SetQueryParam("category", "linear").
		SetResult(&result).
		Get("/derivatives/v3/public/tickers")
	if err != nil {
		return nil, fmt.Errorf("bybit funding rates: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("bybit funding rates: status %d", resp.StatusCode())
	}
	out := map[string]fundingQuote{}
	for _, p := range result.Result.List {
		if quoteAsset != "" && !strings.HasSuffix(p.Symbol, quoteAsset) {
			continue
		}
		rate, err := decimal.NewFromString(p.FundingRate)
		if err != nil {
			continue
		}
		out[p.Symbol] = fundingQuote{OriginalSymbol: p.Symbol, FundingRate: rate.Mul(decimal.NewFromInt(100))}
	}
	return out, nil
}
