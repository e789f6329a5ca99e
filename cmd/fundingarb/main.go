// fundingarb - Funding Rate Arbitrage Executor for Binance and ByBit
// perpetual futures.
//
// Architecture: Screener → Enricher → Coordinator → Journal
// - Screener scores every common ticker's funding-rate delta
// - Enricher sizes, routes, and leverages the winning opportunities
// - Coordinator drives each trade through its open/hold/close lifecycle
// - Journal persists the settled result once a trade completes
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/fundingarb/internal/alert"
	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/internal/coordinator"
	"github.com/web3guy0/fundingarb/internal/enricher"
	"github.com/web3guy0/fundingarb/internal/journal"
	"github.com/web3guy0/fundingarb/internal/screener"
	"github.com/web3guy0/fundingarb/internal/venue"
	"github.com/web3guy0/fundingarb/internal/venue/binance"
	"github.com/web3guy0/fundingarb/internal/venue/bybit"
)

const version = "1.0.0"

const quoteAsset = "USDT"

// defaultConfigPath is used when no config path is given on the command
// line, matching the Python original's hardcoded filename.
const defaultConfigPath = "main_config.json"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file found, using environment variables")
	}

	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, creds, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Str("version", version).Str("quote_asset", quoteAsset).Msg("fundingarb starting")

	j, err := journal.New(cfg.DBConnectionString)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open journal")
	}

	alertBot, err := alert.New(cfg.BotToken, cfg.ChatID, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telegram alert bot")
	}
	alertBot.SendTextMessagef("fundingarb %s starting up", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scr := screener.New(log.Logger)
	enr := enricher.New(adapterFactory, log.Logger)

	venueCreds := make(map[string]venue.Credentials, len(creds))
	for name, c := range creds {
		venueCreds[name] = venue.Credentials{APIKey: c.APIKey, APISecret: c.APISecret}
	}

	opportunities, err := scr.FindArbitrage(ctx, quoteAsset)
	if err != nil {
		log.Fatal().Err(err).Msg("screener scan failed")
	}

	var wg sync.WaitGroup
	for _, opp := range opportunities {
		enriched, err := enr.Enrich(ctx, opp, cfg.USDTAmount, cfg.Leverage, venueCreds)
		if err != nil {
			log.Error().Err(err).Str("symbol", opp.Symbol1).Msg("failed to enrich opportunity")
			continue
		}

		if enriched.EstimatedPnLPercent.LessThanOrEqual(cfg.EstimatedPnL) {
			log.Info().
				Str("venue1", opp.Venue1).Str("venue2", opp.Venue2).
				Str("symbol", opp.Symbol1).
				Str("estimated_pnl_percent", enriched.EstimatedPnLPercent.String()).
				Msg("opportunity below estimated PnL threshold, skipping")
			continue
		}

		coord, err := coordinator.New(os.Stderr, enriched, cfg.FundingTimeoutSecs, j, alertBot)
		if err != nil {
			log.Error().Err(err).Msg("failed to build trade coordinator")
			continue
		}

		wg.Add(1)
		go func(c *coordinator.Coordinator) {
			defer wg.Done()
			defer c.Close()
			state, err := c.Run(ctx)
			if err != nil {
				log.Error().Err(err).Str("state", string(state)).Msg("trade coordinator exited with error")
				return
			}
			log.Info().Str("state", string(state)).Msg("trade coordinator finished")
		}(coord)
	}

	log.Info().Int("trades", len(opportunities)).Msg("all trade coordinators launched")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down, waiting for in-flight trades to settle")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown grace period elapsed with trades still in flight")
	}

	alertBot.SendTextMessage("fundingarb shutting down")
	log.Info().Msg("goodbye")
}

// adapterFactory bridges the venue-neutral credentials map the enricher
// works with to the concrete Binance/ByBit constructors, so neither the
// enricher nor the coordinator ever imports a venue's wire format.
func adapterFactory(venueName, symbol string, creds venue.Credentials, logger zerolog.Logger) (venue.Adapter, error) {
	switch venueName {
	case "Binance":
		return binance.New(symbol, creds, logger), nil
	case "ByBit":
		return bybit.New(symbol, creds, logger), nil
	default:
		return nil, unsupportedVenueError(venueName)
	}
}

type unsupportedVenueError string

func (e unsupportedVenueError) Error() string {
	return "unsupported venue: " + string(e)
}
