// Package config loads the two JSON files the executor reads at
// startup: the main config (trade sizing, leverage, alert routing,
// journal connection string) and the credentials file it points at
// (one API key pair and symbol mapping per venue).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// Config is the top-level main_config.json document.
type Config struct {
	CredentialsJSON     string          `json:"credentials_json"`
	USDTAmount          decimal.Decimal `json:"usdt_amount"`
	Leverage            decimal.Decimal `json:"leverage"`
	EstimatedPnL        decimal.Decimal `json:"estimated_pnl"`
	ChatID              int64           `json:"chatid"`
	BotToken            string          `json:"bot_token"`
	FundingTimeoutSecs  int             `json:"funding_timeout_secs"`
	DBConnectionString  string          `json:"db_connection_string"`
}

// VenueCredentials is one venue's entry in the credentials file.
type VenueCredentials struct {
	APIKey            string `json:"api_key"`
	APISecret         string `json:"api_sec"`
	Symbol            string `json:"symbol"`
	RecvWindow        int    `json:"recv_window"`
	BaseURL           string `json:"base_url"`
	WebsocketsBaseURL string `json:"websockets_base_url"`
}

// Credentials maps a venue name ("Binance", "ByBit") to its API key pair
// and trading symbol.
type Credentials map[string]VenueCredentials

// Load reads configPath (main_config.json) and the credentials file it
// names, matching the original's two-file json.load() pair in main.py.
func Load(configPath string) (*Config, Credentials, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read config %s: %w", configPath, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse config %s: %w", configPath, err)
	}
	if cfg.CredentialsJSON == "" {
		return nil, nil, fmt.Errorf("config %s missing credentials_json", configPath)
	}

	credRaw, err := os.ReadFile(cfg.CredentialsJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("read credentials %s: %w", cfg.CredentialsJSON, err)
	}
	var creds Credentials
	if err := json.Unmarshal(credRaw, &creds); err != nil {
		return nil, nil, fmt.Errorf("parse credentials %s: %w", cfg.CredentialsJSON, err)
	}

	return &cfg, creds, nil
}
