// Package journal persists settled funding-arbitrage trades: two open
// orders, two close orders, two positions (one per venue leg), and one
// trade row linking them, written in a single transaction so a partial
// failure never leaves a trade half-recorded.
package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Journal wraps the GORM handle used to persist trade history.
type Journal struct {
	db *gorm.DB
}

// Order is one venue fill, either the position-opening or position-closing
// leg of one arbitrage position.
type Order struct {
	ID               uint64 `gorm:"primaryKey;autoIncrement"`
	Venue            string `gorm:"index"`
	VenueOrderID     string
	Side             string // BUY or SELL
	ContractQuantity decimal.Decimal `gorm:"type:decimal(26,16)"`
	Leverage         decimal.Decimal `gorm:"type:decimal(10,2)"`
	AvgPrice         decimal.Decimal `gorm:"type:decimal(26,16)"`
	FeeAmount        decimal.Decimal `gorm:"type:decimal(26,16)"`
	QuoteAmount      decimal.Decimal `gorm:"type:decimal(26,16)"`
	TradeTime        time.Time
}

// Position is one venue's leg of an arbitrage trade: its opening and
// closing orders plus the funding it collected while held.
type Position struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	PositionSide string // LONG or SHORT
	OpenOrderID  uint64 `gorm:"index"`
	CloseOrderID uint64 `gorm:"index"`
	FundingRate  decimal.Decimal `gorm:"type:decimal(26,16)"`
	FundingFee   decimal.Decimal `gorm:"type:decimal(26,16)"`
}

// Trade links the two positions of one funding-arbitrage round trip and
// records its realized PnL.
type Trade struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Ticker      string `gorm:"index"`
	PositionID1 uint64 `gorm:"index"`
	PositionID2 uint64 `gorm:"index"`
	PnL         decimal.Decimal `gorm:"type:decimal(20,6)"`
	EntryTime   time.Time
	CloseTime   time.Time
}

// New opens (and auto-migrates) the trade journal at connectionString. A
// "postgres://" or "postgresql://" prefix selects Postgres; anything else
// is treated as a SQLite file path.
func New(connectionString string) (*Journal, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(connectionString, "postgres://") || strings.HasPrefix(connectionString, "postgresql://") {
		db, err = gorm.Open(postgres.Open(connectionString), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres journal: %w", err)
		}
		log.Info().Msg("trade journal connected (postgres)")
	} else {
		if dir := filepath.Dir(connectionString); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create journal dir: %w", err)
			}
		}
		db, err = gorm.Open(sqlite.Open(connectionString), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		log.Info().Str("path", connectionString).Msg("trade journal initialized (sqlite)")
	}

	if err := db.AutoMigrate(&Order{}, &Position{}, &Trade{}); err != nil {
		return nil, fmt.Errorf("migrate journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// LegOrders is the open/close order pair for one venue leg of a trade.
type LegOrders struct {
	Open  Order
	Close Order
}

// LegFunding is the funding rate and collected funding fee for one venue
// leg, recorded alongside its position row.
type LegFunding struct {
	Rate decimal.Decimal
	Fee  decimal.Decimal
}

// InsertTrade writes four orders, two positions, and one trade row in a
// single transaction: the whole record commits or none of it does.
func (j *Journal) InsertTrade(
	ticker string,
	leg1 LegOrders, leg1Side string, leg1Funding LegFunding,
	leg2 LegOrders, leg2Side string, leg2Funding LegFunding,
	pnl decimal.Decimal, entryTime, closeTime time.Time,
) (*Trade, error) {
	var trade Trade

	err := j.db.Transaction(func(tx *gorm.DB) error {
		pos1, err := insertLeg(tx, leg1, leg1Side, leg1Funding)
		if err != nil {
			return fmt.Errorf("leg 1: %w", err)
		}
		pos2, err := insertLeg(tx, leg2, leg2Side, leg2Funding)
		if err != nil {
			return fmt.Errorf("leg 2: %w", err)
		}

		trade = Trade{
			Ticker:      ticker,
			PositionID1: pos1.ID,
			PositionID2: pos2.ID,
			PnL:         pnl,
			EntryTime:   entryTime,
			CloseTime:   closeTime,
		}
		if err := tx.Create(&trade).Error; err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func insertLeg(tx *gorm.DB, leg LegOrders, side string, funding LegFunding) (*Position, error) {
	if err := tx.Create(&leg.Open).Error; err != nil {
		return nil, fmt.Errorf("insert open order: %w", err)
	}
	if err := tx.Create(&leg.Close).Error; err != nil {
		return nil, fmt.Errorf("insert close order: %w", err)
	}
	pos := Position{
		PositionSide: side,
		OpenOrderID:  leg.Open.ID,
		CloseOrderID: leg.Close.ID,
		FundingRate:  funding.Rate,
		FundingFee:   funding.Fee,
	}
	if err := tx.Create(&pos).Error; err != nil {
		return nil, fmt.Errorf("insert position: %w", err)
	}
	return &pos, nil
}
