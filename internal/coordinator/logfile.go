package coordinator

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// newTradeLogger opens a dedicated log file for one coordinator instance
// (named by venue1, venue2, symbol and the UTC start time, matching the
// original's per-TradeLogic file handler) and fans its output out to both
// that file and the process-wide console writer.
func newTradeLogger(consoleWriter io.Writer, venue1, venue2, symbol string) (zerolog.Logger, *os.File, error) {
	name := fmt.Sprintf("trade_coordinator_%s_%s_%s_%s.log", venue1, venue2, symbol, time.Now().UTC().Format("02-01-2006_15_04_05"))
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("open trade log file %s: %w", name, err)
	}

	multi := zerolog.MultiLevelWriter(consoleWriter, f)
	logger := zerolog.New(multi).With().
		Timestamp().
		Str("venue1", venue1).
		Str("venue2", venue2).
		Str("symbol", symbol).
		Logger()
	return logger, f, nil
}
