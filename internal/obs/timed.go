// Package obs holds small cross-cutting observability helpers: today,
// just call-duration logging, used by the screener.
package obs

import (
	"time"

	"github.com/rs/zerolog"
)

// Timed runs fn and logs how long it took under name, mirroring the
// original runtime decorator that wrapped every screener/executor entry
// point with a elapsed-time print.
func Timed(log zerolog.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	log.Debug().Str("op", name).Dur("elapsed", time.Since(start)).Msg("runtime")
	return err
}
