// Package testlog gives tests the same zerolog setup as the binaries.
package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/handstream/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures test logging and brackets t with start and finish lines.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	began := time.Now()
	log.Debug().Str("test", t.Name()).Msg("test start")
	t.Cleanup(func() {
		log.Debug().
			Str("test", t.Name()).
			Bool("failed", t.Failed()).
			Dur("elapsed", time.Since(began)).
			Msg("test done")
	})
}
