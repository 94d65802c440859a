package connmgr

import (
	"time"

	"github.com/btcnode/btcnode/infrastructure/logger"
)

var log = logger.Disabled

// UseLogger sets the package-wide logger used by connmgr. By default the
// package logs nothing.
func UseLogger(logger *logger.Logger) {
	log = logger
}

func spawn(f func()) {
	go f()
}

func spawnAfter(duration time.Duration, f func()) {
	time.AfterFunc(duration, f)
}
