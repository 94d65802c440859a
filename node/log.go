package node

import "github.com/btcnode/btcnode/infrastructure/logger"

var log = logger.Disabled

// UseLogger sets the package-wide logger used by the controller.
func UseLogger(logger *logger.Logger) {
	log = logger
}
