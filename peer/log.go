package peer

import (
	"fmt"
	"time"

	"github.com/btcnode/btcnode/infrastructure/logger"
	"github.com/btcnode/btcnode/wire"
)

var log = logger.Disabled

// UseLogger sets the package-wide logger used by peer. By default the
// package logs nothing.
func UseLogger(logger *logger.Logger) {
	log = logger
}

func spawn(f func()) {
	go f()
}

func spawnAfter(duration time.Duration, f func()) *time.Timer {
	return time.AfterFunc(duration, f)
}

// messageSummary returns a human-readable string summarizing the
// interesting fields of a message for logging, or the empty string if
// the message has no information worth logging beyond its command.
func messageSummary(msg wire.Message) string {
	switch m := msg.(type) {
	case *wire.MsgVersion:
		return fmt.Sprintf("agent %s, pver %d, block %d", m.UserAgent,
			m.ProtocolVersion, m.LastBlock)

	case *wire.MsgPing:
		return fmt.Sprintf("nonce %d", m.Nonce)

	case *wire.MsgPong:
		return fmt.Sprintf("nonce %d", m.Nonce)

	case *wire.MsgGetHeaders:
		return fmt.Sprintf("stop %s, %d locators", m.HashStop, len(m.BlockLocatorHashes))

	case *wire.MsgHeaders:
		return fmt.Sprintf("%d headers", len(m.Headers))

	case *wire.MsgGetBlocks:
		return fmt.Sprintf("stop %s, %d locators", m.HashStop, len(m.BlockLocatorHashes))

	case *wire.MsgInv:
		return fmt.Sprintf("%d invs", len(m.InvList))

	case *wire.MsgGetData:
		return fmt.Sprintf("%d items", len(m.InvList))

	case *wire.MsgNotFound:
		return fmt.Sprintf("%d items", len(m.InvList))

	case *wire.MsgBlock:
		return fmt.Sprintf("hash %s, %d tx", m.BlockHash(), len(m.Transactions))

	case *wire.MsgTx:
		return fmt.Sprintf("%d in, %d out", len(m.TxIn), len(m.TxOut))
	}
	return ""
}
