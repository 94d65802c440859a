package node

import "fmt"

// ErrKind is the closed set of error kinds spec §7 enumerates. It is a
// type, not a string, so callers switch on it rather than matching
// messages (grounded on the Rust original's custom_errors.rs, which
// draws the same line, per SPEC_FULL.md §7).
type ErrKind int

const (
	// ErrCodec is malformed wire data.
	ErrCodec ErrKind = iota
	// ErrHandshake is a version/verack mismatch or handshake timeout.
	ErrHandshake
	// ErrPeerIO is a socket error.
	ErrPeerIO
	// ErrValidation is a PoW, Merkle root, script, or missing-UTXO failure.
	ErrValidation
	// ErrPersistence is a headers file unreadable or corrupt.
	ErrPersistence
	// ErrConfig is a missing or malformed configuration option.
	ErrConfig
	// ErrUnsupported covers behavior this node declines to implement, e.g.
	// a reorg deeper than one block (spec §4.J, §9 open question (a)).
	ErrUnsupported
)

func (k ErrKind) String() string {
	switch k {
	case ErrCodec:
		return "Codec"
	case ErrHandshake:
		return "Handshake"
	case ErrPeerIO:
		return "PeerIO"
	case ErrValidation:
		return "Validation"
	case ErrPersistence:
		return "Persistence"
	case ErrConfig:
		return "Config"
	case ErrUnsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// NodeError carries a Kind alongside the wrapped cause so callers can
// switch on Kind without string matching (spec §7).
type NodeError struct {
	Kind  ErrKind
	Cause error
}

func (e *NodeError) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *NodeError) Unwrap() error { return e.Cause }

// NewError wraps cause with kind.
func NewError(kind ErrKind, cause error) *NodeError {
	return &NodeError{Kind: kind, Cause: cause}
}

// UnsupportedReorg is the specific NodeError published when the
// controller detects a reorg deeper than one block (spec §4.J, §9 open
// question (a) decided in favor of a distinct error rather than silent
// divergence).
func UnsupportedReorg(depth int) *NodeError {
	return NewError(ErrUnsupported, fmt.Errorf("reorg of depth %d is unsupported", depth))
}
