package wire

import "github.com/pkg/errors"

// Sentinel decode errors. The peer session disconnects on any of these
// except ErrUnknownCommand, per spec §4.A.
var (
	// ErrBadMagic is returned when an envelope's magic does not match the
	// configured network.
	ErrBadMagic = errors.New("bad magic")

	// ErrBadChecksum is returned when a payload's checksum does not match
	// the envelope.
	ErrBadChecksum = errors.New("bad checksum")

	// ErrTruncated is returned when fewer bytes were available than the
	// envelope or payload length required.
	ErrTruncated = errors.New("truncated message")

	// ErrOversizePayload is returned when a payload length exceeds
	// MaxMessagePayload or the per-message maximum.
	ErrOversizePayload = errors.New("oversize payload")

	// ErrUnknownField is returned when a payload fails to decode into its
	// expected fields.
	ErrUnknownField = errors.New("unknown field")

	// ErrUnknownCommand is not fatal: the message is logged and dropped.
	ErrUnknownCommand = errors.New("unknown command")
)
