// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"
	"time"

	"github.com/pkg/errors"
)

// MaxUserAgentLen is the maximum allowed length for the user agent field in
// a version message.
const MaxUserAgentLen = 256

// DefaultUserAgentName is the default prefix for a generated user agent.
const DefaultUserAgentName = "/btcnode:0.1.0/"

// MsgVersion implements the Message interface and is exchanged during the
// handshake (spec §4.B): protocol version, services, timestamp, the
// addresses each side believes it is talking to, a nonce for self-connect
// detection, the user agent, the announcing node's header-chain height, and
// a relay flag.
type MsgVersion struct {
	ProtocolVersion uint32
	Services        ServiceFlag
	Timestamp       time.Time
	AddrYou         NetAddress
	AddrMe          NetAddress
	Nonce           uint64
	UserAgent       string
	LastBlock       int32
	DisableRelayTx  bool
}

// HasService returns whether the version message's services field includes
// the provided service.
func (msg *MsgVersion) HasService(service ServiceFlag) bool {
	return msg.Services&service == service
}

// AddService adds service as a supported service.
func (msg *MsgVersion) AddService(service ServiceFlag) {
	msg.Services |= service
}

// BtcDecode decodes r using the Bitcoin protocol encoding into the
// receiver.
func (msg *MsgVersion) BtcDecode(r io.Reader, pver uint32) error {
	if err := readElement(r, &msg.ProtocolVersion); err != nil {
		return err
	}
	if err := readElement(r, &msg.Services); err != nil {
		return err
	}
	var secs int64
	if err := readElement(r, &secs); err != nil {
		return err
	}
	msg.Timestamp = time.Unix(secs, 0)

	if err := readNetAddress(r, &msg.AddrYou, false); err != nil {
		return err
	}
	if err := readNetAddress(r, &msg.AddrMe, false); err != nil {
		return err
	}
	if err := readElement(r, &msg.Nonce); err != nil {
		return err
	}

	userAgent, err := ReadVarString(r, uint64(MaxUserAgentLen))
	if err != nil {
		return err
	}
	if len(userAgent) > MaxUserAgentLen {
		return errors.Errorf("user agent length of %d exceeds maximum of %d", len(userAgent), MaxUserAgentLen)
	}
	msg.UserAgent = userAgent

	if err := readElement(r, &msg.LastBlock); err != nil {
		return err
	}

	// RelayTx is optional for backwards compatibility with very old peers.
	var relayTx bool
	err = readElement(r, &relayTx)
	msg.DisableRelayTx = !relayTx
	if err != nil {
		msg.DisableRelayTx = false
	}
	return nil
}

// BtcEncode encodes the receiver to w using the Bitcoin protocol encoding.
func (msg *MsgVersion) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeElement(w, msg.ProtocolVersion); err != nil {
		return err
	}
	if err := writeElement(w, msg.Services); err != nil {
		return err
	}
	if err := writeElement(w, msg.Timestamp.Unix()); err != nil {
		return err
	}
	if err := writeNetAddress(w, &msg.AddrYou, false); err != nil {
		return err
	}
	if err := writeNetAddress(w, &msg.AddrMe, false); err != nil {
		return err
	}
	if err := writeElement(w, msg.Nonce); err != nil {
		return err
	}
	if err := WriteVarString(w, msg.UserAgent); err != nil {
		return err
	}
	if err := writeElement(w, msg.LastBlock); err != nil {
		return err
	}
	return writeElement(w, !msg.DisableRelayTx)
}

// Command returns the protocol command string for the message.
func (msg *MsgVersion) Command() string {
	return CmdVersion
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgVersion) MaxPayloadLength(pver uint32) uint32 {
	return 4 + 8 + 8 + maxNetAddressPayload()*2 + 8 + uint32(VarIntSerializeSize(uint64(MaxUserAgentLen))) +
		uint32(MaxUserAgentLen) + 4 + 1
}

// NewMsgVersion returns a new version message using the provided parameters
// and defaults for the remaining fields.
func NewMsgVersion(me, you *NetAddress, nonce uint64, lastBlock int32, userAgent string) *MsgVersion {
	return &MsgVersion{
		ProtocolVersion: uint32(ProtocolVersion),
		Services:        0,
		Timestamp:       time.Unix(time.Now().Unix(), 0),
		AddrYou:         *you,
		AddrMe:          *me,
		Nonce:           nonce,
		UserAgent:       userAgent,
		LastBlock:       lastBlock,
		DisableRelayTx:  false,
	}
}
