// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import "io"

// MsgSendHeaders implements the Message interface. It carries no payload
// and asks the peer to push future tip extensions as headers messages
// instead of advertising them via inv, per spec §4.D.
type MsgSendHeaders struct{}

// BtcDecode is part of the Message interface implementation.
func (msg *MsgSendHeaders) BtcDecode(r io.Reader, pver uint32) error {
	return nil
}

// BtcEncode is part of the Message interface implementation.
func (msg *MsgSendHeaders) BtcEncode(w io.Writer, pver uint32) error {
	return nil
}

// Command returns the protocol command string for the message.
func (msg *MsgSendHeaders) Command() string {
	return CmdSendHeaders
}

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgSendHeaders) MaxPayloadLength(pver uint32) uint32 {
	return 0
}

// NewMsgSendHeaders returns a new sendheaders message.
func NewMsgSendHeaders() *MsgSendHeaders {
	return &MsgSendHeaders{}
}
