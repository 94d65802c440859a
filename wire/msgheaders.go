// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/pkg/errors"
)

// MaxBlockHeadersPerMsg is the maximum number of block headers that can be
// in a single headers message, per spec §4.D.
const MaxBlockHeadersPerMsg = 2000

// MsgHeaders implements the Message interface and is a peer's reply to
// getheaders: up to MaxBlockHeadersPerMsg headers in chain order. A reply
// shorter than MaxBlockHeadersPerMsg signals that header sync has reached
// the peer's tip.
type MsgHeaders struct {
	Headers []*BlockHeader
}

// AddBlockHeader adds a new block header to the message.
func (msg *MsgHeaders) AddBlockHeader(bh *BlockHeader) error {
	if len(msg.Headers)+1 > MaxBlockHeadersPerMsg {
		return errors.Errorf("too many block headers in message [max %d]", MaxBlockHeadersPerMsg)
	}
	msg.Headers = append(msg.Headers, bh)
	return nil
}

// BtcDecode is part of the Message interface implementation.
func (msg *MsgHeaders) BtcDecode(r io.Reader, pver uint32) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > MaxBlockHeadersPerMsg {
		return errors.Errorf("too many block headers for message [%d]", count)
	}

	headers := make([]BlockHeader, count)
	msg.Headers = make([]*BlockHeader, 0, count)
	for i := uint64(0); i < count; i++ {
		bh := &headers[i]
		if err := readBlockHeader(r, bh); err != nil {
			return err
		}

		// Bitcoin's wire format tacks on a transaction count of 0 after
		// every header in a headers message, to reuse the block decoder.
		txCount, err := ReadVarInt(r)
		if err != nil {
			return err
		}
		if txCount != 0 {
			return errors.Errorf("block header transaction count of %d is not zero", txCount)
		}

		if err := msg.AddBlockHeader(bh); err != nil {
			return err
		}
	}
	return nil
}

// BtcEncode is part of the Message interface implementation.
func (msg *MsgHeaders) BtcEncode(w io.Writer, pver uint32) error {
	count := len(msg.Headers)
	if count > MaxBlockHeadersPerMsg {
		return errors.Errorf("too many block headers for message [%d]", count)
	}

	if err := WriteVarInt(w, uint64(count)); err != nil {
		return err
	}
	for _, bh := range msg.Headers {
		if err := writeBlockHeader(w, bh); err != nil {
			return err
		}
		if err := WriteVarInt(w, 0); err != nil {
			return err
		}
	}
	return nil
}

// Command returns the protocol command string for the message.
func (msg *MsgHeaders) Command() string { return CmdHeaders }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgHeaders) MaxPayloadLength(pver uint32) uint32 {
	return uint32(VarIntSerializeSize(MaxBlockHeadersPerMsg)) +
		((BlockHeaderPayload + 1) * MaxBlockHeadersPerMsg)
}

// NewMsgHeaders returns a new empty headers message.
func NewMsgHeaders() *MsgHeaders {
	return &MsgHeaders{Headers: make([]*BlockHeader, 0, MaxBlockHeadersPerMsg)}
}
