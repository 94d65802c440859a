// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/btcnode/btcnode/chainhash"
)

// MsgGetBlocks implements the Message interface. Like getheaders, it
// carries a block locator and a stop hash, but asks the peer to answer
// with an inv of block hashes rather than a headers batch.
type MsgGetBlocks struct {
	ProtocolVersion    uint32
	BlockLocatorHashes []*chainhash.Hash
	HashStop           chainhash.Hash
}

// AddBlockLocatorHash adds a new block locator hash to the message.
func (msg *MsgGetBlocks) AddBlockLocatorHash(hash *chainhash.Hash) error {
	gh := MsgGetHeaders{BlockLocatorHashes: msg.BlockLocatorHashes}
	if err := gh.AddBlockLocatorHash(hash); err != nil {
		return err
	}
	msg.BlockLocatorHashes = gh.BlockLocatorHashes
	return nil
}

// BtcDecode is part of the Message interface implementation.
func (msg *MsgGetBlocks) BtcDecode(r io.Reader, pver uint32) error {
	gh := &MsgGetHeaders{}
	if err := gh.BtcDecode(r, pver); err != nil {
		return err
	}
	msg.ProtocolVersion = gh.ProtocolVersion
	msg.BlockLocatorHashes = gh.BlockLocatorHashes
	msg.HashStop = gh.HashStop
	return nil
}

// BtcEncode is part of the Message interface implementation.
func (msg *MsgGetBlocks) BtcEncode(w io.Writer, pver uint32) error {
	gh := &MsgGetHeaders{
		ProtocolVersion:    msg.ProtocolVersion,
		BlockLocatorHashes: msg.BlockLocatorHashes,
		HashStop:           msg.HashStop,
	}
	return gh.BtcEncode(w, pver)
}

// Command returns the protocol command string for the message.
func (msg *MsgGetBlocks) Command() string { return CmdGetBlocks }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgGetBlocks) MaxPayloadLength(pver uint32) uint32 {
	return (&MsgGetHeaders{}).MaxPayloadLength(pver)
}

// NewMsgGetBlocks returns a new empty getblocks message.
func NewMsgGetBlocks(hashStop *chainhash.Hash) *MsgGetBlocks {
	return &MsgGetBlocks{
		ProtocolVersion:    ProtocolVersion,
		BlockLocatorHashes: make([]*chainhash.Hash, 0, MaxBlockLocatorsPerMsg),
		HashStop:           *hashStop,
	}
}
