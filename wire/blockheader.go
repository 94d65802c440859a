// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"io"
	"time"

	"github.com/btcnode/btcnode/chainhash"
)

// BlockHeaderPayload is the number of bytes a block header occupies on the
// wire: 4 (version) + 32 (previous hash) + 32 (merkle root) + 4
// (timestamp) + 4 (nBits) + 4 (nonce), per spec §3.
const BlockHeaderPayload = 80

// BlockHeader defines the 80-byte summary carried in the block message and
// each entry of the headers message.
type BlockHeader struct {
	// Version of the block. Not the same as the protocol version.
	Version int32

	// PrevBlock is the hash of the previous block header in the chain.
	PrevBlock chainhash.Hash

	// MerkleRoot is the root hash of the merkle tree over the block's
	// transaction ids.
	MerkleRoot chainhash.Hash

	// Timestamp the block was created. Encoded on the wire as a uint32
	// unix-seconds value and therefore limited to the year 2106.
	Timestamp time.Time

	// Bits is the compact-encoded proof-of-work difficulty target.
	Bits uint32

	// Nonce used to satisfy the proof-of-work.
	Nonce uint32
}

// BlockHash computes the block identifier: the double-SHA-256 of the
// serialized header.
func (h *BlockHeader) BlockHash() chainhash.Hash {
	buf := bytes.NewBuffer(make([]byte, 0, BlockHeaderPayload))
	_ = writeBlockHeader(buf, h)
	return chainhash.DoubleHashH(buf.Bytes())
}

// BtcDecode decodes r using the Bitcoin protocol encoding into the
// receiver. Part of the Message interface implementation.
func (h *BlockHeader) BtcDecode(r io.Reader, pver uint32) error {
	return readBlockHeader(r, h)
}

// BtcEncode encodes the receiver to w using the Bitcoin protocol encoding.
// Part of the Message interface implementation.
func (h *BlockHeader) BtcEncode(w io.Writer, pver uint32) error {
	return writeBlockHeader(w, h)
}

// Deserialize decodes a block header from r using the same format used on
// the wire; headers have no separate storage format.
func (h *BlockHeader) Deserialize(r io.Reader) error {
	return readBlockHeader(r, h)
}

// Serialize encodes the header to w using the same format used on the
// wire.
func (h *BlockHeader) Serialize(w io.Writer) error {
	return writeBlockHeader(w, h)
}

// NewBlockHeader returns a new BlockHeader populated with the given fields
// and the current time as its timestamp.
func NewBlockHeader(version int32, prevBlock, merkleRoot chainhash.Hash, bits, nonce uint32) *BlockHeader {
	return &BlockHeader{
		Version:    version,
		PrevBlock:  prevBlock,
		MerkleRoot: merkleRoot,
		Timestamp:  time.Unix(time.Now().Unix(), 0),
		Bits:       bits,
		Nonce:      nonce,
	}
}

func readBlockHeader(r io.Reader, bh *BlockHeader) error {
	if err := readElement(r, &bh.Version); err != nil {
		return err
	}
	if err := readHash(r, &bh.PrevBlock); err != nil {
		return err
	}
	if err := readHash(r, &bh.MerkleRoot); err != nil {
		return err
	}
	var secs uint32
	if err := readElement(r, &secs); err != nil {
		return err
	}
	bh.Timestamp = int64ToTime(int64(secs))
	if err := readElement(r, &bh.Bits); err != nil {
		return err
	}
	return readElement(r, &bh.Nonce)
}

func writeBlockHeader(w io.Writer, bh *BlockHeader) error {
	if err := writeElement(w, bh.Version); err != nil {
		return err
	}
	if err := writeHash(w, &bh.PrevBlock); err != nil {
		return err
	}
	if err := writeHash(w, &bh.MerkleRoot); err != nil {
		return err
	}
	if err := writeElement(w, uint32(bh.Timestamp.Unix())); err != nil {
		return err
	}
	if err := writeElement(w, bh.Bits); err != nil {
		return err
	}
	return writeElement(w, bh.Nonce)
}
