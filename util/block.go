// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// OutOfRangeError describes an error due to accessing an element that is
// out of range.
type OutOfRangeError string

// CoinbaseTransactionIndex is the index of the coinbase transaction in
// every block.
const CoinbaseTransactionIndex = 0

// Error satisfies the error interface and prints human-readable errors.
func (e OutOfRangeError) Error() string {
	return string(e)
}

// Block defines a P2P block that provides easier and more efficient
// manipulation of raw blocks. It also memoizes hashes for the block and its
// transactions on their first access so subsequent accesses don't have to
// repeat the relatively expensive hashing operations.
type Block struct {
	msgBlock        *wire.MsgBlock
	serializedBlock []byte
	blockHash       *chainhash.Hash
	transactions    []*Tx
	txnsGenerated   bool
}

// MsgBlock returns the underlying wire.MsgBlock for the Block.
func (b *Block) MsgBlock() *wire.MsgBlock {
	return b.msgBlock
}

// Bytes returns the serialized bytes for the Block, caching the result so
// subsequent calls are cheap.
func (b *Block) Bytes() ([]byte, error) {
	if len(b.serializedBlock) != 0 {
		return b.serializedBlock, nil
	}

	var bw bytes.Buffer
	if err := b.msgBlock.BtcEncode(&bw, wire.ProtocolVersion); err != nil {
		return nil, err
	}
	b.serializedBlock = bw.Bytes()
	return b.serializedBlock, nil
}

// Hash returns the block's identifying hash, caching the result so
// subsequent calls are cheap.
func (b *Block) Hash() *chainhash.Hash {
	if b.blockHash != nil {
		return b.blockHash
	}
	hash := b.msgBlock.BlockHash()
	b.blockHash = &hash
	return b.blockHash
}

// Tx returns a wrapped transaction (util.Tx) for the transaction at the
// specified, zero-based index in the Block.
func (b *Block) Tx(txNum int) (*Tx, error) {
	numTx := len(b.msgBlock.Transactions)
	if txNum < 0 || txNum >= numTx {
		str := fmt.Sprintf("transaction index %d is out of range - max %d",
			txNum, numTx-1)
		return nil, OutOfRangeError(str)
	}

	if len(b.transactions) == 0 {
		b.transactions = make([]*Tx, numTx)
	}

	if b.transactions[txNum] != nil {
		return b.transactions[txNum], nil
	}

	newTx := NewTx(b.msgBlock.Transactions[txNum])
	newTx.SetIndex(txNum)
	b.transactions[txNum] = newTx
	return newTx, nil
}

// Transactions returns a slice of wrapped transactions (util.Tx) for all
// transactions in the Block.
func (b *Block) Transactions() []*Tx {
	if b.txnsGenerated {
		return b.transactions
	}

	if len(b.transactions) == 0 {
		b.transactions = make([]*Tx, len(b.msgBlock.Transactions))
	}

	for i, tx := range b.transactions {
		if tx == nil {
			newTx := NewTx(b.msgBlock.Transactions[i])
			newTx.SetIndex(i)
			b.transactions[i] = newTx
		}
	}

	b.txnsGenerated = true
	return b.transactions
}

// TxHash returns the hash for the requested transaction number in the
// Block.
func (b *Block) TxHash(txNum int) (*chainhash.Hash, error) {
	tx, err := b.Tx(txNum)
	if err != nil {
		return nil, err
	}
	return tx.Hash(), nil
}

// CoinbaseTransaction returns this block's coinbase transaction.
func (b *Block) CoinbaseTransaction() *Tx {
	return b.Transactions()[CoinbaseTransactionIndex]
}

// Height returns the block's height if it can be extracted from the
// coinbase scriptSig per BIP-34, or -1 if not present.
func (b *Block) Height() int32 {
	return ExtractCoinbaseHeight(b.CoinbaseTransaction().MsgTx())
}

// NewBlock returns a new instance of a Block given an underlying
// wire.MsgBlock.
func NewBlock(msgBlock *wire.MsgBlock) *Block {
	return &Block{
		msgBlock: msgBlock,
	}
}

// NewBlockFromBytes returns a new instance of a Block given the
// serialized bytes.
func NewBlockFromBytes(serializedBlock []byte) (*Block, error) {
	br := bytes.NewReader(serializedBlock)
	b, err := NewBlockFromReader(br)
	if err != nil {
		return nil, err
	}
	b.serializedBlock = serializedBlock
	return b, nil
}

// NewBlockFromReader returns a new instance of a Block given a Reader to
// deserialize the block.
func NewBlockFromReader(r io.Reader) (*Block, error) {
	var msgBlock wire.MsgBlock
	if err := msgBlock.BtcDecode(r, wire.ProtocolVersion); err != nil {
		return nil, err
	}
	return &Block{msgBlock: &msgBlock}, nil
}

// NewBlockFromBlockAndBytes returns a new instance of a Block given an
// underlying wire.MsgBlock and its serialized bytes.
func NewBlockFromBlockAndBytes(msgBlock *wire.MsgBlock, serializedBlock []byte) *Block {
	return &Block{
		msgBlock:        msgBlock,
		serializedBlock: serializedBlock,
	}
}

// ExtractCoinbaseHeight attempts to extract the height of the block from
// the scriptSig of its coinbase transaction per BIP-34. It returns -1 if
// the height cannot be determined - callers fall back to cross-referencing
// the header chain in that case, since spec §4.F does not require BIP-34
// enforcement.
func ExtractCoinbaseHeight(coinbaseTx *wire.MsgTx) int32 {
	sigScript := coinbaseTx.TxIn[0].SignatureScript
	if len(sigScript) < 1 {
		return -1
	}

	serializedLen := int(sigScript[0])
	if serializedLen+1 > len(sigScript) || serializedLen < 1 || serializedLen > 8 {
		return -1
	}

	serializedHeightBytes := make([]byte, 8)
	copy(serializedHeightBytes, sigScript[1:serializedLen+1])
	var height int64
	for i := 0; i < 8; i++ {
		height |= int64(serializedHeightBytes[i]) << uint(8*i)
	}
	if height < 0 || height > int64(1)<<31 {
		return -1
	}
	return int32(height)
}
