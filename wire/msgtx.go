// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/btcnode/btcnode/chainhash"
)

// MaxTxInSequenceNum is the maximum sequence number a transaction input
// can have, meaning its locktime is disabled.
const MaxTxInSequenceNum uint32 = 0xffffffff

// CoinbaseIndex is the index used as the output index of a coinbase
// input's previous outpoint, per spec §4.F rule 3.
const CoinbaseIndex = 0xffffffff

// MaxTxPerMsg bounds the transaction count a single block may carry, a
// sanity check against a corrupt or hostile payload length.
const MaxTxPerMsg = 1000000

// Outpoint defines a reference to a specific transaction output, per the
// UTXO set key of spec §3.
type Outpoint struct {
	TxID  chainhash.Hash
	Index uint32
}

// NewOutpoint returns a new Outpoint.
func NewOutpoint(txID *chainhash.Hash, index uint32) *Outpoint {
	return &Outpoint{TxID: *txID, Index: index}
}

func readOutpoint(r io.Reader, op *Outpoint) error {
	if err := readHash(r, &op.TxID); err != nil {
		return err
	}
	return readElement(r, &op.Index)
}

func writeOutpoint(w io.Writer, op *Outpoint) error {
	if err := writeHash(w, &op.TxID); err != nil {
		return err
	}
	return writeElement(w, op.Index)
}

// TxIn defines a transaction input, per spec §3 Transaction.
type TxIn struct {
	PreviousOutpoint Outpoint
	SignatureScript  []byte
	Sequence         uint32
}

// NewTxIn returns a new transaction input with the given previous outpoint
// and unlocking script.
func NewTxIn(prevOut *Outpoint, signatureScript []byte) *TxIn {
	return &TxIn{
		PreviousOutpoint: *prevOut,
		SignatureScript:  signatureScript,
		Sequence:         MaxTxInSequenceNum,
	}
}

// IsCoinbase reports whether the input is the coinbase input: previous
// txid all-zero and output index 0xFFFFFFFF, per spec §4.F rule 3.
func (ti *TxIn) IsCoinbase() bool {
	return ti.PreviousOutpoint.Index == CoinbaseIndex && ti.PreviousOutpoint.TxID == chainhash.ZeroHash
}

func readTxIn(r io.Reader, ti *TxIn) error {
	if err := readOutpoint(r, &ti.PreviousOutpoint); err != nil {
		return err
	}
	script, err := ReadVarBytes(r, MaxMessagePayload, "signature script")
	if err != nil {
		return err
	}
	ti.SignatureScript = script
	return readElement(r, &ti.Sequence)
}

func writeTxIn(w io.Writer, ti *TxIn) error {
	if err := writeOutpoint(w, &ti.PreviousOutpoint); err != nil {
		return err
	}
	if err := WriteVarBytes(w, ti.SignatureScript); err != nil {
		return err
	}
	return writeElement(w, ti.Sequence)
}

// TxOut defines a transaction output: an amount and the locking script
// that must be satisfied to spend it.
type TxOut struct {
	Value    int64
	PkScript []byte
}

// NewTxOut returns a new transaction output with the given value and
// locking script.
func NewTxOut(value int64, pkScript []byte) *TxOut {
	return &TxOut{Value: value, PkScript: pkScript}
}

func readTxOut(r io.Reader, to *TxOut) error {
	if err := readElement(r, &to.Value); err != nil {
		return err
	}
	script, err := ReadVarBytes(r, MaxMessagePayload, "pk script")
	if err != nil {
		return err
	}
	to.PkScript = script
	return nil
}

func writeTxOut(w io.Writer, to *TxOut) error {
	if err := writeElement(w, to.Value); err != nil {
		return err
	}
	return WriteVarBytes(w, to.PkScript)
}

// MsgTx implements the Message interface and represents a Bitcoin
// transaction, per spec §3 Transaction: version, inputs, outputs, and
// locktime. Segwit is not implemented; only P2PKH matters to this node's
// wallet.
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// TxHash computes the transaction id: the double-SHA-256 of the serialized
// transaction.
func (msg *MsgTx) TxHash() chainhash.Hash {
	var buf growBuffer
	_ = msg.BtcEncode(&buf, 0)
	return chainhash.DoubleHashH(buf.bytes)
}

// growBuffer is a minimal io.Writer over a growable slice.
type growBuffer struct {
	bytes []byte
}

func (b *growBuffer) Write(p []byte) (int, error) {
	b.bytes = append(b.bytes, p...)
	return len(p), nil
}

// IsCoinBase determines whether the transaction is a coinbase transaction:
// exactly one input, and that input is the coinbase input, per spec §4.F
// rule 3.
func (msg *MsgTx) IsCoinBase() bool {
	return len(msg.TxIn) == 1 && msg.TxIn[0].IsCoinbase()
}

// BtcDecode is part of the Message interface implementation.
func (msg *MsgTx) BtcDecode(r io.Reader, pver uint32) error {
	if err := readElement(r, &msg.Version); err != nil {
		return err
	}

	inCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	txIns := make([]TxIn, inCount)
	msg.TxIn = make([]*TxIn, inCount)
	for i := uint64(0); i < inCount; i++ {
		ti := &txIns[i]
		if err := readTxIn(r, ti); err != nil {
			return err
		}
		msg.TxIn[i] = ti
	}

	outCount, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	txOuts := make([]TxOut, outCount)
	msg.TxOut = make([]*TxOut, outCount)
	for i := uint64(0); i < outCount; i++ {
		to := &txOuts[i]
		if err := readTxOut(r, to); err != nil {
			return err
		}
		msg.TxOut[i] = to
	}

	return readElement(r, &msg.LockTime)
}

// BtcEncode is part of the Message interface implementation.
func (msg *MsgTx) BtcEncode(w io.Writer, pver uint32) error {
	if err := writeElement(w, msg.Version); err != nil {
		return err
	}

	if err := WriteVarInt(w, uint64(len(msg.TxIn))); err != nil {
		return err
	}
	for _, ti := range msg.TxIn {
		if err := writeTxIn(w, ti); err != nil {
			return err
		}
	}

	if err := WriteVarInt(w, uint64(len(msg.TxOut))); err != nil {
		return err
	}
	for _, to := range msg.TxOut {
		if err := writeTxOut(w, to); err != nil {
			return err
		}
	}

	return writeElement(w, msg.LockTime)
}

// Command returns the protocol command string for the message.
func (msg *MsgTx) Command() string { return CmdTx }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgTx) MaxPayloadLength(pver uint32) uint32 {
	return MaxMessagePayload
}

// NewMsgTx returns a new empty transaction with the given protocol version.
func NewMsgTx(version int32) *MsgTx {
	return &MsgTx{Version: version}
}
