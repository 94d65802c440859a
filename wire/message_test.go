// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/btcnode/btcnode/chainhash"
)

const testnetMagic = 0x0709110b // testnet3 start_string

// TestMessageRoundTrip exercises testable property 5: decode(encode(M)) ==
// M for every supported message.
func TestMessageRoundTrip(t *testing.T) {
	hash := chainhash.Hash{1, 2, 3}

	tests := []Message{
		// The version message's two addresses carry no timestamp on the
		// wire and always decode with a 16-byte IP, so they are built in
		// that form here.
		NewMsgVersion(
			&NetAddress{Services: SFNodeNetwork, IP: net.IPv6zero, Port: 18333},
			&NetAddress{Services: SFNodeNetwork, IP: net.IPv6zero, Port: 18333},
			1234, 100, "/btcnode:0.1.0/"),
		NewMsgVerAck(),
		NewMsgPing(42),
		NewMsgPong(42),
		NewMsgSendHeaders(),
		func() Message {
			m := NewMsgGetHeaders()
			_ = m.AddBlockLocatorHash(&hash)
			return m
		}(),
		func() Message {
			m := NewMsgHeaders()
			bh := NewBlockHeader(1, hash, hash, 0x1d00ffff, 7)
			_ = m.AddBlockHeader(bh)
			return m
		}(),
		func() Message {
			m := NewMsgInv()
			_ = m.AddInvVect(NewInvVect(InvTypeBlock, &hash))
			return m
		}(),
		func() Message {
			m := NewMsgGetData()
			_ = m.AddInvVect(NewInvVect(InvTypeTx, &hash))
			return m
		}(),
		func() Message {
			m := NewMsgNotFound()
			_ = m.AddInvVect(NewInvVect(InvTypeTx, &hash))
			return m
		}(),
		NewMsgGetBlocks(&hash),
		func() Message {
			tx := NewMsgTx(1)
			tx.TxIn = []*TxIn{NewTxIn(NewOutpoint(&hash, 0), []byte{0x01, 0x02})}
			tx.TxOut = []*TxOut{NewTxOut(5000, []byte{0x76, 0xa9})}
			return tx
		}(),
		func() Message {
			bh := NewBlockHeader(1, hash, hash, 0x1d00ffff, 7)
			b := NewMsgBlock(bh)
			tx := NewMsgTx(1)
			tx.TxIn = []*TxIn{NewTxIn(NewOutpoint(&chainhash.ZeroHash, CoinbaseIndex), []byte{0x00})}
			tx.TxOut = []*TxOut{NewTxOut(5000000000, []byte{0x76, 0xa9})}
			_ = b.AddTransaction(tx)
			return b
		}(),
	}

	for _, msg := range tests {
		var buf bytes.Buffer
		if _, err := WriteMessageN(&buf, msg, ProtocolVersion, testnetMagic); err != nil {
			t.Fatalf("%s: WriteMessageN: %v", msg.Command(), err)
		}

		_, _, decoded, err := ReadMessageN(bytes.NewReader(buf.Bytes()), ProtocolVersion, testnetMagic)
		if err != nil {
			t.Fatalf("%s: ReadMessageN: %v", msg.Command(), err)
		}

		var rebuf bytes.Buffer
		if _, err := WriteMessageN(&rebuf, decoded, ProtocolVersion, testnetMagic); err != nil {
			t.Fatalf("%s: re-WriteMessageN: %v", msg.Command(), err)
		}

		if !bytes.Equal(buf.Bytes(), rebuf.Bytes()) {
			t.Errorf("%s: encode(decode(bytes)) != bytes", msg.Command())
		}
		if !reflect.DeepEqual(msg, decoded) {
			t.Errorf("%s: decode(encode(M)) != M\ngot:  %#v\nwant: %#v", msg.Command(), decoded, msg)
		}
	}
}

// TestBadMagicDisconnect is the codec half of scenario S2: an envelope
// whose magic does not match the configured network fails with
// ErrBadMagic.
func TestBadMagicDisconnect(t *testing.T) {
	msg := NewMsgPing(1)
	var buf bytes.Buffer
	if _, err := WriteMessageN(&buf, msg, ProtocolVersion, 0xDEADBEEF); err != nil {
		t.Fatalf("WriteMessageN: %v", err)
	}

	_, _, _, err := ReadMessageN(bytes.NewReader(buf.Bytes()), ProtocolVersion, testnetMagic)
	if errors_Cause(err) != ErrBadMagic && !isWrapped(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

// TestOversizePayloadRejected exercises the 32 MiB payload ceiling from
// spec §4.A.
func TestOversizePayloadRejected(t *testing.T) {
	msg := NewMsgTx(1)
	for i := 0; i < 2; i++ {
		msg.TxOut = append(msg.TxOut, NewTxOut(1, make([]byte, 20)))
	}
	var buf bytes.Buffer
	if _, err := WriteMessageN(&buf, msg, ProtocolVersion, testnetMagic); err != nil {
		t.Fatalf("WriteMessageN: %v", err)
	}

	// Corrupt the length field to claim an oversize payload.
	raw := buf.Bytes()
	raw[16] = 0xff
	raw[17] = 0xff
	raw[18] = 0xff
	raw[19] = 0x7f

	_, _, _, err := ReadMessageN(bytes.NewReader(raw), ProtocolVersion, testnetMagic)
	if !isWrapped(err, ErrOversizePayload) {
		t.Fatalf("expected ErrOversizePayload, got %v", err)
	}
}

func isWrapped(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func errors_Cause(err error) error {
	type causer interface{ Cause() error }
	for err != nil {
		c, ok := err.(causer)
		if !ok {
			return err
		}
		err = c.Cause()
	}
	return err
}

func TestVarIntRoundTrip(t *testing.T) {
	values := []uint64{0, 1, 0xfc, 0xfd, 0xffff, 0x10000, 0xffffffff, 0x100000000}
	for _, v := range values {
		var buf bytes.Buffer
		if err := WriteVarInt(&buf, v); err != nil {
			t.Fatalf("WriteVarInt(%d): %v", v, err)
		}
		got, err := ReadVarInt(&buf)
		if err != nil {
			t.Fatalf("ReadVarInt(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("varint round trip: got %d, want %d", got, v)
		}
	}
}

var _ = time.Now
