package utxo

import (
	"testing"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

func coinbaseBlock(hash chainhash.Hash, value int64, script []byte) *wire.MsgBlock {
	bh := wire.NewBlockHeader(1, chainhash.ZeroHash, chainhash.ZeroHash, 0x1d00ffff, 0)
	b := wire.NewMsgBlock(bh)
	tx := wire.NewMsgTx(1)
	tx.TxIn = []*wire.TxIn{wire.NewTxIn(wire.NewOutpoint(&chainhash.ZeroHash, wire.CoinbaseIndex), []byte{0x00, hash[0]})}
	tx.TxOut = []*wire.TxOut{wire.NewTxOut(value, script)}
	_ = b.AddTransaction(tx)
	return b
}

// TestApplyCoinbaseAddsOutput checks applying a block with only a coinbase
// inserts its output into the set.
func TestApplyCoinbaseAddsOutput(t *testing.T) {
	set := New()
	block := coinbaseBlock(chainhash.Hash{1}, 5000000000, []byte{0x51})

	if err := set.Apply(block, 1); err != nil {
		t.Fatalf("Apply: %s", err)
	}

	coinbaseTxHash := block.Transactions[0].TxHash()
	op := wire.Outpoint{TxID: coinbaseTxHash, Index: 0}
	if !set.Contains(op) {
		t.Fatal("expected coinbase output to be present")
	}
	amount, script, ok := set.GetScript(op)
	if !ok || amount != 5000000000 || string(script) != string([]byte{0x51}) {
		t.Fatalf("got amount=%d script=%x ok=%v", amount, script, ok)
	}
}

// TestApplySpendsAndCreates exercises spec §4.G: a later block spending a
// prior block's output removes it and adds its own outputs.
func TestApplySpendsAndCreates(t *testing.T) {
	set := New()
	block1 := coinbaseBlock(chainhash.Hash{1}, 5000000000, []byte{0x51})
	if err := set.Apply(block1, 1); err != nil {
		t.Fatal(err)
	}
	spentOutpoint := wire.Outpoint{TxID: block1.Transactions[0].TxHash(), Index: 0}

	block2 := coinbaseBlock(chainhash.Hash{2}, 5000000000, []byte{0x51})
	spend := wire.NewMsgTx(1)
	spend.TxIn = []*wire.TxIn{wire.NewTxIn(&spentOutpoint, []byte{0x01})}
	spend.TxOut = []*wire.TxOut{wire.NewTxOut(4000000000, []byte{0x52})}
	_ = block2.AddTransaction(spend)

	if err := set.Apply(block2, 2); err != nil {
		t.Fatalf("Apply: %s", err)
	}

	if set.Contains(spentOutpoint) {
		t.Fatal("expected spent outpoint to be removed")
	}
	newOutpoint := wire.Outpoint{TxID: spend.TxHash(), Index: 0}
	if !set.Contains(newOutpoint) {
		t.Fatal("expected spend's output to be present")
	}
}

// TestApplyMissingOutpointIsAtomic checks a block spending an outpoint the
// set does not have mutates nothing, per spec §4.G "Apply is atomic per
// block".
func TestApplyMissingOutpointIsAtomic(t *testing.T) {
	set := New()
	block := coinbaseBlock(chainhash.Hash{1}, 5000000000, []byte{0x51})

	missing := wire.Outpoint{TxID: chainhash.Hash{0xff}, Index: 0}
	spend := wire.NewMsgTx(1)
	spend.TxIn = []*wire.TxIn{wire.NewTxIn(&missing, []byte{0x01})}
	spend.TxOut = []*wire.TxOut{wire.NewTxOut(1, []byte{0x52})}
	_ = block.AddTransaction(spend)

	if err := set.Apply(block, 1); err == nil {
		t.Fatal("expected a missing outpoint to fail Apply")
	}
	if set.Len() != 0 {
		t.Fatalf("expected no mutation on failure, got %d entries", set.Len())
	}
}

// TestScanForScriptsFindsMatches checks the wallet-facing scan returns
// exactly the unspent outputs matching one of the requested scripts.
func TestScanForScriptsFindsMatches(t *testing.T) {
	set := New()
	target := []byte{0x76, 0xa9, 0x14}
	other := []byte{0x51}

	block := coinbaseBlock(chainhash.Hash{1}, 1000, target)
	if err := set.Apply(block, 1); err != nil {
		t.Fatal(err)
	}
	block2 := coinbaseBlock(chainhash.Hash{2}, 2000, other)
	if err := set.Apply(block2, 2); err != nil {
		t.Fatal(err)
	}

	matches := set.ScanForScripts([][]byte{target})
	if len(matches) != 1 || matches[0].Entry.Amount != 1000 {
		t.Fatalf("got %#v", matches)
	}
}
