package mempool

import (
	"testing"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// fakeUTXO is a minimal mempool.UTXOView backed by a set of known
// outpoints.
type fakeUTXO map[wire.Outpoint]bool

func (f fakeUTXO) Contains(op wire.Outpoint) bool { return f[op] }

func txSpending(op wire.Outpoint, outValue int64) *wire.MsgTx {
	tx := wire.NewMsgTx(1)
	tx.TxIn = []*wire.TxIn{wire.NewTxIn(&op, []byte{0x01})}
	tx.TxOut = []*wire.TxOut{wire.NewTxOut(outValue, []byte{0x51})}
	return tx
}

// TestInsertAcceptsValidTransaction checks a transaction whose input
// resolves against the UTXO view is admitted.
func TestInsertAcceptsValidTransaction(t *testing.T) {
	op := wire.Outpoint{TxID: chainhash.Hash{1}, Index: 0}
	pool := New()

	if err := pool.Insert(txSpending(op, 1000), fakeUTXO{op: true}); err != nil {
		t.Fatalf("Insert: %s", err)
	}
	if pool.Len() != 1 {
		t.Fatalf("got %d transactions, want 1", pool.Len())
	}
}

// TestInsertRejectsMissingInput checks a transaction whose input resolves
// against neither the UTXO view nor another mempool transaction is
// rejected, per spec §4.H.
func TestInsertRejectsMissingInput(t *testing.T) {
	op := wire.Outpoint{TxID: chainhash.Hash{1}, Index: 0}
	pool := New()

	err := pool.Insert(txSpending(op, 1000), fakeUTXO{})
	if err != ErrMissingInput {
		t.Fatalf("got %v, want ErrMissingInput", err)
	}
}

// TestInsertRejectsDoubleSpend checks a second transaction spending an
// outpoint already claimed by a pooled transaction is rejected, per
// testable property 4/scenario around conflicting pool entries.
func TestInsertRejectsDoubleSpend(t *testing.T) {
	op := wire.Outpoint{TxID: chainhash.Hash{1}, Index: 0}
	pool := New()
	view := fakeUTXO{op: true}

	if err := pool.Insert(txSpending(op, 1000), view); err != nil {
		t.Fatal(err)
	}
	if err := pool.Insert(txSpending(op, 999), view); err != ErrDoubleSpend {
		t.Fatalf("got %v, want ErrDoubleSpend", err)
	}
}

// TestInsertRejectsDuplicate checks inserting the exact same transaction
// twice fails with ErrAlreadyInPool.
func TestInsertRejectsDuplicate(t *testing.T) {
	op := wire.Outpoint{TxID: chainhash.Hash{1}, Index: 0}
	pool := New()
	view := fakeUTXO{op: true}
	tx := txSpending(op, 1000)

	if err := pool.Insert(tx, view); err != nil {
		t.Fatal(err)
	}
	if err := pool.Insert(tx, view); err != ErrAlreadyInPool {
		t.Fatalf("got %v, want ErrAlreadyInPool", err)
	}
}

// TestInsertAcceptsChainedMempoolSpend checks a transaction spending an
// output of another pooled (unconfirmed) transaction is accepted, per spec
// §4.H "or another mempool tx".
func TestInsertAcceptsChainedMempoolSpend(t *testing.T) {
	fundingOp := wire.Outpoint{TxID: chainhash.Hash{9}, Index: 0}
	pool := New()
	view := fakeUTXO{fundingOp: true}

	funding := txSpending(fundingOp, 1000)
	if err := pool.Insert(funding, view); err != nil {
		t.Fatal(err)
	}

	child := txSpending(wire.Outpoint{TxID: funding.TxHash(), Index: 0}, 900)
	if err := pool.Insert(child, view); err != nil {
		t.Fatalf("expected a chained mempool spend to be accepted, got %s", err)
	}
}

// TestApplyBlockRemovesConfirmedAndEvictsConflicts exercises spec §4.H /
// testable property 4: a block confirming a pooled transaction removes it,
// and a block spending an outpoint a different pooled transaction also
// claims evicts that conflicting transaction.
func TestApplyBlockRemovesConfirmedAndEvictsConflicts(t *testing.T) {
	fundingOp := wire.Outpoint{TxID: chainhash.Hash{9}, Index: 0}
	pool := New()
	view := fakeUTXO{fundingOp: true}

	confirmed := txSpending(fundingOp, 1000)
	if err := pool.Insert(confirmed, view); err != nil {
		t.Fatal(err)
	}

	conflictOp := wire.Outpoint{TxID: chainhash.Hash{8}, Index: 0}
	conflicting := txSpending(conflictOp, 500)
	if err := pool.Insert(conflicting, fakeUTXO{conflictOp: true}); err != nil {
		t.Fatal(err)
	}

	bh := wire.NewBlockHeader(1, chainhash.ZeroHash, chainhash.ZeroHash, 0x1d00ffff, 0)
	block := wire.NewMsgBlock(bh)
	coinbase := wire.NewMsgTx(1)
	coinbase.TxIn = []*wire.TxIn{wire.NewTxIn(wire.NewOutpoint(&chainhash.ZeroHash, wire.CoinbaseIndex), []byte{0x00})}
	coinbase.TxOut = []*wire.TxOut{wire.NewTxOut(5000000000, []byte{0x51})}
	_ = block.AddTransaction(coinbase)
	_ = block.AddTransaction(confirmed)

	blockSpendingConflict := wire.NewMsgTx(1)
	blockSpendingConflict.TxIn = []*wire.TxIn{wire.NewTxIn(&conflictOp, []byte{0x01})}
	blockSpendingConflict.TxOut = []*wire.TxOut{wire.NewTxOut(400, []byte{0x52})}
	_ = block.AddTransaction(blockSpendingConflict)

	evicted := pool.ApplyBlock(block)

	if pool.Contains(confirmed.TxHash()) {
		t.Fatal("expected the confirmed transaction to be removed")
	}
	if pool.Contains(conflicting.TxHash()) {
		t.Fatal("expected the conflicting transaction to be evicted")
	}
	if len(evicted) != 1 || evicted[0] != conflicting.TxHash() {
		t.Fatalf("got evicted=%v, want [%s]", evicted, conflicting.TxHash())
	}
}
