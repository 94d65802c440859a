package wallet

import (
	"testing"
	"time"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/events"
	"github.com/btcnode/btcnode/utxo"
	"github.com/btcnode/btcnode/wire"
)

type fakeUTXOSource []utxo.ScriptMatch

func (f fakeUTXOSource) ScanForScripts(scripts [][]byte) []utxo.ScriptMatch {
	wanted := make(map[string]bool, len(scripts))
	for _, s := range scripts {
		wanted[string(s)] = true
	}
	var out []utxo.ScriptMatch
	for _, m := range f {
		if wanted[string(m.Entry.ScriptPubKey)] {
			out = append(out, m)
		}
	}
	return out
}

type fakeBlockSource map[chainhash.Hash]*wire.MsgBlock

func (f fakeBlockSource) Block(hash chainhash.Hash) (*wire.MsgBlock, bool) {
	b, ok := f[hash]
	return b, ok
}

type fakeBroadcaster struct {
	broadcast []*wire.MsgTx
	err       error
}

func (f *fakeBroadcaster) BroadcastTx(tx *wire.MsgTx) error {
	if f.err != nil {
		return f.err
	}
	f.broadcast = append(f.broadcast, tx)
	return nil
}

func match(outpointByte byte, amount int64, script []byte) utxo.ScriptMatch {
	return utxo.ScriptMatch{
		Outpoint: wire.Outpoint{TxID: chainhash.Hash{outpointByte}, Index: 0},
		Entry:    utxo.NewEntry(amount, script, 1, false),
	}
}

// TestGetBalanceSumsMatchingOutputs exercises spec §6 get_balance.
func TestGetBalanceSumsMatchingOutputs(t *testing.T) {
	script := []byte{0x76, 0xa9}
	source := fakeUTXOSource{match(1, 1000, script), match(2, 2500, script), match(3, 999, []byte{0x51})}

	api := NewAPI(source, fakeBlockSource{}, &fakeBroadcaster{}, events.NewBus())
	if got := api.GetBalance([][]byte{script}); got != 3500 {
		t.Fatalf("got %d, want 3500", got)
	}
}

// TestSelectInputsPicksLargestFirst exercises spec §6 select_inputs'
// largest-first greedy selection.
func TestSelectInputsPicksLargestFirst(t *testing.T) {
	script := []byte{0x76, 0xa9}
	source := fakeUTXOSource{match(1, 500, script), match(2, 5000, script), match(3, 1500, script)}

	api := NewAPI(source, fakeBlockSource{}, &fakeBroadcaster{}, events.NewBus())
	selected, total, err := api.SelectInputs([][]byte{script}, 4000)
	if err != nil {
		t.Fatalf("SelectInputs: %s", err)
	}
	if len(selected) != 1 || total != 5000 {
		t.Fatalf("got %d inputs totaling %d, want 1 input totaling 5000", len(selected), total)
	}
}

// TestSelectInputsInsufficientFunds checks select_inputs reports
// ErrInsufficientFunds when the matched outputs cannot cover the target.
func TestSelectInputsInsufficientFunds(t *testing.T) {
	script := []byte{0x76, 0xa9}
	source := fakeUTXOSource{match(1, 100, script)}

	api := NewAPI(source, fakeBlockSource{}, &fakeBroadcaster{}, events.NewBus())
	if _, _, err := api.SelectInputs([][]byte{script}, 1000); err != ErrInsufficientFunds {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
}

// TestBroadcastTxPublishesPendingTx checks a successful broadcast relays
// through the Broadcaster and publishes a PendingTx event (spec §6
// broadcast_tx).
func TestBroadcastTxPublishesPendingTx(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	broadcaster := &fakeBroadcaster{}
	api := NewAPI(fakeUTXOSource{}, fakeBlockSource{}, broadcaster, bus)

	tx := wire.NewMsgTx(1)
	tx.TxIn = []*wire.TxIn{wire.NewTxIn(wire.NewOutpoint(&chainhash.Hash{1}, 0), nil)}
	tx.TxOut = []*wire.TxOut{wire.NewTxOut(1000, []byte{0x76, 0xa9})}

	if err := api.BroadcastTx(tx); err != nil {
		t.Fatalf("BroadcastTx: %s", err)
	}
	if len(broadcaster.broadcast) != 1 {
		t.Fatalf("expected the transaction to reach the broadcaster")
	}

	select {
	case ev := <-sub.Events:
		if ev.Kind != events.KindPendingTx || ev.TxID != tx.TxHash() {
			t.Fatalf("got %#v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PendingTx event")
	}
}

// TestProofOfInclusionFindsTransaction exercises spec §6
// proof_of_inclusion end to end against a real merkle tree.
func TestProofOfInclusionFindsTransaction(t *testing.T) {
	tx1 := wire.NewMsgTx(1)
	tx1.TxIn = []*wire.TxIn{wire.NewTxIn(wire.NewOutpoint(&chainhash.Hash{1}, 0), nil)}
	tx1.TxOut = []*wire.TxOut{wire.NewTxOut(1000, []byte{0x51})}

	tx2 := wire.NewMsgTx(1)
	tx2.TxIn = []*wire.TxIn{wire.NewTxIn(wire.NewOutpoint(&chainhash.Hash{2}, 0), nil)}
	tx2.TxOut = []*wire.TxOut{wire.NewTxOut(2000, []byte{0x52})}

	bh := wire.NewBlockHeader(1, chainhash.ZeroHash, chainhash.ZeroHash, 0x1d00ffff, 0)
	block := wire.NewMsgBlock(bh)
	_ = block.AddTransaction(tx1)
	_ = block.AddTransaction(tx2)
	blockHash := block.BlockHash()

	blocks := fakeBlockSource{blockHash: block}
	api := NewAPI(fakeUTXOSource{}, blocks, &fakeBroadcaster{}, events.NewBus())

	proof, err := api.ProofOfInclusion(tx2.TxHash(), blockHash)
	if err != nil {
		t.Fatalf("ProofOfInclusion: %s", err)
	}
	if proof == nil || len(proof.Siblings) == 0 {
		t.Fatal("expected a non-trivial inclusion proof")
	}
}

// TestProofOfInclusionUnknownBlock checks a lookup against a block the
// source does not have is rejected.
func TestProofOfInclusionUnknownBlock(t *testing.T) {
	api := NewAPI(fakeUTXOSource{}, fakeBlockSource{}, &fakeBroadcaster{}, events.NewBus())
	if _, err := api.ProofOfInclusion(chainhash.Hash{1}, chainhash.Hash{2}); err == nil {
		t.Fatal("expected an unknown block to be rejected")
	}
}
