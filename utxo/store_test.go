package utxo

import (
	"path/filepath"
	"testing"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// TestStoreSaveLoadRoundTrip checks a snapshot written by Save is
// reconstructed exactly by Load into a fresh Set, the durability half of
// spec §4.G.
func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "utxo")
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore: %s", err)
	}
	defer store.Close()

	set := New()
	block := coinbaseBlock(chainhash.Hash{1}, 5000000000, []byte{0x76, 0xa9})
	if err := set.Apply(block, 1); err != nil {
		t.Fatal(err)
	}

	if err := store.Save(set); err != nil {
		t.Fatalf("Save: %s", err)
	}

	reloaded := New()
	if err := store.Load(reloaded); err != nil {
		t.Fatalf("Load: %s", err)
	}

	if reloaded.Len() != set.Len() {
		t.Fatalf("got %d entries, want %d", reloaded.Len(), set.Len())
	}

	op := wire.Outpoint{TxID: block.Transactions[0].TxHash(), Index: 0}
	amount, script, ok := reloaded.GetScript(op)
	if !ok || amount != 5000000000 || string(script) != string([]byte{0x76, 0xa9}) {
		t.Fatalf("got amount=%d script=%x ok=%v", amount, script, ok)
	}
}

// TestStoreSaveReplacesPriorSnapshot checks a second Save fully replaces
// the first rather than merging with it.
func TestStoreSaveReplacesPriorSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "utxo")
	store, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore: %s", err)
	}
	defer store.Close()

	first := New()
	if err := first.Apply(coinbaseBlock(chainhash.Hash{1}, 1000, []byte{0x51}), 1); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(first); err != nil {
		t.Fatal(err)
	}

	second := New()
	if err := store.Save(second); err != nil {
		t.Fatal(err)
	}

	reloaded := New()
	if err := store.Load(reloaded); err != nil {
		t.Fatal(err)
	}
	if reloaded.Len() != 0 {
		t.Fatalf("expected the second (empty) snapshot to replace the first, got %d entries", reloaded.Len())
	}
}
