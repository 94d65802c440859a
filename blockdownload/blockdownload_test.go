package blockdownload

import (
	"testing"
	"time"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// chainHashes builds n header hashes chained by PrevBlock, along with a
// MsgBlock for each (so ReceiveBlock has something to key by BlockHash).
func chainHashes(n int) ([]chainhash.Hash, []*wire.MsgBlock) {
	hashes := make([]chainhash.Hash, n)
	blocks := make([]*wire.MsgBlock, n)

	prev := chainhash.ZeroHash
	for i := 0; i < n; i++ {
		h := wire.NewBlockHeader(1, prev, chainhash.Hash{byte(i + 1)}, 0x1d00ffff, uint32(i))
		blocks[i] = wire.NewMsgBlock(h)
		hashes[i] = h.BlockHash()
		prev = hashes[i]
	}
	return hashes, blocks
}

// TestNextShardAssignsInOrderAndExhausts checks shards are handed out in
// order and ErrNoWork once exhausted, per spec §4.E "Work assignment".
func TestNextShardAssignsInOrderAndExhausts(t *testing.T) {
	hashes, _ := chainHashes(5)
	d := New(0, 4, 2, hashes)

	first, err := d.NextShard(1)
	if err != nil || len(first) != 2 || first[0] != hashes[0] {
		t.Fatalf("got shard=%v err=%v", first, err)
	}
	second, err := d.NextShard(2)
	if err != nil || len(second) != 2 || second[0] != hashes[2] {
		t.Fatalf("got shard=%v err=%v", second, err)
	}
	third, err := d.NextShard(3)
	if err != nil || len(third) != 1 || third[0] != hashes[4] {
		t.Fatalf("got shard=%v err=%v", third, err)
	}

	if _, err := d.NextShard(4); err != ErrNoWork {
		t.Fatalf("got %v, want ErrNoWork", err)
	}
}

// TestDrainAppliesInAscendingOrder exercises spec §4.E "Ordering": blocks
// are applied from nextApplyHeight upward, stopping at the first gap, even
// if later blocks arrive first.
func TestDrainAppliesInAscendingOrder(t *testing.T) {
	hashes, blocks := chainHashes(3)
	d := New(0, 2, 3, hashes)
	if _, err := d.NextShard(1); err != nil {
		t.Fatal(err)
	}

	// Receive out of order: height 2 before height 0 and 1.
	if err := d.ReceiveBlock(blocks[2]); err != nil {
		t.Fatal(err)
	}

	var applied []int32
	n, err := d.Drain(func(height int32, block *wire.MsgBlock) error {
		applied = append(applied, height)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 || len(applied) != 0 {
		t.Fatalf("expected nothing applied before height 0 arrives, got %v", applied)
	}

	if err := d.ReceiveBlock(blocks[0]); err != nil {
		t.Fatal(err)
	}
	if err := d.ReceiveBlock(blocks[1]); err != nil {
		t.Fatal(err)
	}

	n, err = d.Drain(func(height int32, block *wire.MsgBlock) error {
		applied = append(applied, height)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("got %d applied, want 3", n)
	}
	for i, h := range applied {
		if h != int32(i) {
			t.Fatalf("applied out of order: %v", applied)
		}
	}

	if !d.Done() {
		t.Fatal("expected Done() once every height has been applied")
	}
}

// TestReceiveBlockRejectsUnknownHash checks a block outside the current
// download range is rejected rather than silently buffered.
func TestReceiveBlockRejectsUnknownHash(t *testing.T) {
	hashes, _ := chainHashes(1)
	d := New(0, 0, 1, hashes)

	foreign := wire.NewMsgBlock(wire.NewBlockHeader(1, chainhash.Hash{0xff}, chainhash.Hash{1}, 0x1d00ffff, 99))
	if err := d.ReceiveBlock(foreign); err == nil {
		t.Fatal("expected a block outside the range to be rejected")
	}
}

// TestRequeueReturnsMissingHashesOnly checks Requeue puts back only the
// hashes that never arrived, per spec §4.E "On partial delivery".
func TestRequeueReturnsMissingHashesOnly(t *testing.T) {
	hashes, blocks := chainHashes(4)
	d := New(0, 3, 4, hashes)

	if _, err := d.NextShard(1); err != nil {
		t.Fatal(err)
	}
	if err := d.ReceiveBlock(blocks[0]); err != nil {
		t.Fatal(err)
	}
	if err := d.ReceiveBlock(blocks[2]); err != nil {
		t.Fatal(err)
	}

	d.Requeue(1)

	got, err := d.NextShard(2)
	if err != nil {
		t.Fatalf("NextShard after requeue: %s", err)
	}
	want := map[chainhash.Hash]bool{hashes[1]: true, hashes[3]: true}
	if len(got) != 2 || !want[got[0]] || !want[got[1]] {
		t.Fatalf("got requeued shard %v, want hashes 1 and 3", got)
	}
}

// TestStalledAssignmentsDetectsTimeout checks an assignment older than the
// timeout is reported, per spec §5 idle-timeout.
func TestStalledAssignmentsDetectsTimeout(t *testing.T) {
	hashes, _ := chainHashes(1)
	d := New(0, 0, 1, hashes)

	if _, err := d.NextShard(7); err != nil {
		t.Fatal(err)
	}

	if stalled := d.StalledAssignments(time.Hour); len(stalled) != 0 {
		t.Fatalf("expected no stalled assignments yet, got %v", stalled)
	}
	if stalled := d.StalledAssignments(0); len(stalled) != 1 || stalled[0] != 7 {
		t.Fatalf("got %v, want [7]", stalled)
	}
}
