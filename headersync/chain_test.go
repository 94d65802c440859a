package headersync

import (
	"math/big"
	"testing"
	"time"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// easyBits encodes a target so loose that essentially every hash satisfies
// it, letting tests build valid header chains without real mining.
const easyBits = 0x217fffff

func easyPowLimit() *big.Int { return new(big.Int).Lsh(big.NewInt(1), 263) }

func testGenesis() *wire.BlockHeader {
	h := wire.NewBlockHeader(1, chainhash.ZeroHash, chainhash.Hash{0xaa}, easyBits, 0)
	h.Timestamp = time.Unix(1296688602, 0)
	return h
}

// chainOf builds a Chain from genesis and appends n further headers in a
// single batch, each extending the previous by PrevBlock linkage.
func chainOf(t *testing.T, n int) (*Chain, []*wire.BlockHeader) {
	t.Helper()
	genesis := testGenesis()
	c := New(genesis, easyPowLimit())

	tipHash := genesis.BlockHash()
	headers := make([]*wire.BlockHeader, 0, n)
	for i := 0; i < n; i++ {
		h := wire.NewBlockHeader(1, tipHash, chainhash.Hash{byte(i + 1)}, easyBits, uint32(i))
		h.Timestamp = time.Unix(int64(1296688602+i*600), 0)
		headers = append(headers, h)
		tipHash = h.BlockHash()
	}
	if err := c.AppendBatch(headers); err != nil {
		t.Fatalf("AppendBatch: %s", err)
	}
	return c, headers
}

// TestAppendBatchExtendsHeight checks appending a batch advances the tip
// height by the batch length and updates Tip/HeaderAt accordingly.
func TestAppendBatchExtendsHeight(t *testing.T) {
	c, headers := chainOf(t, 5)

	if got := c.Height(); got != 5 {
		t.Fatalf("got height %d, want 5", got)
	}

	_, tipHash := c.Tip()
	if want := headers[4].BlockHash(); tipHash != want {
		t.Fatalf("got tip %s, want %s", tipHash, want)
	}

	hdr, ok := c.HeaderAt(3)
	if !ok || hdr.BlockHash() != headers[2].BlockHash() {
		t.Fatalf("HeaderAt(3) mismatch")
	}
}

// TestAppendBatchRejectsBadLinkage checks a header whose PrevBlock does not
// match the running tip fails the whole batch (spec §4.D linkage check).
func TestAppendBatchRejectsBadLinkage(t *testing.T) {
	genesis := testGenesis()
	c := New(genesis, easyPowLimit())

	bad := wire.NewBlockHeader(1, chainhash.Hash{0xff}, chainhash.Hash{1}, easyBits, 0)
	if err := c.AppendBatch([]*wire.BlockHeader{bad}); err == nil {
		t.Fatal("expected bad linkage to be rejected")
	}
	if c.Height() != 0 {
		t.Fatalf("expected no mutation, got height %d", c.Height())
	}
}

// TestAppendBatchRejectsInsufficientPoW checks a header whose target is
// tighter than its own hash allows is rejected.
func TestAppendBatchRejectsInsufficientPoW(t *testing.T) {
	genesis := testGenesis()
	c := New(genesis, easyPowLimit())

	// bits=1 yields a near-zero target essentially no hash can satisfy.
	bad := wire.NewBlockHeader(1, genesis.BlockHash(), chainhash.Hash{1}, 1, 0)
	if err := c.AppendBatch([]*wire.BlockHeader{bad}); err == nil {
		t.Fatal("expected insufficient PoW to be rejected")
	}
}

// TestHeightOfFirstAtOrAfter checks the date-based lookup spec §4.E needs
// for date_first_block_to_download.
func TestHeightOfFirstAtOrAfter(t *testing.T) {
	c, headers := chainOf(t, 5)

	target := headers[2].Timestamp.Unix()
	height, ok := c.HeightOfFirstAtOrAfter(target)
	if !ok || height != 3 {
		t.Fatalf("got height=%d ok=%v, want 3", height, ok)
	}

	if _, ok := c.HeightOfFirstAtOrAfter(target + 10_000_000); ok {
		t.Fatal("expected no header to satisfy a far-future timestamp")
	}
}

// TestHeadersReturnsPrefix checks Headers returns exactly the first n
// headers, used by the persistence path.
func TestHeadersReturnsPrefix(t *testing.T) {
	c, _ := chainOf(t, 5)

	got := c.Headers(3)
	if len(got) != 3 {
		t.Fatalf("got %d headers, want 3", len(got))
	}
	for i, h := range got {
		want, _ := c.HeaderAt(int32(i))
		if h.BlockHash() != want.BlockHash() {
			t.Fatalf("Headers()[%d] does not match HeaderAt(%d)", i, i)
		}
	}
}

// TestBuildLocatorIncludesTipAndGenesis checks the locator's first and
// last entries are the tip and genesis hashes respectively.
func TestBuildLocatorIncludesTipAndGenesis(t *testing.T) {
	c, headers := chainOf(t, 20)

	locator := c.BuildLocator()
	if len(locator) < 2 {
		t.Fatalf("expected at least 2 locator entries, got %d", len(locator))
	}

	if want := headers[19].BlockHash(); *locator[0] != want {
		t.Fatalf("got first locator hash %s, want tip %s", locator[0], want)
	}

	genesisHash := testGenesis().BlockHash()
	last := *locator[len(locator)-1]
	if last != genesisHash {
		t.Fatalf("got last locator hash %s, want genesis %s", last, genesisHash)
	}
}
