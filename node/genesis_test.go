package node

import (
	"testing"

	"github.com/btcnode/btcnode/validate"
)

// TestGenesisHeaderSelectsNetwork checks testnet3 and mainnet return their
// own hard-coded genesis headers (spec §3 "Genesis is hard-coded per
// network").
func TestGenesisHeaderSelectsNetwork(t *testing.T) {
	testnet := GenesisHeader(false)
	mainnet := GenesisHeader(true)

	if testnet.BlockHash() == mainnet.BlockHash() {
		t.Fatal("expected distinct testnet3 and mainnet genesis hashes")
	}
	if testnet.Timestamp.Equal(mainnet.Timestamp) {
		t.Fatal("expected distinct genesis timestamps")
	}
}

// TestGenesisHeaderSatisfiesItsOwnPoW checks the hard-coded genesis
// headers pass the same proof-of-work check any other header would.
func TestGenesisHeaderSatisfiesItsOwnPoW(t *testing.T) {
	for _, mainNet := range []bool{false, true} {
		h := GenesisHeader(mainNet)
		if err := validate.CheckHeaderPoW(h, PowLimit()); err != nil {
			t.Errorf("mainNet=%v: genesis header fails its own PoW check: %s", mainNet, err)
		}
	}
}

// TestGenesisHeaderReturnsACopy checks mutating the returned header does
// not corrupt the package-level constant.
func TestGenesisHeaderReturnsACopy(t *testing.T) {
	h := GenesisHeader(false)
	originalHash := h.BlockHash()
	h.Nonce++

	again := GenesisHeader(false)
	if again.BlockHash() != originalHash {
		t.Fatal("expected GenesisHeader to return an independent copy each call")
	}
}
