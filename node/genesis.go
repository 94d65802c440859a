package node

import (
	"math/big"
	"time"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/validate"
	"github.com/btcnode/btcnode/wire"
)

// PowLimitBits is the compact encoding of the maximum permitted PoW
// target, shared by testnet3 and mainnet: the well-known Bitcoin value
// 2**224-1.
const PowLimitBits = 0x1d00ffff

// PowLimit expands PowLimitBits into the big.Int the validator compares
// headers against (spec §3 "the target is <= network maximum").
func PowLimit() *big.Int { return validate.TargetFromBits(PowLimitBits) }

func mustHash(s string) chainhash.Hash {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		panic(err)
	}
	return *h
}

// testnet3Genesis is the hard-coded testnet3 genesis header (spec §3
// "Genesis (height 0) is hard-coded per network").
var testnet3Genesis = wire.BlockHeader{
	Version:    1,
	PrevBlock:  chainhash.ZeroHash,
	MerkleRoot: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
	Timestamp:  time.Unix(1296688602, 0),
	Bits:       0x1d00ffff,
	Nonce:      414098458,
}

// mainNetGenesis is the hard-coded mainnet genesis header.
var mainNetGenesis = wire.BlockHeader{
	Version:    1,
	PrevBlock:  chainhash.ZeroHash,
	MerkleRoot: mustHash("4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"),
	Timestamp:  time.Unix(1231006505, 0),
	Bits:       0x1d00ffff,
	Nonce:      2083236893,
}

// GenesisHeader returns the hard-coded genesis header for the network,
// selected by mainNet.
func GenesisHeader(mainNet bool) *wire.BlockHeader {
	if mainNet {
		h := mainNetGenesis
		return &h
	}
	h := testnet3Genesis
	return &h
}
