package validate

import (
	"math/big"

	"github.com/btcnode/btcnode/chainhash"
)

// compactToBig converts a compact-encoded difficulty target ("nBits", spec
// §3) to a big.Int. The encoding packs a base-256 exponent in the high
// byte and a 3-byte mantissa in the rest, the same scheme Bitcoin has used
// since the genesis block; there is no library in this module's dependency
// set that already implements it, so it is written out directly.
func compactToBig(compact uint32) *big.Int {
	mantissa := compact & 0x007fffff
	exponent := compact >> 24

	var bn *big.Int
	if exponent <= 3 {
		mantissa >>= 8 * (3 - exponent)
		bn = big.NewInt(int64(mantissa))
	} else {
		bn = big.NewInt(int64(mantissa))
		bn.Lsh(bn, 8*(uint(exponent)-3))
	}

	if compact&0x00800000 != 0 {
		bn = bn.Neg(bn)
	}
	return bn
}

// bigToCompact is the inverse of compactToBig, used to round-trip the
// maximum allowed target into the compact form a header's Bits field
// holds.
func bigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))

	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tn := new(big.Int).Set(n)
		mantissa = uint32(tn.Rsh(tn, 8*(exponent-3)).Bits()[0])
	}

	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent)<<24 | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// hashToBig interprets a hash as a big.Int for comparison against a
// target: the hash is stored little-endian, but its numeric value is
// computed over the big-endian byte order.
func hashToBig(hash *chainhash.Hash) *big.Int {
	buf := *hash
	for i := 0; i < len(buf)/2; i++ {
		buf[i], buf[len(buf)-1-i] = buf[len(buf)-1-i], buf[i]
	}
	return new(big.Int).SetBytes(buf[:])
}

// TargetFromBits expands a compact difficulty target into a full big.Int,
// per spec §3's `target_from_nBits(header.nBits)`.
func TargetFromBits(bits uint32) *big.Int {
	return compactToBig(bits)
}

// CheckProofOfWork reports whether hash satisfies the target encoded by
// bits, per spec §3's invariant `header.hash <= target_from_nBits(header.nBits)`.
func CheckProofOfWork(hash *chainhash.Hash, bits uint32, powLimit *big.Int) bool {
	target := TargetFromBits(bits)
	if target.Sign() <= 0 {
		return false
	}
	if powLimit != nil && target.Cmp(powLimit) > 0 {
		return false
	}
	return hashToBig(hash).Cmp(target) <= 0
}
