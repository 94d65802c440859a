package validate

import (
	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// nextPowerOfTwo returns the smallest power of two greater than or equal
// to n, the conventional size of the bottom level of a merkle tree store.
func nextPowerOfTwo(n int) int {
	if n <= 0 {
		return 0
	}
	exponent := 0
	for 1<<uint(exponent) < n {
		exponent++
	}
	return 1 << uint(exponent)
}

func hashMerkleBranches(left, right *chainhash.Hash) chainhash.Hash {
	var buf [chainhash.HashSize * 2]byte
	copy(buf[:chainhash.HashSize], left[:])
	copy(buf[chainhash.HashSize:], right[:])
	return chainhash.DoubleHashH(buf[:])
}

// BuildMerkleTreeStore builds the full merkle tree for the given
// transactions and returns it as a flattened slice (leaves, then each
// level up to and including the root), duplicating the last node of any
// level with odd cardinality, per spec §4.F rule 2.
func BuildMerkleTreeStore(transactions []*wire.MsgTx) []*chainhash.Hash {
	nextPoT := nextPowerOfTwo(len(transactions))
	arraySize := nextPoT*2 - 1
	merkles := make([]*chainhash.Hash, arraySize)

	for i, tx := range transactions {
		txHash := tx.TxHash()
		merkles[i] = &txHash
	}

	offset := nextPoT
	for i := 0; i < arraySize-offset; i += 2 {
		switch {
		case merkles[i] == nil:
			merkles[offset] = nil
		case merkles[i+1] == nil:
			newHash := hashMerkleBranches(merkles[i], merkles[i])
			merkles[offset] = &newHash
		default:
			newHash := hashMerkleBranches(merkles[i], merkles[i+1])
			merkles[offset] = &newHash
		}
		offset++
	}

	return merkles
}

// MerkleRoot computes just the root over the given transactions, per spec
// §4.F rule 2.
func MerkleRoot(transactions []*wire.MsgTx) chainhash.Hash {
	if len(transactions) == 0 {
		return chainhash.ZeroHash
	}
	store := BuildMerkleTreeStore(transactions)
	root := store[len(store)-1]
	if root == nil {
		return chainhash.ZeroHash
	}
	return *root
}

// InclusionProof is the sibling-hash path and left/right bit-vector
// produced by MerkleProof, sufficient for a verifier to recompute the
// root from a bare txid without seeing any other transaction (spec §4.F
// "Merkle proof of inclusion").
type InclusionProof struct {
	Siblings []chainhash.Hash
	// IsRight[i] is true when Siblings[i] is the right-hand node at that
	// level (i.e. the leaf/accumulated hash being proven is on the left).
	IsRight []bool
}

// MerkleProof builds the inclusion proof for the transaction at txIndex
// within transactions.
func MerkleProof(transactions []*wire.MsgTx, txIndex int) (*InclusionProof, error) {
	if txIndex < 0 || txIndex >= len(transactions) {
		return nil, errOutOfRange
	}

	leaves := make([]chainhash.Hash, len(transactions))
	for i, tx := range transactions {
		leaves[i] = tx.TxHash()
	}

	proof := &InclusionProof{}
	level := leaves
	index := txIndex
	for len(level) > 1 {
		var siblingIndex int
		isRight := index%2 == 0
		if isRight && index+1 >= len(level) {
			siblingIndex = index
		} else if isRight {
			siblingIndex = index + 1
		} else {
			siblingIndex = index - 1
		}
		proof.Siblings = append(proof.Siblings, level[siblingIndex])
		proof.IsRight = append(proof.IsRight, isRight)

		nextLevel := make([]chainhash.Hash, (len(level)+1)/2)
		for i := 0; i < len(nextLevel); i++ {
			l := level[i*2]
			var r chainhash.Hash
			if i*2+1 < len(level) {
				r = level[i*2+1]
			} else {
				r = l
			}
			nextLevel[i] = hashMerkleBranches(&l, &r)
		}
		level = nextLevel
		index /= 2
	}

	return proof, nil
}

// VerifyProof recomputes the merkle root from txid and proof and reports
// whether it equals root, per spec §4.F and testable property 7.
func VerifyProof(txID chainhash.Hash, proof *InclusionProof, root chainhash.Hash) bool {
	current := txID
	for i, sibling := range proof.Siblings {
		sib := sibling
		if proof.IsRight[i] {
			current = hashMerkleBranches(&current, &sib)
		} else {
			current = hashMerkleBranches(&sib, &current)
		}
	}
	return current == root
}

var errOutOfRange = merkleError("transaction index out of range")

type merkleError string

func (e merkleError) Error() string { return string(e) }
