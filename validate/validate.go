package validate

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// SigHashAll is the only signature hash type this node's wallet produces
// or verifies (spec §4.F rule 4); legacy Bitcoin also defines None,
// Single, and AnyOneCanPay, none of which a plain P2PKH wallet needs.
const SigHashAll uint32 = 0x1

// CalcSignatureHash computes the legacy SIGHASH_ALL signature hash for
// input idx of tx, per spec §4.F rule 4's "ECDSA verification over the
// appropriate sighash": every other input's unlocking script is blanked,
// the input being signed has prevPkScript (the output it spends)
// substituted in its place, and the sighash type is appended as a
// 4-byte little-endian trailer before hashing. Substituting the
// referenced output's locking script is what lets a signature commit to
// the right spending conditions without the signature itself being part
// of what it signs.
func CalcSignatureHash(tx *wire.MsgTx, idx int, prevPkScript []byte) chainhash.Hash {
	txCopy := wire.NewMsgTx(tx.Version)
	txCopy.LockTime = tx.LockTime

	txCopy.TxIn = make([]*wire.TxIn, len(tx.TxIn))
	for i, in := range tx.TxIn {
		var script []byte
		if i == idx {
			script = prevPkScript
		}
		txCopy.TxIn[i] = &wire.TxIn{
			PreviousOutpoint: in.PreviousOutpoint,
			SignatureScript:  script,
			Sequence:         in.Sequence,
		}
	}

	txCopy.TxOut = make([]*wire.TxOut, len(tx.TxOut))
	for i, out := range tx.TxOut {
		txCopy.TxOut[i] = &wire.TxOut{Value: out.Value, PkScript: out.PkScript}
	}

	var buf bytes.Buffer
	_ = txCopy.BtcEncode(&buf, 0)

	var typeBytes [4]byte
	binary.LittleEndian.PutUint32(typeBytes[:], SigHashAll)
	buf.Write(typeBytes[:])

	return chainhash.DoubleHashH(buf.Bytes())
}

// UTXOView is the minimal read access the validator needs into the UTXO
// set (spec §4.F rule 4). It is an interface, not a concrete dependency
// on the utxo package, so the Validator and the UTXO Set stay the two
// separate components §2 lists them as.
type UTXOView interface {
	GetScript(op wire.Outpoint) (amount int64, pkScript []byte, ok bool)
}

// RuleError names the specific check that failed in Rule and wraps the
// underlying error in Err.
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	if e.Err == nil {
		return e.Rule
	}
	return e.Rule + ": " + e.Err.Error()
}

func (e *RuleError) Unwrap() error { return e.Err }

func ruleErr(rule string, err error) error { return &RuleError{Rule: rule, Err: err} }

// CheckHeaderPoW recomputes the header hash and checks it against its own
// target and against powLimit, per spec §4.D / testable property 1.
func CheckHeaderPoW(header *wire.BlockHeader, powLimit *big.Int) error {
	hash := header.BlockHash()
	if !CheckProofOfWork(&hash, header.Bits, powLimit) {
		return ruleErr("PoW", errors.Errorf("block hash %s does not satisfy target for bits 0x%x", hash, header.Bits))
	}
	return nil
}

// CheckPrevHash verifies the chain-linkage invariant of spec §3: every
// header but genesis must point at the current tip.
func CheckPrevHash(header *wire.BlockHeader, tipHash [32]byte) error {
	if header.PrevBlock != tipHash {
		return ruleErr("PrevHash", errors.Errorf("header previous hash %s does not match tip %x", header.PrevBlock, tipHash))
	}
	return nil
}

// CheckMerkleRoot rebuilds the merkle tree over block.Transactions and
// compares it to block.Header.MerkleRoot, per spec §4.F rule 2 /
// testable property 2.
func CheckMerkleRoot(block *wire.MsgBlock) error {
	got := MerkleRoot(block.Transactions)
	if got != block.Header.MerkleRoot {
		return ruleErr("MerkleRoot", errors.Errorf("computed root %s != header root %s", got, block.Header.MerkleRoot))
	}
	return nil
}

// CheckCoinbase enforces spec §4.F rule 3: the first transaction, and
// only the first, must be a coinbase.
func CheckCoinbase(transactions []*wire.MsgTx) error {
	if len(transactions) == 0 {
		return ruleErr("Coinbase", errors.New("block has no transactions"))
	}
	if !transactions[0].IsCoinBase() {
		return ruleErr("Coinbase", errors.New("first transaction is not a coinbase"))
	}
	for i, tx := range transactions[1:] {
		if tx.IsCoinBase() {
			return ruleErr("Coinbase", errors.Errorf("transaction %d is an unexpected coinbase", i+1))
		}
	}
	return nil
}

// CheckTransactionInputs enforces spec §4.F rules 4-5 for one non-coinbase
// transaction against the given UTXO view: every input must resolve, any
// P2PKH output it spends must verify, and input amounts must sum to at
// least output amounts. Outputs the wallet does not recognize (not
// P2PKH) are not script-checked, matching spec §4.F rule 4's "the
// validator still accepts the transaction" for unrecognized scripts.
func CheckTransactionInputs(tx *wire.MsgTx, view UTXOView) error {
	var totalIn int64
	for i, in := range tx.TxIn {
		amount, pkScript, ok := view.GetScript(in.PreviousOutpoint)
		if !ok {
			return ruleErr("MissingUTXO", errors.Errorf("outpoint %s:%d not found", in.PreviousOutpoint.TxID, in.PreviousOutpoint.Index))
		}
		totalIn += amount

		if _, isP2PKH := ExtractPubKeyHash(pkScript); isP2PKH {
			sighash := CalcSignatureHash(tx, i, pkScript)
			if err := VerifyP2PKH(pkScript, in.SignatureScript, sighash); err != nil {
				return ruleErr("Script", err)
			}
		}
	}

	var totalOut int64
	for _, out := range tx.TxOut {
		totalOut += out.Value
	}

	if totalIn < totalOut {
		return ruleErr("InsufficientInput", errors.Errorf("input total %d is less than output total %d", totalIn, totalOut))
	}
	return nil
}

// CheckBlock runs the full per-block validation pipeline of spec §4.F
// rules 1-3 (PoW, merkle root, coinbase shape); input/amount checks (rule
// 4-5) are run per-transaction via CheckTransactionInputs once the caller
// has a UTXO view reflecting all strictly-lower-height blocks applied
// (spec §4.E "Ordering").
func CheckBlock(block *wire.MsgBlock, tipHash [32]byte, powLimit *big.Int) error {
	if err := CheckHeaderPoW(&block.Header, powLimit); err != nil {
		return err
	}
	if err := CheckPrevHash(&block.Header, tipHash); err != nil {
		return err
	}
	if err := CheckMerkleRoot(block); err != nil {
		return err
	}
	return CheckCoinbase(block.Transactions)
}
