package validate

import (
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/util"
	"github.com/btcnode/btcnode/wire"
)

func sampleTx(n byte) *wire.MsgTx {
	hash := chainhash.Hash{n}
	tx := wire.NewMsgTx(1)
	tx.TxIn = []*wire.TxIn{wire.NewTxIn(wire.NewOutpoint(&hash, 0), []byte{0x01, n})}
	tx.TxOut = []*wire.TxOut{wire.NewTxOut(int64(n)*1000, []byte{0x76, 0xa9})}
	return tx
}

// TestMerkleRootSingleTx exercises testable property 2 for the
// one-transaction case: the root is just that transaction's hash.
func TestMerkleRootSingleTx(t *testing.T) {
	tx := sampleTx(1)
	got := MerkleRoot([]*wire.MsgTx{tx})
	want := tx.TxHash()
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

// TestMerkleProofVerifiesForEveryLeaf builds a tree over an odd number of
// transactions (forcing the duplicate-last-node rule) and checks every
// leaf's inclusion proof verifies against the root, per testable property
// 7.
func TestMerkleProofVerifiesForEveryLeaf(t *testing.T) {
	txs := []*wire.MsgTx{sampleTx(1), sampleTx(2), sampleTx(3)}
	root := MerkleRoot(txs)

	for i, tx := range txs {
		proof, err := MerkleProof(txs, i)
		if err != nil {
			t.Fatalf("MerkleProof(%d): %s", i, err)
		}
		if !VerifyProof(tx.TxHash(), proof, root) {
			t.Errorf("VerifyProof failed for tx %d", i)
		}
	}
}

// TestMerkleProofRejectsWrongRoot checks VerifyProof returns false against
// a root that does not match the proof.
func TestMerkleProofRejectsWrongRoot(t *testing.T) {
	txs := []*wire.MsgTx{sampleTx(1), sampleTx(2)}
	proof, err := MerkleProof(txs, 0)
	if err != nil {
		t.Fatal(err)
	}
	if VerifyProof(txs[0].TxHash(), proof, chainhash.Hash{0xff}) {
		t.Fatal("expected VerifyProof to reject a mismatched root")
	}
}

// TestMerkleProofOutOfRange checks MerkleProof rejects an index outside the
// transaction list.
func TestMerkleProofOutOfRange(t *testing.T) {
	txs := []*wire.MsgTx{sampleTx(1)}
	if _, err := MerkleProof(txs, 5); err == nil {
		t.Fatal("expected an out-of-range error")
	}
}

// TestCheckProofOfWorkAcceptsSatisfyingHash exercises testable property 1:
// a hash numerically at or below its target passes.
func TestCheckProofOfWorkAcceptsSatisfyingHash(t *testing.T) {
	bits := uint32(0x1d00ffff)
	target := TargetFromBits(bits)

	var hash chainhash.Hash
	// All-zero hash is numerically zero, which is <= any positive target.
	if !CheckProofOfWork(&hash, bits, target) {
		t.Fatal("expected the zero hash to satisfy any positive target")
	}
}

// TestCheckProofOfWorkRejectsAboveTarget checks a hash exceeding its own
// target fails, independent of powLimit.
func TestCheckProofOfWorkRejectsAboveTarget(t *testing.T) {
	bits := uint32(0x03000001) // tiny target: mantissa 1 at exponent 3
	target := TargetFromBits(bits)

	var hash chainhash.Hash
	for i := range hash {
		hash[i] = 0xff
	}
	if CheckProofOfWork(&hash, bits, nil) {
		t.Fatal("expected an all-0xff hash to exceed a tiny target")
	}
	_ = target
}

// TestCheckProofOfWorkRejectsAbovePowLimit checks a target looser than
// powLimit is rejected even if the hash would satisfy it.
func TestCheckProofOfWorkRejectsAbovePowLimit(t *testing.T) {
	loose := uint32(0x1f00ffff)
	strict := big.NewInt(1)

	var hash chainhash.Hash
	if CheckProofOfWork(&hash, loose, strict) {
		t.Fatal("expected a target looser than powLimit to be rejected")
	}
}

// TestExtractPubKeyHashRecognizesP2PKH checks ExtractPubKeyHash parses a
// standard locking script and rejects anything else.
func TestExtractPubKeyHashRecognizesP2PKH(t *testing.T) {
	pubKeyHash := make([]byte, 20)
	for i := range pubKeyHash {
		pubKeyHash[i] = byte(i)
	}
	script := append([]byte{opDup, opHash160, 0x14}, pubKeyHash...)
	script = append(script, opEqualVerify, opCheckSig)

	got, ok := ExtractPubKeyHash(script)
	if !ok {
		t.Fatal("expected script to be recognized as P2PKH")
	}
	if string(got) != string(pubKeyHash) {
		t.Fatalf("got %x, want %x", got, pubKeyHash)
	}

	if _, ok := ExtractPubKeyHash([]byte{0x51}); ok {
		t.Fatal("expected a non-P2PKH script to be rejected")
	}
}

// signedSpend builds a one-input, one-output transaction spending
// prevOp (whose output carries pkScript) and signs input 0 for it with
// priv, using the same CalcSignatureHash a verifier would recompute.
func signedSpend(t *testing.T, priv *btcec.PrivateKey, pkScript []byte, prevOp wire.Outpoint, outValue int64) *wire.MsgTx {
	t.Helper()

	pubKeyBytes := priv.PubKey().SerializeCompressed()

	tx := wire.NewMsgTx(1)
	tx.TxIn = []*wire.TxIn{wire.NewTxIn(&prevOp, nil)}
	tx.TxOut = []*wire.TxOut{wire.NewTxOut(outValue, []byte{0x76, 0xa9})}

	sighash := CalcSignatureHash(tx, 0, pkScript)
	sig := ecdsa.Sign(priv, sighash[:])
	sigBytes := append(sig.Serialize(), byte(SigHashAll))

	sigScript := append([]byte{byte(len(sigBytes))}, sigBytes...)
	sigScript = append(sigScript, byte(len(pubKeyBytes)))
	sigScript = append(sigScript, pubKeyBytes...)
	tx.TxIn[0].SignatureScript = sigScript

	return tx
}

// TestVerifyP2PKHRoundTrip builds a real P2PKH locking script and a
// transaction that genuinely spends it, signing over the
// CalcSignatureHash a verifier would independently recompute (spec §4.F
// rule 4), and checks VerifyP2PKH accepts it, then checks a wrong
// sighash is rejected.
func TestVerifyP2PKHRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pubKeyHash := util.Hash160(priv.PubKey().SerializeCompressed())

	pkScript := append([]byte{opDup, opHash160, 0x14}, pubKeyHash...)
	pkScript = append(pkScript, opEqualVerify, opCheckSig)

	prevOp := wire.Outpoint{TxID: chainhash.Hash{7}, Index: 0}
	tx := signedSpend(t, priv, pkScript, prevOp, 900)
	sighash := CalcSignatureHash(tx, 0, pkScript)

	if err := VerifyP2PKH(pkScript, tx.TxIn[0].SignatureScript, sighash); err != nil {
		t.Fatalf("expected a correctly-signed script to verify, got %s", err)
	}

	wrongSighash := chainhash.Hash{1, 2, 3}
	if err := VerifyP2PKH(pkScript, tx.TxIn[0].SignatureScript, wrongSighash); err == nil {
		t.Fatal("expected verification against a different sighash to fail")
	}
}

// fakeView is a minimal validate.UTXOView for CheckTransactionInputs tests.
type fakeView map[wire.Outpoint]struct {
	amount   int64
	pkScript []byte
}

func (v fakeView) GetScript(op wire.Outpoint) (int64, []byte, bool) {
	e, ok := v[op]
	return e.amount, e.pkScript, ok
}

// TestCheckTransactionInputsMissingUTXO checks a transaction spending an
// outpoint absent from the view is rejected.
func TestCheckTransactionInputsMissingUTXO(t *testing.T) {
	tx := sampleTx(1)
	if err := CheckTransactionInputs(tx, fakeView{}); err == nil {
		t.Fatal("expected a missing UTXO to be rejected")
	}
}

// TestCheckTransactionInputsInsufficientAmount checks a transaction whose
// inputs sum to less than its outputs is rejected, per spec §4.F rule 5.
func TestCheckTransactionInputsInsufficientAmount(t *testing.T) {
	hash := chainhash.Hash{5}
	op := wire.Outpoint{TxID: hash, Index: 0}

	tx := wire.NewMsgTx(1)
	tx.TxIn = []*wire.TxIn{wire.NewTxIn(&op, nil)}
	tx.TxOut = []*wire.TxOut{wire.NewTxOut(1000, []byte{0x51})}

	view := fakeView{op: {amount: 500, pkScript: []byte{0x51}}}
	if err := CheckTransactionInputs(tx, view); err == nil {
		t.Fatal("expected insufficient input amount to be rejected")
	}
}

// TestCheckTransactionInputsAcceptsUnrecognizedScript checks that an input
// spending a non-P2PKH output is accepted without a script check, per spec
// §4.F rule 4 "the validator still accepts the transaction".
func TestCheckTransactionInputsAcceptsUnrecognizedScript(t *testing.T) {
	hash := chainhash.Hash{5}
	op := wire.Outpoint{TxID: hash, Index: 0}

	tx := wire.NewMsgTx(1)
	tx.TxIn = []*wire.TxIn{wire.NewTxIn(&op, nil)}
	tx.TxOut = []*wire.TxOut{wire.NewTxOut(500, []byte{0x51})}

	view := fakeView{op: {amount: 1000, pkScript: []byte{0x51}}}
	if err := CheckTransactionInputs(tx, view); err != nil {
		t.Fatalf("expected an unrecognized script to be accepted, got %s", err)
	}
}

// TestCheckTransactionInputsAcceptsRealSignedP2PKH builds a genuinely
// signed P2PKH spend and checks CheckTransactionInputs accepts it end to
// end against a UTXO view carrying the real previous locking script,
// and rejects the same transaction once its signature is tampered with.
// This is the case spec §4.F rule 4 exists for: unlike sampleTx's
// unvalidated placeholder scriptSig, this input must independently
// verify under CalcSignatureHash's per-input script substitution.
func TestCheckTransactionInputsAcceptsRealSignedP2PKH(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	pubKeyHash := util.Hash160(priv.PubKey().SerializeCompressed())
	pkScript := append([]byte{opDup, opHash160, 0x14}, pubKeyHash...)
	pkScript = append(pkScript, opEqualVerify, opCheckSig)

	prevOp := wire.Outpoint{TxID: chainhash.Hash{11}, Index: 0}
	tx := signedSpend(t, priv, pkScript, prevOp, 900)

	view := fakeView{prevOp: {amount: 1000, pkScript: pkScript}}
	if err := CheckTransactionInputs(tx, view); err != nil {
		t.Fatalf("expected a genuinely signed P2PKH spend to verify, got %s", err)
	}

	tampered := *tx
	tamperedSig := append([]byte{}, tx.TxIn[0].SignatureScript...)
	tamperedSig[10] ^= 0xff
	tampered.TxIn = []*wire.TxIn{wire.NewTxIn(&prevOp, tamperedSig)}
	if err := CheckTransactionInputs(&tampered, view); err == nil {
		t.Fatal("expected a tampered signature to be rejected")
	}
}

// TestCheckCoinbase checks the first-and-only-coinbase rule of spec §4.F
// rule 3.
func TestCheckCoinbase(t *testing.T) {
	coinbase := wire.NewMsgTx(1)
	coinbase.TxIn = []*wire.TxIn{wire.NewTxIn(wire.NewOutpoint(&chainhash.ZeroHash, wire.CoinbaseIndex), []byte{0x00})}
	coinbase.TxOut = []*wire.TxOut{wire.NewTxOut(5000000000, []byte{0x76, 0xa9})}

	normal := sampleTx(1)

	if err := CheckCoinbase([]*wire.MsgTx{coinbase, normal}); err != nil {
		t.Fatalf("expected a well-formed block to pass, got %s", err)
	}
	if err := CheckCoinbase([]*wire.MsgTx{normal, coinbase}); err == nil {
		t.Fatal("expected a block with no leading coinbase to be rejected")
	}
	if err := CheckCoinbase([]*wire.MsgTx{coinbase, coinbase}); err == nil {
		t.Fatal("expected a second coinbase to be rejected")
	}
}
