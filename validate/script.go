// Package validate implements the node's block and transaction checks
// (spec §4.F): proof-of-work, merkle root recomputation, the coinbase
// rule, P2PKH script verification, and the input/output amount check.
package validate

import (
	"bytes"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/util"
)

// Standard P2PKH opcodes; only the handful this node's wallet needs to
// recognize (spec §1 "does not implement non-P2PKH script semantics").
const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqualVerify = 0x88
	opCheckSig    = 0xac
)

// ExtractPubKeyHash reports whether pkScript is a standard P2PKH locking
// script (OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG) and, if
// so, returns the pubkey hash it pushes.
func ExtractPubKeyHash(pkScript []byte) (hash []byte, ok bool) {
	if len(pkScript) != 25 {
		return nil, false
	}
	if pkScript[0] != opDup || pkScript[1] != opHash160 || pkScript[2] != 0x14 {
		return nil, false
	}
	if pkScript[23] != opEqualVerify || pkScript[24] != opCheckSig {
		return nil, false
	}
	return pkScript[3:23], true
}

// pushedData parses a scriptSig made of two canonical data pushes
// (signature plus its trailing SIGHASH_TYPE byte, then pubkey), the only
// form this node's wallet produces or needs to verify. Real Bitcoin
// scriptSigs always carry the sighash type as the last byte of the
// signature push, after the DER encoding; it is split off here rather
// than handed to the DER parser.
func pushedData(sigScript []byte) (sig []byte, sigHashType byte, pubKey []byte, err error) {
	r := bytes.NewReader(sigScript)
	sigPush, err := readPush(r)
	if err != nil {
		return nil, 0, nil, errors.Wrap(err, "reading signature push")
	}
	if len(sigPush) < 2 {
		return nil, 0, nil, errors.New("signature push too short to carry a sighash type")
	}
	sig = sigPush[:len(sigPush)-1]
	sigHashType = sigPush[len(sigPush)-1]

	pubKey, err = readPush(r)
	if err != nil {
		return nil, 0, nil, errors.Wrap(err, "reading pubkey push")
	}
	if r.Len() != 0 {
		return nil, 0, nil, errors.New("trailing bytes after pubkey push")
	}
	return sig, sigHashType, pubKey, nil
}

func readPush(r *bytes.Reader) ([]byte, error) {
	opcode, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	var length int
	switch {
	case opcode >= 1 && opcode <= 75:
		length = int(opcode)
	default:
		return nil, errors.Errorf("unsupported push opcode 0x%x", opcode)
	}

	data := make([]byte, length)
	if _, err := r.Read(data); err != nil {
		return nil, err
	}
	return data, nil
}

// VerifyP2PKH checks that sigScript satisfies pkScript for the given
// sighash, per spec §4.F rule 4: the pubkey push must hash (SHA-256 then
// RIPEMD-160) to the hash pkScript commits to, the trailing sighash-type
// byte must name a type this validator supports, and the ECDSA signature
// over sighash must verify against that pubkey.
func VerifyP2PKH(pkScript, sigScript []byte, sighash chainhash.Hash) error {
	wantHash, ok := ExtractPubKeyHash(pkScript)
	if !ok {
		return errors.New("not a P2PKH locking script")
	}

	sigBytes, sigHashType, pubKeyBytes, err := pushedData(sigScript)
	if err != nil {
		return errors.Wrap(err, "parsing unlocking script")
	}
	if sigHashType != byte(SigHashAll) {
		return errors.Errorf("unsupported sighash type 0x%x", sigHashType)
	}

	gotHash := util.Hash160(pubKeyBytes)
	if !bytes.Equal(wantHash, gotHash) {
		return errors.New("pubkey hash mismatch")
	}

	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return errors.Wrap(err, "parsing public key")
	}

	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return errors.Wrap(err, "parsing signature")
	}

	if !sig.Verify(sighash[:], pubKey) {
		return errors.New("signature verification failed")
	}
	return nil
}
