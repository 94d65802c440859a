// Package wallet implements the P2PKH wallet layered on the node kernel
// (spec §1, §6): account key material, balance/input queries against the
// UTXO set, transaction broadcast, and merkle proof verification.
package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcutil/base58"
	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/util"
	"github.com/btcnode/btcnode/validate"
)

// pubKeyHashAddrID selects testnet3 vs mainnet P2PKH address version
// bytes, the same constants btcutil's chaincfg.Params carries for
// PubKeyHashAddrID.
const (
	pubKeyHashAddrIDTestnet = 0x6f
	pubKeyHashAddrIDMainnet = 0x00
)

// Account is the original_source's account.rs notion of a single managed
// keypair and its derived address (SPEC_FULL.md §7 supplemented
// feature): the unit the wallet-facing API of spec §6 operates against.
type Account struct {
	privKey   *btcec.PrivateKey
	mainNet   bool
	address   string
	scriptPub []byte
}

// NewAccount generates a fresh secp256k1 keypair and derives its P2PKH
// address for the given network.
func NewAccount(mainNet bool) (*Account, error) {
	privKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generating account key")
	}
	return accountFromKey(privKey, mainNet)
}

// AccountFromWIF imports a private key from its wallet-import-format
// encoding (version byte + 32-byte key + compression flag, base58check).
func AccountFromWIF(wif string, mainNet bool) (*Account, error) {
	decoded, _, err := base58.CheckDecode(wif)
	if err != nil {
		return nil, errors.Wrap(err, "decoding WIF")
	}
	if len(decoded) < 32 {
		return nil, errors.New("WIF payload too short")
	}
	privKey, _ := btcec.PrivKeyFromBytes(decoded[:32])
	return accountFromKey(privKey, mainNet)
}

func accountFromKey(privKey *btcec.PrivateKey, mainNet bool) (*Account, error) {
	pubKeyBytes := privKey.PubKey().SerializeCompressed()
	pubKeyHash := util.Hash160(pubKeyBytes)

	versionByte := byte(pubKeyHashAddrIDTestnet)
	if mainNet {
		versionByte = pubKeyHashAddrIDMainnet
	}
	address := base58.CheckEncode(pubKeyHash, versionByte)

	scriptPub := p2pkhScript(pubKeyHash)

	return &Account{
		privKey:   privKey,
		mainNet:   mainNet,
		address:   address,
		scriptPub: scriptPub,
	}, nil
}

// p2pkhScript builds the standard locking script for a pubkey hash:
// OP_DUP OP_HASH160 <20 bytes> OP_EQUALVERIFY OP_CHECKSIG.
func p2pkhScript(pubKeyHash []byte) []byte {
	script := make([]byte, 0, 25)
	script = append(script, 0x76, 0xa9, 0x14)
	script = append(script, pubKeyHash...)
	script = append(script, 0x88, 0xac)
	return script
}

// Address returns the account's base58check P2PKH address.
func (a *Account) Address() string { return a.address }

// ScriptPubKey returns the locking script outputs paying this account
// use.
func (a *Account) ScriptPubKey() []byte { return a.scriptPub }

// PubKey returns the account's compressed public key bytes.
func (a *Account) PubKey() []byte {
	return a.privKey.PubKey().SerializeCompressed()
}

// Sign produces a DER-encoded ECDSA signature over sighash, the unlocking
// half of a P2PKH scriptSig (spec §4.F rule 4).
func (a *Account) Sign(sighash [32]byte) ([]byte, error) {
	sig := ecdsa.Sign(a.privKey, sighash[:])
	return sig.Serialize(), nil
}

// SignatureScript builds the scriptSig for a P2PKH input spending an
// output owned by this account: a signature push followed by a pubkey
// push. The signature push carries the trailing SIGHASH_TYPE byte every
// real Bitcoin scriptSig appends after the DER signature, so the result
// is a standard scriptSig a real node will relay and mine, not just one
// that verifies against this node's own validator.
func (a *Account) SignatureScript(sighash [32]byte) ([]byte, error) {
	sig, err := a.Sign(sighash)
	if err != nil {
		return nil, err
	}
	sig = append(sig, byte(validate.SigHashAll))
	pubKey := a.PubKey()

	script := make([]byte, 0, 1+len(sig)+1+len(pubKey))
	script = append(script, byte(len(sig)))
	script = append(script, sig...)
	script = append(script, byte(len(pubKey)))
	script = append(script, pubKey...)
	return script, nil
}
