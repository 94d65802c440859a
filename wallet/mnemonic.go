package wallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// NewMnemonic generates a fresh 12-word BIP-39 mnemonic suitable for
// NewFromMnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(128)
	if err != nil {
		return "", errors.Wrap(err, "generating entropy")
	}
	return bip39.NewMnemonic(entropy)
}

// NewFromMnemonic derives a deterministic Account from a BIP-39 mnemonic
// and optional passphrase, matching the teacher's seed-phrase wallet
// convention (SPEC_FULL.md §6 domain-stack rationale for go-bip39). The
// account key is the first 32 bytes of the BIP-39 seed; this wallet keeps
// one account per mnemonic rather than a full BIP-32 derivation tree,
// which spec §6 does not ask for.
func NewFromMnemonic(mnemonic, passphrase string, mainNet bool) (*Account, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)

	privKey, _ := btcec.PrivKeyFromBytes(seed[:32])
	return accountFromKey(privKey, mainNet)
}
