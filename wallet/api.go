package wallet

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/events"
	"github.com/btcnode/btcnode/utxo"
	"github.com/btcnode/btcnode/validate"
	"github.com/btcnode/btcnode/wire"
)

// UTXOSource is the read access the wallet needs into the node's UTXO
// set (spec §4.G "wallet-scoped views"). A narrow interface keeps the
// wallet from depending on the controller's internals, per spec §9
// "resolve cyclic references" design note.
type UTXOSource interface {
	ScanForScripts(scripts [][]byte) []utxo.ScriptMatch
}

// BlockSource looks up a full block by hash, for proof_of_inclusion.
type BlockSource interface {
	Block(hash chainhash.Hash) (*wire.MsgBlock, bool)
}

// Broadcaster sends a signed transaction to the peer pool.
type Broadcaster interface {
	BroadcastTx(tx *wire.MsgTx) error
}

// API implements the four synchronous wallet-facing operations of spec
// §6 plus the Event Bus subscription, wired against the node's UTXO set,
// block store, and peer pool through the narrow interfaces above.
type API struct {
	utxoSource  UTXOSource
	blockSource BlockSource
	broadcaster Broadcaster
	bus         *events.Bus
}

// NewAPI returns a wallet API backed by the given node collaborators.
func NewAPI(utxoSource UTXOSource, blockSource BlockSource, broadcaster Broadcaster, bus *events.Bus) *API {
	return &API{utxoSource: utxoSource, blockSource: blockSource, broadcaster: broadcaster, bus: bus}
}

// Subscribe returns a new Event Bus subscription, the wallet's
// asynchronous stream per spec §6.
func (a *API) Subscribe() *events.Subscription {
	return a.bus.Subscribe()
}

// GetBalance sums the value of every unspent output locked by one of
// scriptHashes (spec §6 get_balance).
func (a *API) GetBalance(scriptHashes [][]byte) int64 {
	var total int64
	for _, m := range a.utxoSource.ScanForScripts(scriptHashes) {
		total += m.Entry.Amount
	}
	return total
}

// SelectedInput is one output SelectInputs chose to spend.
type SelectedInput struct {
	Outpoint wire.Outpoint
	Entry    *utxo.Entry
}

// ErrInsufficientFunds is returned by SelectInputs when the matched
// outputs cannot cover targetAmount.
var ErrInsufficientFunds = errors.New("insufficient funds to cover target amount")

// SelectInputs greedily picks unspent outputs locked by scriptHashes
// until their total is at least targetAmount (spec §6 select_inputs).
// Largest-first keeps the output count, and so the resulting
// transaction's size, small.
func (a *API) SelectInputs(scriptHashes [][]byte, targetAmount int64) ([]SelectedInput, int64, error) {
	matches := a.utxoSource.ScanForScripts(scriptHashes)
	sort.Slice(matches, func(i, j int) bool { return matches[i].Entry.Amount > matches[j].Entry.Amount })

	var selected []SelectedInput
	var total int64
	for _, m := range matches {
		if total >= targetAmount {
			break
		}
		selected = append(selected, SelectedInput{Outpoint: m.Outpoint, Entry: m.Entry})
		total += m.Entry.Amount
	}

	if total < targetAmount {
		return nil, 0, ErrInsufficientFunds
	}
	return selected, total, nil
}

// BroadcastTx hands tx to the peer pool for relay (spec §6 broadcast_tx),
// publishing a PendingTx event on success.
func (a *API) BroadcastTx(tx *wire.MsgTx) error {
	if err := a.broadcaster.BroadcastTx(tx); err != nil {
		return errors.Wrap(err, "broadcasting transaction")
	}

	scripts := make([][]byte, len(tx.TxOut))
	for i, out := range tx.TxOut {
		scripts[i] = out.PkScript
	}
	a.bus.Publish(events.PendingTx(tx.TxHash(), scripts))
	return nil
}

// ProofOfInclusion builds the merkle inclusion proof for txid within the
// block blockHash (spec §6 proof_of_inclusion).
func (a *API) ProofOfInclusion(txID, blockHash chainhash.Hash) (*validate.InclusionProof, error) {
	block, ok := a.blockSource.Block(blockHash)
	if !ok {
		return nil, errors.Errorf("block %s not found", blockHash)
	}

	for i, tx := range block.Transactions {
		if tx.TxHash() == txID {
			return validate.MerkleProof(block.Transactions, i)
		}
	}
	return nil, errors.Errorf("transaction %s not found in block %s", txID, blockHash)
}
