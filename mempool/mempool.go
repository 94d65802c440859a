// Package mempool implements the unconfirmed transaction pool (spec
// §4.H): a set of valid unconfirmed transactions keyed by txid, with
// eviction on block application including second-order eviction of
// transactions that the applied block's spends made invalid.
package mempool

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// ErrAlreadyInPool is returned when a transaction with the same txid is
// already tracked.
var ErrAlreadyInPool = errors.New("transaction already in mempool")

// ErrDoubleSpend is returned when a transaction conflicts with one
// already in the pool.
var ErrDoubleSpend = errors.New("transaction double-spends a mempool output")

// ErrMissingInput is returned when one of a transaction's inputs resolves
// against neither the UTXO set nor another mempool transaction.
var ErrMissingInput = errors.New("transaction input not found in utxo set or mempool")

// UTXOView is the read access the pool needs to shallowly validate an
// inbound transaction (spec §4.H "inputs exist in UTXO ... or another
// mempool tx"), mirroring validate.UTXOView so mempool does not need to
// import the utxo package directly.
type UTXOView interface {
	Contains(outpoint wire.Outpoint) bool
}

// Pool is the mempool's transaction set, guarded by a single mutex per
// spec §5 ("mempool mutex" is one of the three shared-resource locks).
type Pool struct {
	mu sync.Mutex

	transactions map[chainhash.Hash]*wire.MsgTx
	spentBy      map[wire.Outpoint]chainhash.Hash
}

// New returns an empty mempool.
func New() *Pool {
	return &Pool{
		transactions: make(map[chainhash.Hash]*wire.MsgTx),
		spentBy:      make(map[wire.Outpoint]chainhash.Hash),
	}
}

// Contains reports whether txid is currently in the pool.
func (p *Pool) Contains(txID chainhash.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.transactions[txID]
	return ok
}

// Get returns the pooled transaction for txid, if any.
func (p *Pool) Get(txID chainhash.Hash) (*wire.MsgTx, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tx, ok := p.transactions[txID]
	return tx, ok
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.transactions)
}

// Insert shallowly validates tx (spec §4.H: well-formed, inputs resolve,
// no double-spend against the pool) and adds it. well-formedness beyond
// "has at least one input and one output" is left to the Validator when
// the transaction is later confirmed in a block; the mempool's job is to
// keep obviously-bad or conflicting transactions out of relay.
func (p *Pool) Insert(tx *wire.MsgTx, utxo UTXOView) error {
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return errors.New("transaction has no inputs or no outputs")
	}

	txID := tx.TxHash()

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.transactions[txID]; exists {
		return ErrAlreadyInPool
	}

	for _, in := range tx.TxIn {
		if _, conflicting := p.spentBy[in.PreviousOutpoint]; conflicting {
			return ErrDoubleSpend
		}
		if !utxo.Contains(in.PreviousOutpoint) {
			if _, fromPool := p.transactions[in.PreviousOutpoint.TxID]; !fromPool {
				return ErrMissingInput
			}
		}
	}

	p.transactions[txID] = tx
	for _, in := range tx.TxIn {
		p.spentBy[in.PreviousOutpoint] = txID
	}
	return nil
}

// ApplyBlock removes every transaction the block confirmed, and evicts
// any remaining mempool transaction that now double-spends one of the
// block's applied inputs (spec §4.H, testable property 4 and scenario
// S6). It returns the txids evicted (confirmed removals are not
// included; callers learn those by walking the block directly).
func (p *Pool) ApplyBlock(block *wire.MsgBlock) []chainhash.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()

	spentOutpoints := make(map[wire.Outpoint]struct{})
	for _, tx := range block.Transactions {
		txID := tx.TxHash()
		if _, inPool := p.transactions[txID]; inPool {
			p.remove(txID)
		}
		for _, in := range tx.TxIn {
			spentOutpoints[in.PreviousOutpoint] = struct{}{}
		}
	}

	var evicted []chainhash.Hash
	for outpoint := range spentOutpoints {
		if txID, ok := p.spentBy[outpoint]; ok {
			if _, stillPresent := p.transactions[txID]; stillPresent {
				p.remove(txID)
				evicted = append(evicted, txID)
			}
		}
	}

	return evicted
}

// remove deletes a transaction and its spend index entries. Callers must
// hold p.mu.
func (p *Pool) remove(txID chainhash.Hash) {
	tx, ok := p.transactions[txID]
	if !ok {
		return
	}
	delete(p.transactions, txID)
	for _, in := range tx.TxIn {
		if p.spentBy[in.PreviousOutpoint] == txID {
			delete(p.spentBy, in.PreviousOutpoint)
		}
	}
}
