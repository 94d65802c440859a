package utxo

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/wire"
)

// ErrMissingOutpoint is returned by Apply when a transaction spends an
// outpoint the set does not contain; per spec §4.G "Apply is atomic per
// block", the whole block's mutation is then thrown away.
var ErrMissingOutpoint = errors.New("referenced outpoint not found in utxo set")

// Set is the UTXO set: the outpoint -> Entry mapping that results from
// applying some prefix of the chain (spec §4.G), guarded by a single
// RWMutex per spec §5's "Readers use shared access; writers use
// exclusive access."
type Set struct {
	mu      sync.RWMutex
	entries map[wire.Outpoint]*Entry
}

// New returns an empty UTXO set.
func New() *Set {
	return &Set{entries: make(map[wire.Outpoint]*Entry)}
}

// Contains reports whether outpoint is currently unspent.
func (s *Set) Contains(outpoint wire.Outpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[outpoint]
	return ok
}

// Get returns the entry for outpoint, if any.
func (s *Set) Get(outpoint wire.Outpoint) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[outpoint]
	return e, ok
}

// GetScript implements validate.UTXOView.
func (s *Set) GetScript(outpoint wire.Outpoint) (amount int64, pkScript []byte, ok bool) {
	e, ok := s.Get(outpoint)
	if !ok {
		return 0, nil, false
	}
	return e.Amount, e.ScriptPubKey, true
}

// Apply applies one block's transactions in order: every consumed
// outpoint is removed and every new output inserted, coinbase outputs
// marked accordingly (spec §4.G). If any non-coinbase input is missing,
// no mutation happens and ErrMissingOutpoint is returned (spec §4.G
// "Apply is atomic per block").
func (s *Set) Apply(block *wire.MsgBlock, blockHeight int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for txIdx, tx := range block.Transactions {
		isCoinbase := txIdx == 0
		if !isCoinbase {
			for _, in := range tx.TxIn {
				if _, ok := s.entries[in.PreviousOutpoint]; !ok {
					return errors.Wrapf(ErrMissingOutpoint, "tx %s input %s:%d", tx.TxHash(), in.PreviousOutpoint.TxID, in.PreviousOutpoint.Index)
				}
			}
		}
	}

	for txIdx, tx := range block.Transactions {
		isCoinbase := txIdx == 0
		txHash := tx.TxHash()

		if !isCoinbase {
			for _, in := range tx.TxIn {
				delete(s.entries, in.PreviousOutpoint)
			}
		}

		for voutIdx, out := range tx.TxOut {
			outpoint := wire.Outpoint{TxID: txHash, Index: uint32(voutIdx)}
			s.entries[outpoint] = NewEntry(out.Value, out.PkScript, blockHeight, isCoinbase)
		}
	}

	return nil
}

// ScriptMatch is one result of ScanForScripts.
type ScriptMatch struct {
	Outpoint wire.Outpoint
	Entry    *Entry
}

// ScanForScripts returns every unspent output whose locking script is in
// scripts, used by the wallet to compute balances and select inputs
// (spec §4.G).
func (s *Set) ScanForScripts(scripts [][]byte) []ScriptMatch {
	wanted := make(map[string]struct{}, len(scripts))
	for _, script := range scripts {
		wanted[string(script)] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []ScriptMatch
	for outpoint, entry := range s.entries {
		if _, ok := wanted[string(entry.ScriptPubKey)]; ok {
			matches = append(matches, ScriptMatch{Outpoint: outpoint, Entry: entry})
		}
	}
	return matches
}

// Len returns the number of unspent outputs currently tracked.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
