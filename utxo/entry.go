// Package utxo maintains the unspent-transaction-output set (spec §4.G):
// the mapping from outpoint to output that results from applying some
// prefix of the block chain, plus the wallet-facing script scan.
package utxo

// Entry is the value side of the UTXO set's outpoint map (spec §3
// "Outpoint -> Output map"), grounded on the teacher's domain/utxo/set.go
// Entry but trimmed to the fields this node's validator and wallet
// actually read: no blue-score/DAG bookkeeping.
type Entry struct {
	Amount       int64
	ScriptPubKey []byte
	BlockHeight  int32
	IsCoinbase   bool
}

// NewEntry builds an Entry for a freshly-created output.
func NewEntry(amount int64, scriptPubKey []byte, blockHeight int32, isCoinbase bool) *Entry {
	return &Entry{
		Amount:       amount,
		ScriptPubKey: scriptPubKey,
		BlockHeight:  blockHeight,
		IsCoinbase:   isCoinbase,
	}
}
