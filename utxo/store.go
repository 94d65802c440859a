package utxo

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// storeOptions mirrors the teacher's infrastructure/db/database/ldb
// defaults: no compression, generous caches, since a node restart with a
// cold UTXO cache is the case worth optimizing for.
var storeOptions = &opt.Options{
	Compression:        opt.NoCompression,
	BlockCacheCapacity: 64 * opt.MiB,
	WriteBuffer:        32 * opt.MiB,
}

// Store persists a Set's snapshot to a goleveldb database, so a restart
// does not require replaying the chain from height 0 to rebuild it
// (SPEC_FULL.md §6 domain-stack rationale for goleveldb).
type Store struct {
	db *leveldb.DB
}

// OpenStore opens (creating if necessary) the leveldb database at path.
func OpenStore(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, storeOptions)
	if err != nil {
		return nil, errors.Wrap(err, "opening utxo store")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (st *Store) Close() error {
	return st.db.Close()
}

func encodeKey(outpoint wire.Outpoint) []byte {
	key := make([]byte, chainhash.HashSize+4)
	copy(key, outpoint.TxID[:])
	binary.LittleEndian.PutUint32(key[chainhash.HashSize:], outpoint.Index)
	return key
}

func decodeKey(key []byte) (wire.Outpoint, error) {
	if len(key) != chainhash.HashSize+4 {
		return wire.Outpoint{}, errors.New("invalid utxo store key length")
	}
	var op wire.Outpoint
	copy(op.TxID[:], key[:chainhash.HashSize])
	op.Index = binary.LittleEndian.Uint32(key[chainhash.HashSize:])
	return op, nil
}

type entryRecord struct {
	Amount       int64
	ScriptPubKey []byte
	BlockHeight  int32
	IsCoinbase   bool
}

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	rec := entryRecord{Amount: e.Amount, ScriptPubKey: e.ScriptPubKey, BlockHeight: e.BlockHeight, IsCoinbase: e.IsCoinbase}
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var rec entryRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	return &Entry{Amount: rec.Amount, ScriptPubKey: rec.ScriptPubKey, BlockHeight: rec.BlockHeight, IsCoinbase: rec.IsCoinbase}, nil
}

// Save writes the full contents of s into the store as a new snapshot,
// replacing whatever was there. It is meant to be called periodically
// (e.g. once IBD completes), not on every block.
func (st *Store) Save(s *Set) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := new(leveldb.Batch)
	iter := st.db.NewIterator(nil, nil)
	for iter.Next() {
		batch.Delete(append([]byte{}, iter.Key()...))
	}
	iter.Release()
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "clearing utxo store")
	}

	for outpoint, entry := range s.entries {
		value, err := encodeEntry(entry)
		if err != nil {
			return errors.Wrap(err, "encoding utxo entry")
		}
		batch.Put(encodeKey(outpoint), value)
	}

	return st.db.Write(batch, nil)
}

// Load replaces s's contents with whatever snapshot is currently in the
// store.
func (st *Store) Load(s *Set) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make(map[wire.Outpoint]*Entry)

	var iter iterator.Iterator = st.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		outpoint, err := decodeKey(iter.Key())
		if err != nil {
			return errors.Wrap(err, "decoding utxo store key")
		}
		entry, err := decodeEntry(iter.Value())
		if err != nil {
			return errors.Wrap(err, "decoding utxo store value")
		}
		entries[outpoint] = entry
	}
	if err := iter.Error(); err != nil {
		return errors.Wrap(err, "reading utxo store")
	}

	s.entries = entries
	return nil
}
