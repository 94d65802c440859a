// Package headersync implements the headers-first chain sync algorithm
// of spec §4.D: an append-only header chain with PoW and linkage
// verification, locator construction, and the persisted-headers-file
// replay path.
package headersync

import (
	"math/big"
	"sync"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/validate"
	"github.com/btcnode/btcnode/wire"
)

// Chain is the append-only, height-indexed header chain of spec §3
// "Header chain", guarded by a single RWMutex per spec §5's
// header-chain lock.
type Chain struct {
	mu          sync.RWMutex
	headers     []*wire.BlockHeader
	hashToIndex map[chainhash.Hash]int32
	powLimit    *big.Int
}

// New returns a chain seeded with the given genesis header at height 0.
func New(genesis *wire.BlockHeader, powLimit *big.Int) *Chain {
	c := &Chain{
		hashToIndex: make(map[chainhash.Hash]int32),
		powLimit:    powLimit,
	}
	hash := genesis.BlockHash()
	c.headers = append(c.headers, genesis)
	c.hashToIndex[hash] = 0
	return c
}

// Height returns the current tip height.
func (c *Chain) Height() int32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int32(len(c.headers) - 1)
}

// Tip returns the current tip header and its hash.
func (c *Chain) Tip() (*wire.BlockHeader, chainhash.Hash) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tip := c.headers[len(c.headers)-1]
	return tip, tip.BlockHash()
}

// HeaderAt returns the header at the given height, if known.
func (c *Chain) HeaderAt(height int32) (*wire.BlockHeader, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if height < 0 || int(height) >= len(c.headers) {
		return nil, false
	}
	return c.headers[height], true
}

// HeightOf returns the height of the header with the given hash.
func (c *Chain) HeightOf(hash chainhash.Hash) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.hashToIndex[hash]
	return h, ok
}

// AppendBatch validates and appends a batch of headers received in reply
// to getheaders, per spec §4.D: each header's previous_hash must match
// the running tip, its PoW must check out, and the whole batch is
// dropped on the first failure (the caller then disconnects the peer).
func (c *Chain) AppendBatch(headers []*wire.BlockHeader) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.headers[len(c.headers)-1]
	tipHash := tip.BlockHash()

	newHeaders := make([]*wire.BlockHeader, 0, len(headers))
	newHashes := make([]chainhash.Hash, 0, len(headers))

	for _, h := range headers {
		if h.PrevBlock != tipHash {
			return errors.Errorf("header previous hash %s does not match tip %s", h.PrevBlock, tipHash)
		}
		if err := validate.CheckHeaderPoW(h, c.powLimit); err != nil {
			return errors.Wrap(err, "header failed proof of work")
		}
		hash := h.BlockHash()
		newHeaders = append(newHeaders, h)
		newHashes = append(newHashes, hash)
		tipHash = hash
	}

	startHeight := int32(len(c.headers))
	c.headers = append(c.headers, newHeaders...)
	for i, hash := range newHashes {
		c.hashToIndex[hash] = startHeight + int32(i)
	}
	return nil
}

// HeightOfFirstAtOrAfter returns the height of the first header whose
// timestamp is >= unixSeconds, used to locate date_first_block_to_download (spec
// §4.E). It returns ok=false if no such header exists yet.
func (c *Chain) HeightOfFirstAtOrAfter(unixSeconds int64) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i, h := range c.headers {
		if h.Timestamp.Unix() >= unixSeconds {
			return int32(i), true
		}
	}
	return 0, false
}

// Headers returns a copy of the first n headers, used to build the
// persisted prefix (spec §4.D "Persistence").
func (c *Chain) Headers(n int) []*wire.BlockHeader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n > len(c.headers) {
		n = len(c.headers)
	}
	out := make([]*wire.BlockHeader, n)
	copy(out, c.headers[:n])
	return out
}
