package headersync

import "github.com/btcnode/btcnode/chainhash"

// BuildLocator builds a getheaders block locator: hashes at the tip,
// tip-1, tip-2, tip-4, tip-8, ... (doubling step), then genesis, per spec
// §4.D. The index sequence follows the original_source's
// blockchain_download locator-densification helper (SPEC_FULL.md §7).
func (c *Chain) BuildLocator() []*chainhash.Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tipHeight := int32(len(c.headers) - 1)

	var locator []*chainhash.Hash
	offset := int32(0)
	for tipHeight-offset > 0 {
		hash := c.headers[tipHeight-offset].BlockHash()
		locator = append(locator, &hash)
		if offset == 0 {
			offset = 1
		} else {
			offset *= 2
		}
	}

	genesisHash := c.headers[0].BlockHash()
	locator = append(locator, &genesisHash)
	return locator
}
