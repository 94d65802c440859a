// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package addrmgr tracks candidate peer addresses for the peer pool
// (spec §4.C): the DNS seed and/or static address sources, and the health
// bookkeeping (isBad, chance) that decides which address is worth a
// connection attempt next.
package addrmgr

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/btcnode/btcnode/wire"
)

// AddrManager provides a concurrency safe address manager for caching
// potential peers on the network.
type AddrManager struct {
	mu    sync.Mutex
	addrs map[string]*KnownAddress
	key   [32]byte
}

// New returns a new, empty address manager.
func New() *AddrManager {
	var key [32]byte
	_, _ = rand.Read(key[:])
	return &AddrManager{
		addrs: make(map[string]*KnownAddress),
		key:   key,
	}
}

// addressKey returns a unique key for an address, used to store it in the
// address map keyed by "host:port".
func addressKey(addr *wire.NetAddress) string {
	return net.JoinHostPort(addr.IP.String(), fmt.Sprintf("%d", addr.Port))
}

// GroupKey returns a string representing the network group an address is
// part of. Peer selection prefers to keep at most one outbound connection
// per group so a single misbehaving network segment can't dominate the
// pool.
func GroupKey(na *wire.NetAddress) string {
	if ipv4 := na.IP.To4(); ipv4 != nil {
		return fmt.Sprintf("%d.%d", ipv4[0], ipv4[1])
	}
	return na.IP.String()
}

// AddAddress adds a new address, or updates an existing one, to the address
// manager, attributing it to the peer it was learned from (srcAddr).
func (a *AddrManager) AddAddress(addr, srcAddr *wire.NetAddress) {
	if addr == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	key := addressKey(addr)
	if ka, exists := a.addrs[key]; exists {
		if addr.Timestamp.After(ka.na.Timestamp) {
			ka.na.Timestamp = addr.Timestamp
		}
		return
	}

	a.addrs[key] = &KnownAddress{na: addr, srcAddr: srcAddr}
}

// AddAddresses adds a slice of addresses to the manager, all attributed to
// the same source.
func (a *AddrManager) AddAddresses(addrs []*wire.NetAddress, srcAddr *wire.NetAddress) {
	for _, addr := range addrs {
		a.AddAddress(addr, srcAddr)
	}
}

// AddAddressByIP parses "host:port" and adds it to the manager.
func (a *AddrManager) AddAddressByIP(addrIP string) error {
	host, portStr, err := net.SplitHostPort(addrIP)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("invalid ip address %q", host)
	}
	var port uint16
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return err
	}
	na := wire.NewNetAddressIPPort(ip, port, 0)
	a.AddAddress(na, na)
	return nil
}

// NeedMoreAddresses returns whether or not the address manager needs more
// addresses.
func (a *AddrManager) NeedMoreAddresses() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.addrs) < needAddressThreshold
}

// needAddressThreshold is the number of candidate addresses below which the
// manager reports it needs more (e.g. to trigger another DNS seed lookup).
const needAddressThreshold = 1000

// GetAddress returns a single address that should be good for a next
// connection attempt: the non-bad address with the highest chance() score
// (ties are broken by map iteration order). Returns nil if no addresses
// are known or every known address is bad.
func (a *AddrManager) GetAddress() *KnownAddress {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.addrs) == 0 {
		return nil
	}

	var best *KnownAddress
	bestChance := -1.0
	for _, ka := range a.addrs {
		if ka.isBad() {
			continue
		}
		c := ka.chance()
		if c > bestChance {
			bestChance = c
			best = ka
		}
	}
	return best
}

// Attempt marks the given address as having been attempted just now.
func (a *AddrManager) Attempt(addr *wire.NetAddress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ka, exists := a.addrs[addressKey(addr)]
	if !exists {
		return
	}
	ka.attempts++
	ka.lastAttempt = time.Now()
}

// Connected marks the given address as currently connected and working.
func (a *AddrManager) Connected(addr *wire.NetAddress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ka, exists := a.addrs[addressKey(addr)]
	if !exists {
		return
	}
	now := time.Now()
	if now.Sub(ka.na.Timestamp) > 20*time.Minute {
		ka.na.Timestamp = now
	}
}

// Good marks the given address as good, resetting its failure counters
// after a successful handshake (spec §4.C: a peer that completes the
// handshake is retryable again in future runs).
func (a *AddrManager) Good(addr *wire.NetAddress) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ka, exists := a.addrs[addressKey(addr)]
	if !exists {
		return
	}
	ka.lastSuccess = time.Now()
	ka.lastAttempt = ka.lastSuccess
	ka.attempts = 0
}

// MarkNonRetryable drops an address entirely, used when a peer fails the
// handshake or closes with an error during the current run (spec §4.C).
func (a *AddrManager) MarkNonRetryable(addr *wire.NetAddress) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.addrs, addressKey(addr))
}

// NumAddresses returns the number of addresses known to the address
// manager.
func (a *AddrManager) NumAddresses() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.addrs)
}

// HashKey returns a deterministic fingerprint over the manager's instance
// key and the given bytes, used when a stable random-looking ordering over
// addresses is useful without needing real randomness.
func (a *AddrManager) HashKey(b []byte) [32]byte {
	h := sha256.New()
	h.Write(a.key[:])
	h.Write(b)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
