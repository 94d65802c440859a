// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"time"

	"github.com/btcnode/btcnode/wire"
)

// numMissingDays is used by isBad to mark an address that hasn't been seen
// in this many days as worthless.
const numMissingDays = 30

// numRetries is the number of tried connection attempts without a single
// success before an address is considered bad.
const numRetries = 3

// maxFailures is the number of failed attempts in minBadDays after which an
// address is considered bad even if it has succeeded before.
const maxFailures = 10

// minBadDays is the number of days of no successful connection, combined
// with maxFailures, after which an address is considered bad.
const minBadDays = 7

// KnownAddress tracks information about a known network address that is
// used to determine how viable an address is as a future peer pool
// candidate (spec §4.C).
type KnownAddress struct {
	na          *wire.NetAddress
	srcAddr     *wire.NetAddress
	attempts    int
	lastAttempt time.Time
	lastSuccess time.Time
	tried       bool
	refs        int
}

// NetAddress returns the underlying wire.NetAddress associated with the
// known address.
func (ka *KnownAddress) NetAddress() *wire.NetAddress {
	return ka.na
}

// LastAttempt returns the last time the known address was attempted.
func (ka *KnownAddress) LastAttempt() time.Time {
	return ka.lastAttempt
}

// chance returns the selection score for a known address. The score
// depends on how recently it was last attempted and how many attempts to
// connect to it have been made since its last success.
func (ka *KnownAddress) chance() float64 {
	now := time.Now()
	lastAttempt := now.Sub(ka.lastAttempt)
	if lastAttempt < 0 {
		lastAttempt = 0
	}

	c := 1.0

	// Very recent attempts are less likely to be retried.
	if lastAttempt < 10*time.Minute {
		c *= 0.01
	}

	// Failed attempts deprioritize.
	for i := ka.attempts; i > 0; i-- {
		c /= 1.5
	}

	return c
}

// isBad returns true if the address has not been tried in the last minute
// and meets one of the following criteria:
//  1. It claims to be from the future
//  2. It hasn't been seen in over a month
//  3. It has failed at least three times and never succeeded
//  4. It has failed ten times in the last week
//
// Addresses that meet these criteria are assumed worthless and not worth
// keeping hold of.
func (ka *KnownAddress) isBad() bool {
	if ka.lastAttempt.After(time.Now().Add(-1 * time.Minute)) {
		return false
	}

	// From the future?
	if ka.na.Timestamp.After(time.Now().Add(10 * time.Minute)) {
		return true
	}

	// Over a month old?
	if ka.na.Timestamp.Before(time.Now().Add(-1 * numMissingDays * 24 * time.Hour)) {
		return true
	}

	// Never succeeded?
	if ka.lastSuccess.IsZero() && ka.attempts >= numRetries {
		return true
	}

	// Hasn't succeeded in too long?
	if !ka.lastSuccess.After(time.Now().Add(-1*minBadDays*24*time.Hour)) &&
		ka.attempts >= maxFailures {
		return true
	}

	return false
}
