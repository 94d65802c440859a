// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package util

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"
)

// Hash160 calculates ripemd160(sha256(b)), the pubkey-hash function P2PKH
// locking scripts are built around (spec §4.F).
func Hash160(buf []byte) []byte {
	sha := sha256.Sum256(buf)
	ripemd := ripemd160.New()
	ripemd.Write(sha[:])
	return ripemd.Sum(nil)
}
