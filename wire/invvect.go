// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/btcnode/btcnode/chainhash"
)

// InvType represents the type of inventory vector.
type InvType uint32

// Inventory vector types this node announces and requests.
const (
	InvTypeError InvType = 0
	InvTypeTx    InvType = 1
	InvTypeBlock InvType = 2
)

// String implements the Stringer interface.
func (invtype InvType) String() string {
	switch invtype {
	case InvTypeError:
		return "ERROR"
	case InvTypeTx:
		return "MSG_TX"
	case InvTypeBlock:
		return "MSG_BLOCK"
	default:
		return "Unknown InvType"
	}
}

// InvVect defines a Bitcoin inventory vector, used to describe data as
// specified by the Type field, identified by the Hash field.
type InvVect struct {
	Type InvType
	Hash chainhash.Hash
}

// NewInvVect returns a new InvVect using the provided type and hash.
func NewInvVect(typ InvType, hash *chainhash.Hash) *InvVect {
	return &InvVect{Type: typ, Hash: *hash}
}

func readInvVect(r io.Reader, iv *InvVect) error {
	var typ uint32
	if err := readElement(r, &typ); err != nil {
		return err
	}
	iv.Type = InvType(typ)
	return readHash(r, &iv.Hash)
}

func writeInvVect(w io.Writer, iv *InvVect) error {
	if err := writeElement(w, uint32(iv.Type)); err != nil {
		return err
	}
	return writeHash(w, &iv.Hash)
}
