// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire implements the Bitcoin P2P wire protocol codec: the message
// envelope, varint/varstring encoding, and the request/response messages the
// node exchanges with its peers.
package wire

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/util/binaryserializer"
)

// MaxMessagePayload is the maximum bytes a message payload can be.
// Larger payloads are rejected with ErrOversizePayload during decode.
const MaxMessagePayload = 32 * 1024 * 1024 // 32 MiB

// MaxVarIntPayload is the maximum payload size for a variable length integer.
const MaxVarIntPayload = 9

// MaxInvPerMsg is the maximum number of inventory vectors that can be in a
// single inv/getdata/notfound message.
const MaxInvPerMsg = 50000

// CommandSize is the fixed width, zero-padded command name field of the
// message envelope.
const CommandSize = 12

// errNonCanonicalVarInt is returned when a varint was not encoded using the
// shortest possible representation.
var errNonCanonicalVarInt = errors.New("non-canonical varint")

// ReadVarInt reads a variable length integer from r using the canonical
// 1/3/5/9-byte encoding and returns it as a uint64.
func ReadVarInt(r io.Reader) (uint64, error) {
	discriminant, err := binaryserializer.Uint8(r)
	if err != nil {
		return 0, err
	}

	var rv uint64
	switch discriminant {
	case 0xff:
		sv, err := binaryserializer.Uint64(r)
		if err != nil {
			return 0, err
		}
		rv = sv

		if rv < 0x100000000 {
			return 0, errors.Wrapf(errNonCanonicalVarInt, "0xff prefix with value %x", rv)
		}

	case 0xfe:
		sv, err := binaryserializer.Uint32(r)
		if err != nil {
			return 0, err
		}
		rv = uint64(sv)

		if rv < 0x10000 {
			return 0, errors.Wrapf(errNonCanonicalVarInt, "0xfe prefix with value %x", rv)
		}

	case 0xfd:
		sv, err := binaryserializer.Uint16(r)
		if err != nil {
			return 0, err
		}
		rv = uint64(sv)

		if rv < 0xfd {
			return 0, errors.Wrapf(errNonCanonicalVarInt, "0xfd prefix with value %x", rv)
		}

	default:
		rv = uint64(discriminant)
	}

	return rv, nil
}

// WriteVarInt writes a variable length integer to w using the canonical
// 1/3/5/9-byte encoding.
func WriteVarInt(w io.Writer, val uint64) error {
	if val < 0xfd {
		return binaryserializer.PutUint8(w, uint8(val))
	}

	if val <= 0xffff {
		if err := binaryserializer.PutUint8(w, 0xfd); err != nil {
			return err
		}
		return binaryserializer.PutUint16(w, uint16(val))
	}

	if val <= 0xffffffff {
		if err := binaryserializer.PutUint8(w, 0xfe); err != nil {
			return err
		}
		return binaryserializer.PutUint32(w, uint32(val))
	}

	if err := binaryserializer.PutUint8(w, 0xff); err != nil {
		return err
	}
	return binaryserializer.PutUint64(w, val)
}

// VarIntSerializeSize returns the number of bytes it would take to serialize
// val as a variable length integer.
func VarIntSerializeSize(val uint64) int {
	if val < 0xfd {
		return 1
	}
	if val <= 0xffff {
		return 3
	}
	if val <= 0xffffffff {
		return 5
	}
	return 9
}

// ReadVarBytes reads a variable length byte array (varint length prefix
// followed by that many bytes). fieldName is used only in error messages.
func ReadVarBytes(r io.Reader, maxAllowed uint64, fieldName string) ([]byte, error) {
	count, err := ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if count > maxAllowed {
		return nil, errors.Errorf("%s exceeds max length %d", fieldName, maxAllowed)
	}

	b := make([]byte, count)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errors.WithStack(err)
	}
	return b, nil
}

// WriteVarBytes writes a variable length byte array (varint length prefix
// followed by the bytes) to w.
func WriteVarBytes(w io.Writer, bytes []byte) error {
	if err := WriteVarInt(w, uint64(len(bytes))); err != nil {
		return err
	}
	_, err := w.Write(bytes)
	return errors.WithStack(err)
}

// ReadVarString reads a variable length string (varint length prefix
// followed by that many ASCII bytes), used for the version message's
// user-agent field.
func ReadVarString(r io.Reader, maxAllowed uint64) (string, error) {
	b, err := ReadVarBytes(r, maxAllowed, "varstring")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteVarString writes a variable length string to w.
func WriteVarString(w io.Writer, s string) error {
	return WriteVarBytes(w, []byte(s))
}

// readHash reads a chainhash.Hash in its on-wire (little-endian) byte order.
func readHash(r io.Reader, hash *chainhash.Hash) error {
	_, err := io.ReadFull(r, hash[:])
	return errors.WithStack(err)
}

// writeHash writes a chainhash.Hash in its on-wire (little-endian) byte
// order.
func writeHash(w io.Writer, hash *chainhash.Hash) error {
	_, err := w.Write(hash[:])
	return errors.WithStack(err)
}

// int64ToTime converts the unix-seconds wire encoding of a timestamp into a
// time.Time in the local time zone, as time.Unix returns it.
func int64ToTime(secs int64) time.Time {
	return time.Unix(secs, 0)
}

// readElement reads a single fixed-width little-endian field from r into
// element, dispatching on its concrete type.
func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *int32:
		rv, err := binaryserializer.Uint32(r)
		if err != nil {
			return err
		}
		*e = int32(rv)
		return nil
	case *uint32:
		rv, err := binaryserializer.Uint32(r)
		if err != nil {
			return err
		}
		*e = rv
		return nil
	case *int64:
		rv, err := binaryserializer.Uint64(r)
		if err != nil {
			return err
		}
		*e = int64(rv)
		return nil
	case *uint64:
		rv, err := binaryserializer.Uint64(r)
		if err != nil {
			return err
		}
		*e = rv
		return nil
	case *ServiceFlag:
		rv, err := binaryserializer.Uint64(r)
		if err != nil {
			return err
		}
		*e = ServiceFlag(rv)
		return nil
	case *bool:
		rv, err := binaryserializer.Uint8(r)
		if err != nil {
			return err
		}
		*e = rv != 0
		return nil
	default:
		return errors.Errorf("unsupported type %T for wire decode", e)
	}
}

// writeElement writes a single fixed-width little-endian field to w,
// dispatching on its concrete type.
func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case int32:
		return binaryserializer.PutUint32(w, uint32(e))
	case uint32:
		return binaryserializer.PutUint32(w, e)
	case int64:
		return binaryserializer.PutUint64(w, uint64(e))
	case uint64:
		return binaryserializer.PutUint64(w, e)
	case ServiceFlag:
		return binaryserializer.PutUint64(w, uint64(e))
	case bool:
		if e {
			return binaryserializer.PutUint8(w, 1)
		}
		return binaryserializer.PutUint8(w, 0)
	default:
		return errors.Errorf("unsupported type %T for wire encode", e)
	}
}

// readBigEndianUint16 reads a uint16 in big-endian order, used only for the
// NetAddress port field (the one big-endian field in the protocol).
func readBigEndianUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, errors.WithStack(err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// writeBigEndianUint16 writes a uint16 in big-endian order.
func writeBigEndianUint16(w io.Writer, val uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], val)
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}
