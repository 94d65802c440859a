// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/chainhash"
)

// Message is the interface that every decoded wire protocol message
// implements: payload encode/decode to the appropriate wire representation,
// plus the command name carried in the envelope.
type Message interface {
	BtcDecode(r io.Reader, pver uint32) error
	BtcEncode(w io.Writer, pver uint32) error
	Command() string
	MaxPayloadLength(pver uint32) uint32
}

// Command names, exactly as they appear zero-padded to 12 bytes on the
// wire.
const (
	CmdVersion     = "version"
	CmdVerAck      = "verack"
	CmdPing        = "ping"
	CmdPong        = "pong"
	CmdGetHeaders  = "getheaders"
	CmdHeaders     = "headers"
	CmdGetData     = "getdata"
	CmdBlock       = "block"
	CmdTx          = "tx"
	CmdInv         = "inv"
	CmdNotFound    = "notfound"
	CmdSendHeaders = "sendheaders"
	CmdGetBlocks   = "getblocks"
)

// messageHeader is the 24-byte envelope prefixed to every message payload.
type messageHeader struct {
	magic    uint32
	command  string
	length   uint32
	checksum [4]byte
}

// MessageEncoding represents the wire message encoding format to use. Kept
// as a hook for future witness-serialization support; only the base
// encoding is implemented.
type MessageEncoding uint32

// BaseEncoding is the original Bitcoin wire protocol encoding.
const BaseEncoding MessageEncoding = 0

func makeEmptyMessage(command string) (Message, error) {
	switch command {
	case CmdVersion:
		return &MsgVersion{}, nil
	case CmdVerAck:
		return &MsgVerAck{}, nil
	case CmdPing:
		return &MsgPing{}, nil
	case CmdPong:
		return &MsgPong{}, nil
	case CmdGetHeaders:
		return &MsgGetHeaders{}, nil
	case CmdHeaders:
		return &MsgHeaders{}, nil
	case CmdGetData:
		return &MsgGetData{}, nil
	case CmdBlock:
		return &MsgBlock{}, nil
	case CmdTx:
		return &MsgTx{}, nil
	case CmdInv:
		return &MsgInv{}, nil
	case CmdNotFound:
		return &MsgNotFound{}, nil
	case CmdSendHeaders:
		return &MsgSendHeaders{}, nil
	case CmdGetBlocks:
		return &MsgGetBlocks{}, nil
	default:
		return nil, errors.Errorf("unhandled command [%s]", command)
	}
}

// writeMessageHeader serializes the 24-byte envelope to w.
func writeMessageHeader(w io.Writer, hdr *messageHeader) error {
	var buf [24]byte
	binary.LittleEndian.PutUint32(buf[0:4], hdr.magic)
	copy(buf[4:16], []byte(hdr.command))
	binary.LittleEndian.PutUint32(buf[16:20], hdr.length)
	copy(buf[20:24], hdr.checksum[:])
	_, err := w.Write(buf[:])
	return errors.WithStack(err)
}

// WriteMessageN writes a message to w using the given network magic and
// protocol version, returning the number of bytes written. Payloads larger
// than MaxMessagePayload are rejected before anything is written.
func WriteMessageN(w io.Writer, msg Message, pver uint32, btcnet uint32) (int, error) {
	var bw bytes.Buffer
	if err := msg.BtcEncode(&bw, pver); err != nil {
		return 0, err
	}
	payload := bw.Bytes()
	lenp := len(payload)

	command := msg.Command()
	if len(command) > CommandSize {
		return 0, errors.Errorf("command [%s] is too long", command)
	}

	if lenp > MaxMessagePayload {
		return 0, errors.Errorf("message payload is too large - encoded "+
			"%d bytes, but maximum message payload is %d bytes",
			lenp, MaxMessagePayload)
	}

	if uint32(lenp) > msg.MaxPayloadLength(pver) {
		return 0, errors.Errorf("message payload is too large - encoded "+
			"%d bytes, but maximum message payload size for "+
			"messages of type [%s] is %d", lenp, command, msg.MaxPayloadLength(pver))
	}

	var hdr messageHeader
	hdr.magic = btcnet
	hdr.command = command
	hdr.length = uint32(lenp)
	copy(hdr.checksum[:], chainhash.DoubleHashB(payload)[0:4])

	var buf bytes.Buffer
	if err := writeMessageHeader(&buf, &hdr); err != nil {
		return 0, err
	}
	n1, err := w.Write(buf.Bytes())
	if err != nil {
		return n1, err
	}
	n2, err := w.Write(payload)
	return n1 + n2, err
}

// ReadMessageN reads, validates, and parses the next message from r,
// returning the number of bytes read, the raw message bytes (header +
// payload, useful for the raw inbound message log), and the decoded
// message. It fails with one of ErrBadMagic, ErrBadChecksum, ErrTruncated,
// ErrOversizePayload, ErrUnknownField, or ErrUnknownCommand as described in
// spec §4.A.
func ReadMessageN(r io.Reader, pver uint32, btcnet uint32) (int, []byte, Message, error) {
	var headerBytes [24]byte
	n, err := io.ReadFull(r, headerBytes[:])
	if err != nil {
		return n, nil, nil, errors.Wrap(ErrTruncated, err.Error())
	}

	hdr, err := parseMessageHeader(headerBytes[:])
	if err != nil {
		return n, nil, nil, err
	}

	if hdr.magic != btcnet {
		return n, nil, nil, errors.Wrapf(ErrBadMagic, "want %08x, got %08x", btcnet, hdr.magic)
	}

	if err := validateCommand(hdr.command); err != nil {
		return n, nil, nil, err
	}

	if hdr.length > MaxMessagePayload {
		return n, nil, nil, errors.Wrapf(ErrOversizePayload, "%d bytes exceeds max of %d", hdr.length, MaxMessagePayload)
	}

	msg, err := makeEmptyMessage(hdr.command)
	if err != nil {
		// Unknown commands are logged by the caller and dropped, not fatal.
		discard := make([]byte, hdr.length)
		nd, _ := io.ReadFull(r, discard)
		return n + nd, nil, nil, errors.Wrap(ErrUnknownCommand, hdr.command)
	}

	if hdr.length > msg.MaxPayloadLength(pver) {
		return n, nil, nil, errors.Wrapf(ErrOversizePayload, "%s payload of %d bytes exceeds max of %d",
			hdr.command, hdr.length, msg.MaxPayloadLength(pver))
	}

	payload := make([]byte, hdr.length)
	nr, err := io.ReadFull(r, payload)
	n += nr
	if err != nil {
		return n, nil, nil, errors.Wrap(ErrTruncated, err.Error())
	}

	checksum := chainhash.DoubleHashB(payload)
	if !bytes.Equal(checksum[0:4], hdr.checksum[:]) {
		return n, nil, nil, errors.Wrapf(ErrBadChecksum, "got %x, want %x", checksum[0:4], hdr.checksum)
	}

	pr := bytes.NewReader(payload)
	if err := msg.BtcDecode(pr, pver); err != nil {
		return n, nil, nil, errors.Wrap(ErrUnknownField, err.Error())
	}

	raw := make([]byte, 0, 24+len(payload))
	raw = append(raw, headerBytes[:]...)
	raw = append(raw, payload...)

	return n, raw, msg, nil
}

func parseMessageHeader(b []byte) (*messageHeader, error) {
	if len(b) != 24 {
		return nil, errors.Wrap(ErrTruncated, "short header")
	}
	hdr := &messageHeader{}
	hdr.magic = binary.LittleEndian.Uint32(b[0:4])
	hdr.command = string(bytes.TrimRight(b[4:16], "\x00"))
	hdr.length = binary.LittleEndian.Uint32(b[16:20])
	copy(hdr.checksum[:], b[20:24])
	return hdr, nil
}

func validateCommand(command string) error {
	if len(command) > CommandSize {
		return errors.Wrapf(ErrUnknownField, "command %q exceeds %d bytes", command, CommandSize)
	}
	return nil
}

// CommandBytes returns the zero-padded, fixed-width 12-byte encoding of a
// command name, panicking if the name is too long (a programmer error, not
// a runtime one - every command is a package constant above).
func CommandBytes(command string) [CommandSize]byte {
	if len(command) > CommandSize {
		panic(fmt.Sprintf("command %q exceeds %d bytes", command, CommandSize))
	}
	var b [CommandSize]byte
	copy(b[:], command)
	return b
}
