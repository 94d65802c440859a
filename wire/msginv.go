// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"

	"github.com/pkg/errors"
)

// invList is the shared encoding for inv, getdata, and notfound: a varint
// count followed by that many InvVects.
type invList struct {
	InvList []*InvVect
}

func (msg *invList) addInvVect(iv *InvVect) error {
	if len(msg.InvList)+1 > MaxInvPerMsg {
		return errors.Errorf("too many invvect in message [max %d]", MaxInvPerMsg)
	}
	msg.InvList = append(msg.InvList, iv)
	return nil
}

func (msg *invList) decode(r io.Reader) error {
	count, err := ReadVarInt(r)
	if err != nil {
		return err
	}
	if count > MaxInvPerMsg {
		return errors.Errorf("too many invvect in message [%d]", count)
	}

	invList := make([]InvVect, count)
	msg.InvList = make([]*InvVect, 0, count)
	for i := uint64(0); i < count; i++ {
		iv := &invList[i]
		if err := readInvVect(r, iv); err != nil {
			return err
		}
		if err := msg.addInvVect(iv); err != nil {
			return err
		}
	}
	return nil
}

func (msg *invList) encode(w io.Writer) error {
	count := len(msg.InvList)
	if count > MaxInvPerMsg {
		return errors.Errorf("too many invvect in message [%d]", count)
	}

	if err := WriteVarInt(w, uint64(count)); err != nil {
		return err
	}
	for _, iv := range msg.InvList {
		if err := writeInvVect(w, iv); err != nil {
			return err
		}
	}
	return nil
}

func (msg *invList) maxPayloadLength() uint32 {
	return uint32(VarIntSerializeSize(MaxInvPerMsg)) + MaxInvPerMsg*(4+32)
}

// MsgInv implements the Message interface and is used to advertise the
// sender's knowledge of blocks and transactions, per spec §4.B.
type MsgInv struct {
	invList
}

// BtcDecode is part of the Message interface implementation.
func (msg *MsgInv) BtcDecode(r io.Reader, pver uint32) error { return msg.decode(r) }

// BtcEncode is part of the Message interface implementation.
func (msg *MsgInv) BtcEncode(w io.Writer, pver uint32) error { return msg.encode(w) }

// Command returns the protocol command string for the message.
func (msg *MsgInv) Command() string { return CmdInv }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgInv) MaxPayloadLength(pver uint32) uint32 { return msg.maxPayloadLength() }

// AddInvVect adds an inventory vector to the message, enforcing MaxInvPerMsg.
func (msg *MsgInv) AddInvVect(iv *InvVect) error { return msg.addInvVect(iv) }

// NewMsgInv returns a new empty inv message.
func NewMsgInv() *MsgInv {
	return &MsgInv{invList{InvList: make([]*InvVect, 0, defaultInvListAlloc)}}
}

const defaultInvListAlloc = 1000

// MsgGetData implements the Message interface. It requests the data
// referred to by an inventory list: the counterpart to MsgInv, driving the
// Block Downloader's getdata-driven fetch of spec §4.E.
type MsgGetData struct {
	invList
}

// BtcDecode is part of the Message interface implementation.
func (msg *MsgGetData) BtcDecode(r io.Reader, pver uint32) error { return msg.decode(r) }

// BtcEncode is part of the Message interface implementation.
func (msg *MsgGetData) BtcEncode(w io.Writer, pver uint32) error { return msg.encode(w) }

// Command returns the protocol command string for the message.
func (msg *MsgGetData) Command() string { return CmdGetData }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgGetData) MaxPayloadLength(pver uint32) uint32 { return msg.maxPayloadLength() }

// AddInvVect adds an inventory vector to the message, enforcing MaxInvPerMsg.
func (msg *MsgGetData) AddInvVect(iv *InvVect) error { return msg.addInvVect(iv) }

// NewMsgGetData returns a new empty getdata message.
func NewMsgGetData() *MsgGetData {
	return &MsgGetData{invList{InvList: make([]*InvVect, 0, defaultInvListAlloc)}}
}

// MsgNotFound implements the Message interface. A peer sends it in reply to
// a getdata request for hashes it could not supply.
type MsgNotFound struct {
	invList
}

// BtcDecode is part of the Message interface implementation.
func (msg *MsgNotFound) BtcDecode(r io.Reader, pver uint32) error { return msg.decode(r) }

// BtcEncode is part of the Message interface implementation.
func (msg *MsgNotFound) BtcEncode(w io.Writer, pver uint32) error { return msg.encode(w) }

// Command returns the protocol command string for the message.
func (msg *MsgNotFound) Command() string { return CmdNotFound }

// MaxPayloadLength returns the maximum length the payload can be.
func (msg *MsgNotFound) MaxPayloadLength(pver uint32) uint32 { return msg.maxPayloadLength() }

// AddInvVect adds an inventory vector to the message, enforcing MaxInvPerMsg.
func (msg *MsgNotFound) AddInvVect(iv *InvVect) error { return msg.addInvVect(iv) }

// NewMsgNotFound returns a new empty notfound message.
func NewMsgNotFound() *MsgNotFound {
	return &MsgNotFound{invList{InvList: make([]*InvVect, 0, defaultInvListAlloc)}}
}
