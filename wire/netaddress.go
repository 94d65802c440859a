// Copyright (c) 2013-2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"io"
	"net"
	"time"
)

// maxNetAddressPayload returns the max payload size for a NetAddress:
// timestamp 4 bytes + services 8 bytes + ip 16 bytes + port 2 bytes.
func maxNetAddressPayload() uint32 {
	return 30
}

// ServiceFlag identifies the services supported by a peer, announced in its
// version message.
type ServiceFlag uint64

// SFNodeNetwork denotes a peer that can serve the full block chain.
const SFNodeNetwork ServiceFlag = 1 << 0

// NetAddress records a peer's address, the services it advertises, and the
// last time it was seen, per spec §3 Peer record.
type NetAddress struct {
	Timestamp time.Time
	Services  ServiceFlag
	IP        net.IP
	Port      uint16
}

// HasService returns whether the specified service is supported.
func (na *NetAddress) HasService(service ServiceFlag) bool {
	return na.Services&service == service
}

// AddService adds a supported service.
func (na *NetAddress) AddService(service ServiceFlag) {
	na.Services |= service
}

// TCPAddr converts the NetAddress to a *net.TCPAddr.
func (na *NetAddress) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: na.IP, Port: int(na.Port)}
}

// NewNetAddressIPPort builds a NetAddress with the current time as its
// timestamp.
func NewNetAddressIPPort(ip net.IP, port uint16, services ServiceFlag) *NetAddress {
	return &NetAddress{
		Timestamp: time.Now(),
		Services:  services,
		IP:        ip,
		Port:      port,
	}
}

// readNetAddress reads a NetAddress from r. ts controls whether a leading
// 4-byte timestamp is present; the version message omits it for the two
// embedded addresses.
func readNetAddress(r io.Reader, na *NetAddress, ts bool) error {
	if ts {
		var secs uint32
		if err := readElement(r, &secs); err != nil {
			return err
		}
		na.Timestamp = int64ToTime(int64(secs))
	}

	if err := readElement(r, &na.Services); err != nil {
		return err
	}

	var ip [16]byte
	if _, err := io.ReadFull(r, ip[:]); err != nil {
		return err
	}
	na.IP = net.IP(ip[:])

	port, err := readBigEndianUint16(r)
	if err != nil {
		return err
	}
	na.Port = port
	return nil
}

// writeNetAddress serializes a NetAddress to w. See readNetAddress for ts.
func writeNetAddress(w io.Writer, na *NetAddress, ts bool) error {
	if ts {
		if err := writeElement(w, uint32(na.Timestamp.Unix())); err != nil {
			return err
		}
	}

	if err := writeElement(w, na.Services); err != nil {
		return err
	}

	var ip [16]byte
	if na.IP != nil {
		copy(ip[:], na.IP.To16())
	}
	if _, err := w.Write(ip[:]); err != nil {
		return err
	}

	return writeBigEndianUint16(w, na.Port)
}
