// Copyright (c) 2013-2014 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package addrmgr

import (
	"net"
	"testing"
	"time"

	"github.com/btcnode/btcnode/wire"
)

func TestAddAddressByIP(t *testing.T) {
	amgr := New()

	err := amgr.AddAddressByIP("173.194.115.66:18333")
	if err != nil {
		t.Fatalf("AddAddressByIP: unexpected error: %v", err)
	}
	if amgr.NumAddresses() != 1 {
		t.Fatalf("expected 1 address, got %d", amgr.NumAddresses())
	}

	if err := amgr.AddAddressByIP("not-an-ip"); err == nil {
		t.Fatal("expected error for malformed address")
	}
}

func TestGetAddress(t *testing.T) {
	amgr := New()

	if rv := amgr.GetAddress(); rv != nil {
		t.Fatalf("expected no addresses, got %v", rv)
	}

	if err := amgr.AddAddressByIP("173.194.115.66:18333"); err != nil {
		t.Fatalf("AddAddressByIP: unexpected error: %v", err)
	}

	ka := amgr.GetAddress()
	if ka == nil {
		t.Fatal("expected an address")
	}

	amgr.Attempt(ka.NetAddress())
	if ka.attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", ka.attempts)
	}

	amgr.Good(ka.NetAddress())
	if ka.attempts != 0 {
		t.Fatalf("expected attempts reset to 0 after Good, got %d", ka.attempts)
	}
}

func TestMarkNonRetryable(t *testing.T) {
	amgr := New()
	if err := amgr.AddAddressByIP("173.194.115.66:18333"); err != nil {
		t.Fatalf("AddAddressByIP: unexpected error: %v", err)
	}

	ka := amgr.GetAddress()
	amgr.MarkNonRetryable(ka.NetAddress())

	if amgr.NumAddresses() != 0 {
		t.Fatalf("expected address to be removed, got %d remaining", amgr.NumAddresses())
	}
}

func TestGroupKey(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"1.2.3.4", "1.2"},
		{"1.2.4.4", "1.2"},
		{"2.2.3.4", "2.2"},
	}
	for _, test := range tests {
		na := wire.NewNetAddressIPPort(net.ParseIP(test.ip), 18333, wire.SFNodeNetwork)
		if got := GroupKey(na); got != test.want {
			t.Errorf("GroupKey(%s) = %s, want %s", test.ip, got, test.want)
		}
	}
}

func TestIsBad(t *testing.T) {
	amgr := New()
	if err := amgr.AddAddressByIP("173.194.115.66:18333"); err != nil {
		t.Fatalf("AddAddressByIP: unexpected error: %v", err)
	}
	ka := amgr.GetAddress()
	for i := 0; i < numRetries; i++ {
		amgr.Attempt(ka.NetAddress())
	}
	// isBad treats an address attempted within the last minute as not-yet
	// decided either way; push lastAttempt into the past to exercise the
	// failure-count branch directly.
	ka.lastAttempt = time.Now().Add(-2 * time.Minute)
	if !ka.isBad() {
		t.Fatal("expected address with numRetries failed attempts and no success to be bad")
	}
}
