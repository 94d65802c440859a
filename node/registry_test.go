package node

import (
	"net"
	"testing"
	"time"

	"github.com/btcnode/btcnode/peer"
)

// readyPeerPair establishes a real loopback TCP connection and drives both
// ends through the version/verack handshake (spec §4.B), returning the
// outbound-side Peer once it reaches Ready. The inbound-side Peer is kept
// alive only so its handshake goroutines keep running; both are
// disconnected on test cleanup.
func readyPeerPair(t *testing.T) *peer.Peer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %s", err)
	}
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	acceptErrCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErrCh <- err
			return
		}
		acceptedCh <- conn
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %s", err)
	}

	var accepted net.Conn
	select {
	case accepted = <-acceptedCh:
	case err := <-acceptErrCh:
		t.Fatalf("Accept: %s", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting to accept loopback connection")
	}

	cfg := &peer.Config{
		NetMagic:        0x0709110b,
		LastBlockHeight: func() int32 { return 0 },
		AddBanScore:     func(persistent, transient uint32, reason string) {},
		UserAgentName:   "test",
		ProtocolVersion: peer.MaxProtocolVersion,
	}

	inboundPeer := peer.NewInboundPeer(cfg)
	if err := inboundPeer.AssociateConnection(accepted); err != nil {
		t.Fatalf("inbound AssociateConnection: %s", err)
	}

	outboundPeer, err := peer.NewOutboundPeer(cfg, dialed.RemoteAddr().String())
	if err != nil {
		t.Fatalf("NewOutboundPeer: %s", err)
	}
	if err := outboundPeer.AssociateConnection(dialed); err != nil {
		t.Fatalf("outbound AssociateConnection: %s", err)
	}

	t.Cleanup(func() {
		outboundPeer.Disconnect()
		inboundPeer.Disconnect()
	})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if outboundPeer.State() == "Ready" {
			return outboundPeer
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for outbound peer to reach Ready, last state %s", outboundPeer.State())
	return nil
}

// TestRegistryAddGetRemove checks the basic bookkeeping operations.
func TestRegistryAddGetRemove(t *testing.T) {
	r := newRegistry()
	p := readyPeerPair(t)

	r.add(p)
	if r.count() != 1 {
		t.Fatalf("got count %d, want 1", r.count())
	}
	got, ok := r.get(p.ID())
	if !ok || got != p {
		t.Fatal("expected get to return the added peer")
	}

	r.remove(p.ID())
	if r.count() != 0 {
		t.Fatalf("got count %d after remove, want 0", r.count())
	}
	if _, ok := r.get(p.ID()); ok {
		t.Fatal("expected get to fail after remove")
	}
}

// TestRegistryNextReadyRoundRobin exercises spec §4.C: round-robin
// selection over Ready peers.
func TestRegistryNextReadyRoundRobin(t *testing.T) {
	r := newRegistry()
	a := readyPeerPair(t)
	b := readyPeerPair(t)
	r.add(a)
	r.add(b)

	seen := make(map[int32]int)
	for i := 0; i < 4; i++ {
		p, ok := r.nextReady(0)
		if !ok {
			t.Fatal("expected a Ready peer to be available")
		}
		seen[p.ID()]++
	}
	if seen[a.ID()] != 2 || seen[b.ID()] != 2 {
		t.Fatalf("got selection counts %v, want each peer picked twice over 4 rounds", seen)
	}
}

// TestRegistryNextReadySkipsOutstandingWork checks a peer already at its
// outstanding-work cap is skipped, per spec §4.C "skipping peers with
// outstanding work at or above blocks_download_per_node".
func TestRegistryNextReadySkipsOutstandingWork(t *testing.T) {
	r := newRegistry()
	a := readyPeerPair(t)
	b := readyPeerPair(t)
	r.add(a)
	r.add(b)

	a.SetWorkAssigned("some-shard")

	for i := 0; i < 4; i++ {
		p, ok := r.nextReady(1)
		if !ok {
			t.Fatal("expected a Ready peer to be available")
		}
		if p.ID() == a.ID() {
			t.Fatal("expected the busy peer to be skipped")
		}
	}
}

// TestRegistryNextReadyEmpty checks an empty registry reports no Ready
// peer.
func TestRegistryNextReadyEmpty(t *testing.T) {
	r := newRegistry()
	if _, ok := r.nextReady(0); ok {
		t.Fatal("expected an empty registry to report no Ready peer")
	}
}
