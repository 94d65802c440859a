package node

import (
	"sort"
	"sync"

	"github.com/btcnode/btcnode/peer"
)

// registry is the peer pool's bookkeeping of spec §4.C: every Ready (or
// still handshaking) session, addressed by opaque id so sessions never
// hold a reference back to the controller (spec §9 "Cyclic references").
type registry struct {
	mu       sync.Mutex
	peers    map[int32]*peer.Peer
	rrCursor int
}

func newRegistry() *registry {
	return &registry{peers: make(map[int32]*peer.Peer)}
}

func (r *registry) add(p *peer.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p.ID()] = p
}

func (r *registry) remove(id int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.peers, id)
}

func (r *registry) get(id int32) (*peer.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *registry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *registry) all() []*peer.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*peer.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// nextReady does round-robin selection over Ready peers with outstanding
// work below maxOutstanding, skipping any peer with work already assigned
// (spec §4.C "Selection for work assignment is round-robin over Ready
// peers, skipping peers with outstanding work at or above
// blocks_download_per_node").
func (r *registry) nextReady(maxOutstanding int) (*peer.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.peers) == 0 {
		return nil, false
	}

	ids := make([]int32, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i := 0; i < len(ids); i++ {
		idx := (r.rrCursor + i) % len(ids)
		p := r.peers[ids[idx]]
		if p.State() != "Ready" {
			continue
		}
		if maxOutstanding > 0 && p.WorkAssigned() != "" {
			continue
		}
		r.rrCursor = idx + 1
		return p, true
	}
	return nil, false
}
