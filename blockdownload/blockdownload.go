// Package blockdownload implements the parallel, getdata-driven block
// fetch of spec §4.E: the known header range is sliced into fixed-size
// shards, each handed to a Ready peer, and a small reorder buffer applies
// blocks in strict height order regardless of arrival order.
package blockdownload

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/wire"
)

// ErrNoWork is returned by NextShard when every shard is either applied
// or currently assigned.
var ErrNoWork = errors.New("no unclaimed block-download work available")

// shard is one fixed-size unit of work: a contiguous run of heights and
// their header hashes.
type shard struct {
	id          int
	startHeight int32
	hashes      []chainhash.Hash
}

// assignment tracks who is working a shard and since when, so the
// controller can detect a stalled peer (spec §5 "Each block request has
// an idle timeout").
type assignment struct {
	shard     *shard
	peerID    int32
	startedAt time.Time
}

// Downloader holds the block-download range, its shard queue, the
// in-flight assignments, and the reorder buffer that lets blocks be
// validated and applied strictly in ascending height order (spec §4.E
// "Ordering", spec §5 ordering guarantee (b)).
type Downloader struct {
	mu sync.Mutex

	firstHeight int32
	tipHeight   int32
	shardSize   int

	unclaimed []*shard
	inFlight  map[int]*assignment

	nextApplyHeight int32
	buffer          map[int32]*wire.MsgBlock

	heightOf map[chainhash.Hash]int32
}

// New builds a Downloader for the contiguous height range
// [firstHeight, tipHeight], given the hash of every header in that range
// (hashesByHeight, in ascending height order), sliced into shards of shardSize hashes each (spec §4.E
// "Work assignment").
func New(firstHeight, tipHeight int32, shardSize int, hashesByHeight []chainhash.Hash) *Downloader {
	d := &Downloader{
		firstHeight:     firstHeight,
		tipHeight:       tipHeight,
		shardSize:       shardSize,
		inFlight:        make(map[int]*assignment),
		nextApplyHeight: firstHeight,
		buffer:          make(map[int32]*wire.MsgBlock),
		heightOf:        make(map[chainhash.Hash]int32, len(hashesByHeight)),
	}

	id := 0
	for start := 0; start < len(hashesByHeight); start += shardSize {
		end := start + shardSize
		if end > len(hashesByHeight) {
			end = len(hashesByHeight)
		}
		hashes := make([]chainhash.Hash, end-start)
		copy(hashes, hashesByHeight[start:end])
		for i, h := range hashes {
			height := firstHeight + int32(start+i)
			d.heightOf[h] = height
		}
		d.unclaimed = append(d.unclaimed, &shard{
			id:          id,
			startHeight: firstHeight + int32(start),
			hashes:      hashes,
		})
		id++
	}

	return d
}

// NextShard pulls one unclaimed shard and assigns it to peerID. Per spec
// §4.C, the caller is responsible for not calling this for a peer already
// at its outstanding-work cap.
func (d *Downloader) NextShard(peerID int32) ([]chainhash.Hash, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.unclaimed) == 0 {
		return nil, ErrNoWork
	}

	s := d.unclaimed[0]
	d.unclaimed = d.unclaimed[1:]
	d.inFlight[s.id] = &assignment{shard: s, peerID: peerID, startedAt: time.Now()}

	return s.hashes, nil
}

// ReceiveBlock records an arrived block in the reorder buffer, keyed by
// its header's known height, and marks its shard complete if every hash
// in that shard has now arrived.
func (d *Downloader) ReceiveBlock(block *wire.MsgBlock) error {
	hash := block.BlockHash()

	d.mu.Lock()
	defer d.mu.Unlock()

	height, ok := d.heightOf[hash]
	if !ok {
		return errors.Errorf("block %s is not part of the current download range", hash)
	}

	d.buffer[height] = block

	for id, a := range d.inFlight {
		allArrived := true
		for _, h := range a.shard.hashes {
			if _, have := d.buffer[d.heightOf[h]]; !have {
				allArrived = false
				break
			}
		}
		if allArrived {
			delete(d.inFlight, id)
		}
	}

	return nil
}

// Requeue returns a timed-out or failed peer's shard (minus any hashes
// already received) to the unclaimed queue (spec §4.E "On partial
// delivery, missing hashes are returned to an unclaimed-work queue").
func (d *Downloader) Requeue(peerID int32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for id, a := range d.inFlight {
		if a.peerID != peerID {
			continue
		}
		delete(d.inFlight, id)

		var missing []chainhash.Hash
		for _, h := range a.shard.hashes {
			if _, have := d.buffer[d.heightOf[h]]; !have {
				missing = append(missing, h)
			}
		}
		if len(missing) > 0 {
			d.unclaimed = append(d.unclaimed, &shard{
				id:          a.shard.id,
				startHeight: a.shard.startHeight,
				hashes:      missing,
			})
		}
	}
}

// Drain applies every block ready in ascending height order, starting
// from the first height not yet applied, calling apply for each. It stops
// at the first gap and returns the count applied.
func (d *Downloader) Drain(apply func(height int32, block *wire.MsgBlock) error) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	applied := 0
	for {
		block, ok := d.buffer[d.nextApplyHeight]
		if !ok {
			break
		}
		if err := apply(d.nextApplyHeight, block); err != nil {
			return applied, err
		}
		delete(d.buffer, d.nextApplyHeight)
		d.nextApplyHeight++
		applied++
	}
	return applied, nil
}

// Done reports whether every height in the range has been applied (spec
// §4.E "Termination").
func (d *Downloader) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextApplyHeight > d.tipHeight
}

// StalledAssignments returns the peer IDs whose shard has been in flight
// longer than timeout, for the controller to disconnect and requeue.
func (d *Downloader) StalledAssignments(timeout time.Duration) []int32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	var stalled []int32
	for _, a := range d.inFlight {
		if now.Sub(a.startedAt) > timeout {
			stalled = append(stalled, a.peerID)
		}
	}
	return stalled
}
