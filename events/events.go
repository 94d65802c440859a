// Package events implements the node's multi-producer, multi-consumer
// notification bus (spec §4.I): the Controller and its components publish
// Events, and the wallet (and any other interested caller) subscribes to
// a private channel fed by a broadcast loop.
package events

import (
	"sync"

	"github.com/btcnode/btcnode/chainhash"
)

// Kind tags the variant carried by an Event, matching spec §3's "Wallet
// notification event" tagged union plus the Lagged marker original_source
// names for slow subscribers (spec §4.I).
type Kind int

const (
	KindHeaderSyncProgress Kind = iota
	KindBlockDownloaded
	KindPendingTx
	KindConfirmedTx
	KindError
	KindLagged
)

func (k Kind) String() string {
	switch k {
	case KindHeaderSyncProgress:
		return "HeaderSyncProgress"
	case KindBlockDownloaded:
		return "BlockDownloaded"
	case KindPendingTx:
		return "PendingTx"
	case KindConfirmedTx:
		return "ConfirmedTx"
	case KindError:
		return "Error"
	case KindLagged:
		return "Lagged"
	default:
		return "Unknown"
	}
}

// Event is a single notification. Only the fields relevant to Kind are
// populated; callers switch on Kind before reading them.
type Event struct {
	Kind Kind

	// HeaderSyncProgress
	Height int32

	// BlockDownloaded
	BlockHeight int32
	BlockHash   chainhash.Hash

	// PendingTx / ConfirmedTx
	TxID            chainhash.Hash
	AffectedScripts [][]byte
	ConfirmedInHash chainhash.Hash

	// Error
	ErrKind string
	Detail  string

	// Lagged
	Dropped int
}

// HeaderSyncProgress builds a HeaderSyncProgress event.
func HeaderSyncProgress(height int32) Event {
	return Event{Kind: KindHeaderSyncProgress, Height: height}
}

// BlockDownloaded builds a BlockDownloaded event.
func BlockDownloaded(height int32, hash chainhash.Hash) Event {
	return Event{Kind: KindBlockDownloaded, BlockHeight: height, BlockHash: hash}
}

// PendingTx builds a PendingTx event.
func PendingTx(txID chainhash.Hash, affectedScripts [][]byte) Event {
	return Event{Kind: KindPendingTx, TxID: txID, AffectedScripts: affectedScripts}
}

// ConfirmedTx builds a ConfirmedTx event.
func ConfirmedTx(txID, blockHash chainhash.Hash) Event {
	return Event{Kind: KindConfirmedTx, TxID: txID, ConfirmedInHash: blockHash}
}

// Error builds an Error event. kind is the node's ErrKind name (see the
// node package), kept here as a string so events does not import node and
// create a cycle.
func Error(kind, detail string) Event {
	return Event{Kind: KindError, ErrKind: kind, Detail: detail}
}

// Lagged builds a marker event replacing n events a subscriber missed.
func Lagged(n int) Event {
	return Event{Kind: KindLagged, Dropped: n}
}

const subscriberBuffer = 64

// subscriber is one consumer's private mailbox plus a count of events
// dropped since its last successful delivery, folded into a Lagged event
// the next time there is room.
type subscriber struct {
	ch      chan Event
	dropped int
}

// Bus fans Events out to every current subscriber. Per spec §4.I a slow
// subscriber is dropped from, not allowed to block producers; per spec §5
// ordering guarantee (c), delivery preserves per-producer order, which
// falls out naturally here because Publish holds the bus lock for the
// whole fan-out.
type Bus struct {
	mu   sync.Mutex
	subs map[int]*subscriber
	next int
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscription is a handle returned by Subscribe; Events arrives in
// publish order, interleaved with Lagged markers if this subscriber falls
// behind.
type Subscription struct {
	id     int
	bus    *Bus
	Events <-chan Event
}

// Subscribe registers a new subscriber and returns its handle.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	b.subs[id] = sub

	return &Subscription{id: id, bus: b, Events: sub.ch}
}

// Unsubscribe removes the subscription and closes its channel. Further
// sends to it are no-ops.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if sub, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(sub.ch)
	}
}

// Publish delivers ev to every current subscriber without blocking. A
// subscriber whose mailbox is full has the event dropped and its lagged
// counter incremented; the counter is flushed as a Lagged event the next
// time a slot is free.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		b.deliver(sub, ev)
	}
}

func (b *Bus) deliver(sub *subscriber, ev Event) {
	if sub.dropped > 0 {
		select {
		case sub.ch <- Lagged(sub.dropped):
			sub.dropped = 0
		default:
			sub.dropped++
			return
		}
	}

	select {
	case sub.ch <- ev:
	default:
		sub.dropped++
	}
}
