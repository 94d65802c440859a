// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package peer implements the peer session of spec §4.B: one TCP
// connection, its handshake state machine, and the send/receive loops that
// move wire messages between the socket and the rest of the node kernel.
package peer

import (
	"container/list"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/wire"
)

const (
	// MaxProtocolVersion is the max protocol version the peer supports.
	MaxProtocolVersion = wire.ProtocolVersion

	// outputBufferSize is the number of elements the output channels use.
	outputBufferSize = 50

	// maxKnownInventory is the maximum number of items to keep in the known
	// inventory cache.
	maxKnownInventory = 1000

	// pingInterval is the interval of time to wait in between sending ping
	// messages.
	pingInterval = 2 * time.Minute

	// negotiateTimeout is the duration of inactivity before we timeout a
	// peer that hasn't completed the initial version negotiation.
	negotiateTimeout = 30 * time.Second

	// idleTimeout is the duration of inactivity before we time out a peer.
	idleTimeout = 5 * time.Minute

	// stallTickInterval is the interval of time between each check for
	// stalled peers.
	stallTickInterval = 15 * time.Second

	// stallResponseTimeout is the base maximum amount of time messages that
	// expect a response will wait before disconnecting the peer for
	// stalling.
	stallResponseTimeout = 30 * time.Second
)

var (
	// nodeCount is the total number of peer connections made since startup
	// and is used to assign an id to a peer.
	nodeCount int32

	// sentNonces houses the unique nonces generated when pushing version
	// messages, used to detect self connections.
	sentNonces = newMruNonceMap(50)
)

// handshakeState is the peer session state machine of spec §4.B:
// Init -> SentVersion -> RecvVersion -> SentVerack -> Ready, terminating in
// Closed from any state.
type handshakeState int32

const (
	stateInit handshakeState = iota
	stateSentVersion
	stateRecvVersion
	stateSentVerack
	stateReady
	stateClosed
)

func (s handshakeState) String() string {
	switch s {
	case stateInit:
		return "Init"
	case stateSentVersion:
		return "SentVersion"
	case stateRecvVersion:
		return "RecvVersion"
	case stateSentVerack:
		return "SentVerack"
	case stateReady:
		return "Ready"
	case stateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// MessageListeners defines callback function pointers to invoke for
// messages received on a peer. Any listener left nil is ignored. Listeners
// run serially on the inbound goroutine, so none may block on another peer
// operation.
type MessageListeners struct {
	OnVersion     func(p *Peer, msg *wire.MsgVersion)
	OnVerAck      func(p *Peer, msg *wire.MsgVerAck)
	OnPing        func(p *Peer, msg *wire.MsgPing)
	OnPong        func(p *Peer, msg *wire.MsgPong)
	OnGetHeaders  func(p *Peer, msg *wire.MsgGetHeaders)
	OnHeaders     func(p *Peer, msg *wire.MsgHeaders)
	OnGetBlocks   func(p *Peer, msg *wire.MsgGetBlocks)
	OnInv         func(p *Peer, msg *wire.MsgInv)
	OnGetData     func(p *Peer, msg *wire.MsgGetData)
	OnNotFound    func(p *Peer, msg *wire.MsgNotFound)
	OnBlock       func(p *Peer, msg *wire.MsgBlock, buf []byte)
	OnTx          func(p *Peer, msg *wire.MsgTx)
	OnSendHeaders func(p *Peer, msg *wire.MsgSendHeaders)
	OnRead        func(p *Peer, bytesRead int, msg wire.Message, err error)
	OnWrite       func(p *Peer, bytesWritten int, msg wire.Message, err error)
}

// Config holds the configuration options used to negotiate and run a Peer.
type Config struct {
	// NetMagic is the network's 4-byte start string (config start_string).
	NetMagic uint32

	// LastBlockHeight returns the local header chain's current height,
	// announced in the outgoing version message's start-height field.
	LastBlockHeight func() int32

	// AddBanScore increases a peer's persistent and transient ban score.
	AddBanScore func(persistent, transient uint32, reason string)

	// HostToNetAddress resolves a host/port into a wire.NetAddress. If nil
	// the host is parsed as a bare IP.
	HostToNetAddress HostToNetAddrFunc

	// UserAgentName and UserAgentVersion are combined into the user agent
	// string announced in the version message (config user_agent).
	UserAgentName    string
	UserAgentVersion string

	// Services specifies which services to advertise as supported.
	Services wire.ServiceFlag

	// ProtocolVersion specifies the max protocol version to use and
	// advertise (config protocol_version). Defaults to MaxProtocolVersion.
	ProtocolVersion uint32

	// DisableRelayTx tells the remote peer not to send inv for
	// transactions.
	DisableRelayTx bool

	// Listeners are invoked for each received message type.
	Listeners MessageListeners
}

// HostToNetAddrFunc resolves a host, port, and services bitmap into a
// wire.NetAddress.
type HostToNetAddrFunc func(host string, port uint16, services wire.ServiceFlag) (*wire.NetAddress, error)

func minUint32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func newNetAddress(addr net.Addr, services wire.ServiceFlag) (*wire.NetAddress, error) {
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return wire.NewNetAddressIPPort(tcpAddr.IP, uint16(tcpAddr.Port), services), nil
	}

	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}
	return wire.NewNetAddressIPPort(ip, uint16(port), services), nil
}

// outMsg houses a message to be sent along with a channel to signal when
// the message has been sent (or won't be, due to shutdown).
type outMsg struct {
	msg      wire.Message
	doneChan chan<- struct{}
}

type stallControlCmd uint8

const (
	sccSendMessage stallControlCmd = iota
	sccReceiveMessage
	sccHandlerStart
	sccHandlerDone
)

type stallControlMsg struct {
	command stallControlCmd
	message wire.Message
}

// StatsSnap is a snapshot of peer stats at a point in time.
type StatsSnap struct {
	ID             int32
	Addr           string
	Services       wire.ServiceFlag
	LastSend       time.Time
	LastRecv       time.Time
	BytesSent      uint64
	BytesRecv      uint64
	ConnTime       time.Time
	TimeOffset     int64
	Version        uint32
	UserAgent      string
	Inbound        bool
	StartHeight    int32
	LastPingNonce  uint64
	LastPingTime   time.Time
	LastPingMicros int64
}

// Peer represents one TCP connection to a remote node. It owns the
// handshake state machine, the bounded send queue of spec §4.B, and the
// read/write goroutines that drive them.
//
// Outbound messages are queued via QueueMessage. Inbound messages are
// dispatched to the corresponding MessageListeners callback.
type Peer struct {
	bytesReceived uint64
	bytesSent     uint64
	lastRecv      int64
	lastSend      int64
	connected     int32
	disconnect    int32

	conn net.Conn

	addr    string
	cfg     Config
	inbound bool

	flagsMtx           sync.Mutex
	na                 *wire.NetAddress
	id                 int32
	userAgent          string
	services           wire.ServiceFlag
	versionKnown       bool
	advertisedProtoVer uint32
	protocolVersion    uint32
	state              handshakeState

	knownInventory *mruInventoryMap

	statsMtx       sync.RWMutex
	timeOffset     int64
	timeConnected  time.Time
	startHeight    int32
	lastPingNonce  uint64
	lastPingTime   time.Time
	lastPingMicros int64

	// workAssigned is the height range, as a human-readable label,
	// currently assigned to this peer by the Block Downloader (spec
	// §4.E "current work assignment" peer record field).
	workMtx      sync.Mutex
	workAssigned string

	stallControl  chan stallControlMsg
	outputQueue   chan outMsg
	sendQueue     chan outMsg
	sendDoneQueue chan struct{}
	inQuit        chan struct{}
	queueQuit     chan struct{}
	outQuit       chan struct{}
	quit          chan struct{}
}

// String returns the peer's address and directionality.
func (p *Peer) String() string {
	dir := "outbound"
	if p.inbound {
		dir = "inbound"
	}
	return fmt.Sprintf("%s (%s)", p.addr, dir)
}

// AddKnownInventory adds the passed inventory to the cache of known
// inventory for the peer.
func (p *Peer) AddKnownInventory(invVect *wire.InvVect) {
	p.knownInventory.Add(invVect)
}

// HasKnownInventory reports whether the peer is already known to have the
// inventory, per spec §4.B "Inbound inv entries are recorded".
func (p *Peer) HasKnownInventory(invVect *wire.InvVect) bool {
	return p.knownInventory.Exists(invVect)
}

// SetWorkAssigned records the current block-download work assignment for
// this peer (spec §3 peer record "current work assignment").
func (p *Peer) SetWorkAssigned(label string) {
	p.workMtx.Lock()
	defer p.workMtx.Unlock()
	p.workAssigned = label
}

// WorkAssigned returns the current block-download work assignment label,
// or the empty string if none.
func (p *Peer) WorkAssigned() string {
	p.workMtx.Lock()
	defer p.workMtx.Unlock()
	return p.workAssigned
}

// StatsSnapshot returns a snapshot of the current peer flags and stats.
func (p *Peer) StatsSnapshot() *StatsSnap {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()

	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	return &StatsSnap{
		ID:             p.id,
		Addr:           p.addr,
		UserAgent:      p.userAgent,
		Services:       p.services,
		LastSend:       p.LastSend(),
		LastRecv:       p.LastRecv(),
		BytesSent:      p.BytesSent(),
		BytesRecv:      p.BytesReceived(),
		ConnTime:       p.timeConnected,
		TimeOffset:     p.timeOffset,
		Version:        p.advertisedProtoVer,
		Inbound:        p.inbound,
		StartHeight:    p.startHeight,
		LastPingNonce:  p.lastPingNonce,
		LastPingMicros: p.lastPingMicros,
		LastPingTime:   p.lastPingTime,
	}
}

// ID returns the peer id, assigned when the remote version message is
// processed.
func (p *Peer) ID() int32 {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.id
}

// NA returns the peer's network address.
func (p *Peer) NA() *wire.NetAddress {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.na
}

// Addr returns the peer address as dialed or accepted.
func (p *Peer) Addr() string {
	return p.addr
}

// Inbound returns whether the peer connected to us.
func (p *Peer) Inbound() bool {
	return p.inbound
}

// Services returns the services flag of the remote peer.
func (p *Peer) Services() wire.ServiceFlag {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.services
}

// UserAgent returns the user agent of the remote peer.
func (p *Peer) UserAgent() string {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.userAgent
}

// LastPingNonce returns the last ping nonce sent to the remote peer.
func (p *Peer) LastPingNonce() uint64 {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()
	return p.lastPingNonce
}

// VersionKnown returns whether the remote peer's version is known.
func (p *Peer) VersionKnown() bool {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.versionKnown
}

// State returns the peer's current handshake state.
func (p *Peer) State() string {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.state.String()
}

func (p *Peer) setState(s handshakeState) {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	p.state = s
}

// ProtocolVersion returns the negotiated protocol version.
func (p *Peer) ProtocolVersion() uint32 {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()
	return p.protocolVersion
}

// StartHeight returns the remote peer's announced header-chain height.
func (p *Peer) StartHeight() int32 {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()
	return p.startHeight
}

// AddBanScore increases the peer's ban score by the given amounts.
func (p *Peer) AddBanScore(persistent, transient uint32, reason string) {
	if p.cfg.AddBanScore != nil {
		p.cfg.AddBanScore(persistent, transient, reason)
	}
}

// LastSend returns the last send time of the peer.
func (p *Peer) LastSend() time.Time {
	return time.Unix(atomic.LoadInt64(&p.lastSend), 0)
}

// LastRecv returns the last recv time of the peer.
func (p *Peer) LastRecv() time.Time {
	return time.Unix(atomic.LoadInt64(&p.lastRecv), 0)
}

// BytesSent returns the total number of bytes sent to the peer.
func (p *Peer) BytesSent() uint64 {
	return atomic.LoadUint64(&p.bytesSent)
}

// BytesReceived returns the total number of bytes received from the peer.
func (p *Peer) BytesReceived() uint64 {
	return atomic.LoadUint64(&p.bytesReceived)
}

// TimeConnected returns the time at which the peer connected.
func (p *Peer) TimeConnected() time.Time {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()
	return p.timeConnected
}

// TimeOffset returns the number of seconds the remote peer's clock is
// offset from the local clock.
func (p *Peer) TimeOffset() int64 {
	p.statsMtx.RLock()
	defer p.statsMtx.RUnlock()
	return p.timeOffset
}

// localVersionMsg builds the version message sent during the handshake.
func (p *Peer) localVersionMsg() (*wire.MsgVersion, error) {
	var startHeight int32
	if p.cfg.LastBlockHeight != nil {
		startHeight = p.cfg.LastBlockHeight()
	}

	theirNA := p.na
	ourNA := &wire.NetAddress{Services: p.cfg.Services}

	nonce := uint64(rand.Int63())
	sentNonces.Add(nonce)

	userAgent := p.cfg.UserAgentName
	if p.cfg.UserAgentVersion != "" {
		userAgent = fmt.Sprintf("%s:%s/", userAgent, p.cfg.UserAgentVersion)
	}

	msg := wire.NewMsgVersion(ourNA, theirNA, nonce, startHeight, userAgent)
	msg.AddrYou.Services = wire.SFNodeNetwork
	msg.Services = p.cfg.Services
	msg.ProtocolVersion = p.cfg.ProtocolVersion
	msg.DisableRelayTx = p.cfg.DisableRelayTx

	return msg, nil
}

// handleRemoteVersionMsg validates a received version message and records
// its fields. It is invoked before the peer responds with verack.
func (p *Peer) handleRemoteVersionMsg(msg *wire.MsgVersion) error {
	if sentNonces.Exists(msg.Nonce) {
		return errors.New("disconnecting peer connected to self")
	}

	p.updateStatsFromVersionMsg(msg)
	p.updateFlagsFromVersionMsg(msg)

	return nil
}

func (p *Peer) updateStatsFromVersionMsg(msg *wire.MsgVersion) {
	p.statsMtx.Lock()
	defer p.statsMtx.Unlock()
	p.startHeight = msg.LastBlock
	p.timeOffset = msg.Timestamp.Unix() - time.Now().Unix()
}

func (p *Peer) updateFlagsFromVersionMsg(msg *wire.MsgVersion) {
	p.flagsMtx.Lock()
	defer p.flagsMtx.Unlock()

	p.advertisedProtoVer = msg.ProtocolVersion
	p.protocolVersion = minUint32(p.protocolVersion, p.advertisedProtoVer)
	p.versionKnown = true

	p.id = atomic.AddInt32(&nodeCount, 1)
	p.services = msg.Services
	p.userAgent = msg.UserAgent
}

func (p *Peer) handlePingMsg(msg *wire.MsgPing) {
	p.QueueMessage(wire.NewMsgPong(msg.Nonce), nil)
}

func (p *Peer) handlePongMsg(msg *wire.MsgPong) {
	p.statsMtx.Lock()
	defer p.statsMtx.Unlock()
	if p.lastPingNonce != 0 && msg.Nonce == p.lastPingNonce {
		p.lastPingMicros = time.Since(p.lastPingTime).Microseconds()
		p.lastPingNonce = 0
	}
}

// readMessage reads the next message from the peer with logging.
func (p *Peer) readMessage() (wire.Message, []byte, error) {
	n, buf, msg, err := wire.ReadMessageN(p.conn, p.ProtocolVersion(), p.cfg.NetMagic)
	atomic.AddUint64(&p.bytesReceived, uint64(n))
	if p.cfg.Listeners.OnRead != nil {
		p.cfg.Listeners.OnRead(p, n, msg, err)
	}
	if err != nil {
		return nil, nil, err
	}

	log.Tracef("Received %s%s from %s", msg.Command(), summarySuffix(msg), p)
	return msg, buf, nil
}

// writeMessage sends a message to the peer with logging.
func (p *Peer) writeMessage(msg wire.Message) error {
	if atomic.LoadInt32(&p.disconnect) != 0 {
		return nil
	}

	log.Tracef("Sending %s%s to %s", msg.Command(), summarySuffix(msg), p)

	n, err := wire.WriteMessageN(p.conn, msg, p.ProtocolVersion(), p.cfg.NetMagic)
	atomic.AddUint64(&p.bytesSent, uint64(n))
	if p.cfg.Listeners.OnWrite != nil {
		p.cfg.Listeners.OnWrite(p, n, msg, err)
	}
	return err
}

func summarySuffix(msg wire.Message) string {
	summary := messageSummary(msg)
	if summary == "" {
		return ""
	}
	return " (" + summary + ")"
}

// shouldHandleReadError reports whether a readMessage error, encountered in
// inHandler, should be logged rather than silently treated as a normal
// disconnect.
func (p *Peer) shouldHandleReadError(err error) bool {
	if atomic.LoadInt32(&p.disconnect) != 0 {
		return false
	}
	if err == io.EOF {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && !opErr.Temporary() {
		return false
	}
	return true
}

// maybeAddDeadline adds a deadline for the appropriate expected response to
// the passed wire command, if any.
func (p *Peer) maybeAddDeadline(pendingResponses map[string]time.Time, msgCmd string) {
	deadline := time.Now().Add(stallResponseTimeout)
	switch msgCmd {
	case wire.CmdVersion:
		pendingResponses[wire.CmdVerAck] = deadline
	case wire.CmdGetHeaders:
		pendingResponses[wire.CmdHeaders] = deadline
	case wire.CmdGetData:
		pendingResponses[wire.CmdBlock] = deadline
		pendingResponses[wire.CmdTx] = deadline
		pendingResponses[wire.CmdNotFound] = deadline
	}
}

// stallHandler detects peers that accepted a request but never answered it,
// disconnecting them once the adjusted deadline passes. It must be run as a
// goroutine.
func (p *Peer) stallHandler() {
	var handlerActive bool
	var handlersStartTime time.Time
	var deadlineOffset time.Duration

	pendingResponses := make(map[string]time.Time)

	stallTicker := time.NewTicker(stallTickInterval)
	defer stallTicker.Stop()

	var ioStopped bool
out:
	for {
		select {
		case msg := <-p.stallControl:
			switch msg.command {
			case sccSendMessage:
				p.maybeAddDeadline(pendingResponses, msg.message.Command())

			case sccReceiveMessage:
				switch msgCmd := msg.message.Command(); msgCmd {
				case wire.CmdBlock, wire.CmdTx, wire.CmdNotFound:
					delete(pendingResponses, wire.CmdBlock)
					delete(pendingResponses, wire.CmdTx)
					delete(pendingResponses, wire.CmdNotFound)
				default:
					delete(pendingResponses, msgCmd)
				}

			case sccHandlerStart:
				if handlerActive {
					continue
				}
				handlerActive = true
				handlersStartTime = time.Now()

			case sccHandlerDone:
				if !handlerActive {
					continue
				}
				deadlineOffset += time.Since(handlersStartTime)
				handlerActive = false
			}

		case <-stallTicker.C:
			now := time.Now()
			offset := deadlineOffset
			if handlerActive {
				offset += now.Sub(handlersStartTime)
			}

			for command, deadline := range pendingResponses {
				if now.Before(deadline.Add(offset)) {
					continue
				}
				p.AddBanScore(BanScoreStallTimeout, 0, fmt.Sprintf("got timeout for command %s", command))
				p.Disconnect()
				break
			}
			deadlineOffset = 0

		case <-p.inQuit:
			if ioStopped {
				break out
			}
			ioStopped = true

		case <-p.outQuit:
			if ioStopped {
				break out
			}
			ioStopped = true
		}
	}

cleanup:
	for {
		select {
		case <-p.stallControl:
		default:
			break cleanup
		}
	}
	log.Tracef("Peer stall handler done for %s", p)
}

// inHandler handles all incoming messages for the peer. It must be run as a
// goroutine. It disconnects on idle timeout. Messages are dispatched to the
// listeners without a check of the peer's handshake state.
func (p *Peer) inHandler() {
	idleTimer := spawnAfter(idleTimeout, func() {
		log.Warnf("Peer %s no answer for %s -- disconnecting", p, idleTimeout)
		p.Disconnect()
	})

out:
	for atomic.LoadInt32(&p.disconnect) == 0 {
		rmsg, buf, err := p.readMessage()
		idleTimer.Stop()
		if err != nil {
			if errors.Is(err, wire.ErrUnknownCommand) {
				log.Debugf("Dropping message from %s: %s", p, err)
				idleTimer.Reset(idleTimeout)
				continue
			}
			if p.shouldHandleReadError(err) {
				log.Errorf("Can't read message from %s: %s", p, err)
			}
			break out
		}
		atomic.StoreInt64(&p.lastRecv, time.Now().Unix())
		p.stallControl <- stallControlMsg{sccReceiveMessage, rmsg}

		p.stallControl <- stallControlMsg{sccHandlerStart, rmsg}
		switch msg := rmsg.(type) {
		case *wire.MsgVersion:
			p.AddBanScore(BanScoreNonVersionFirstMessage, 0, "duplicate version message")

		case *wire.MsgVerAck:
			p.markVerAckReceived()
			if p.cfg.Listeners.OnVerAck != nil {
				p.cfg.Listeners.OnVerAck(p, msg)
			}

		case *wire.MsgPing:
			p.handlePingMsg(msg)
			if p.cfg.Listeners.OnPing != nil {
				p.cfg.Listeners.OnPing(p, msg)
			}

		case *wire.MsgPong:
			p.handlePongMsg(msg)
			if p.cfg.Listeners.OnPong != nil {
				p.cfg.Listeners.OnPong(p, msg)
			}

		case *wire.MsgGetHeaders:
			if p.cfg.Listeners.OnGetHeaders != nil {
				p.cfg.Listeners.OnGetHeaders(p, msg)
			}

		case *wire.MsgHeaders:
			if p.cfg.Listeners.OnHeaders != nil {
				p.cfg.Listeners.OnHeaders(p, msg)
			}

		case *wire.MsgGetBlocks:
			if p.cfg.Listeners.OnGetBlocks != nil {
				p.cfg.Listeners.OnGetBlocks(p, msg)
			}

		case *wire.MsgInv:
			for _, iv := range msg.InvList {
				p.AddKnownInventory(iv)
			}
			if p.cfg.Listeners.OnInv != nil {
				p.cfg.Listeners.OnInv(p, msg)
			}

		case *wire.MsgGetData:
			if p.cfg.Listeners.OnGetData != nil {
				p.cfg.Listeners.OnGetData(p, msg)
			}

		case *wire.MsgNotFound:
			if p.cfg.Listeners.OnNotFound != nil {
				p.cfg.Listeners.OnNotFound(p, msg)
			}

		case *wire.MsgBlock:
			if p.cfg.Listeners.OnBlock != nil {
				p.cfg.Listeners.OnBlock(p, msg, buf)
			}

		case *wire.MsgTx:
			if p.cfg.Listeners.OnTx != nil {
				p.cfg.Listeners.OnTx(p, msg)
			}

		case *wire.MsgSendHeaders:
			if p.cfg.Listeners.OnSendHeaders != nil {
				p.cfg.Listeners.OnSendHeaders(p, msg)
			}

		default:
			log.Debugf("Received unhandled message of type %s from %s", rmsg.Command(), p)
		}
		p.stallControl <- stallControlMsg{sccHandlerDone, rmsg}

		idleTimer.Reset(idleTimeout)
	}

	idleTimer.Stop()
	p.Disconnect()

	close(p.inQuit)
	log.Tracef("Peer input handler done for %s", p)
}

func (p *Peer) markVerAckReceived() {
	p.setState(stateReady)
}

// queueHandler muxes callers of QueueMessage onto the single sendQueue
// consumed by outHandler, so producers never block on the network socket
// (spec §4.B "outbound flow control").
func (p *Peer) queueHandler() {
	pendingMsgs := list.New()
	waiting := false

	queuePacket := func(msg outMsg, list *list.List, waiting bool) bool {
		if !waiting {
			p.sendQueue <- msg
		} else {
			list.PushBack(msg)
		}
		return true
	}
out:
	for {
		select {
		case msg := <-p.outputQueue:
			waiting = queuePacket(msg, pendingMsgs, waiting)

		case <-p.sendDoneQueue:
			next := pendingMsgs.Front()
			if next == nil {
				waiting = false
				continue
			}
			val := pendingMsgs.Remove(next)
			p.sendQueue <- val.(outMsg)

		case <-p.quit:
			break out
		}
	}

	for e := pendingMsgs.Front(); e != nil; e = pendingMsgs.Front() {
		val := pendingMsgs.Remove(e)
		msg := val.(outMsg)
		if msg.doneChan != nil {
			msg.doneChan <- struct{}{}
		}
	}
cleanup:
	for {
		select {
		case msg := <-p.outputQueue:
			if msg.doneChan != nil {
				msg.doneChan <- struct{}{}
			}
		default:
			break cleanup
		}
	}
	close(p.queueQuit)
	log.Tracef("Peer queue handler done for %s", p)
}

// outHandler writes queued messages to the network socket. It must be run
// as a goroutine.
func (p *Peer) outHandler() {
out:
	for {
		select {
		case msg := <-p.sendQueue:
			if m, ok := msg.msg.(*wire.MsgPing); ok {
				p.statsMtx.Lock()
				p.lastPingNonce = m.Nonce
				p.lastPingTime = time.Now()
				p.statsMtx.Unlock()
			}

			p.stallControl <- stallControlMsg{sccSendMessage, msg.msg}

			err := p.writeMessage(msg.msg)
			if err != nil {
				p.Disconnect()
				log.Errorf("Failed to send message to %s: %s", p, err)
				if msg.doneChan != nil {
					msg.doneChan <- struct{}{}
				}
				continue
			}

			atomic.StoreInt64(&p.lastSend, time.Now().Unix())
			if msg.doneChan != nil {
				msg.doneChan <- struct{}{}
			}
			p.sendDoneQueue <- struct{}{}

		case <-p.quit:
			break out
		}
	}

	<-p.queueQuit

cleanup:
	for {
		select {
		case msg := <-p.sendQueue:
			if msg.doneChan != nil {
				msg.doneChan <- struct{}{}
			}
		default:
			break cleanup
		}
	}
	close(p.outQuit)
	log.Tracef("Peer output handler done for %s", p)
}

// pingHandler periodically pings the peer. It must be run as a goroutine.
func (p *Peer) pingHandler() {
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

out:
	for {
		select {
		case <-pingTicker.C:
			p.QueueMessage(wire.NewMsgPing(uint64(rand.Int63())), nil)

		case <-p.quit:
			break out
		}
	}
}

// QueueMessage adds the passed message to the peer's send queue.
func (p *Peer) QueueMessage(msg wire.Message, doneChan chan<- struct{}) {
	if !p.Connected() {
		if doneChan != nil {
			spawn(func() {
				doneChan <- struct{}{}
			})
		}
		return
	}
	p.outputQueue <- outMsg{msg: msg, doneChan: doneChan}
}

// AssociateConnection associates conn with the peer and starts the
// handshake. Calling it when the peer is already connected has no effect.
func (p *Peer) AssociateConnection(conn net.Conn) error {
	if !atomic.CompareAndSwapInt32(&p.connected, 0, 1) {
		return nil
	}

	p.conn = conn
	p.timeConnected = time.Now()

	if p.inbound {
		p.addr = p.conn.RemoteAddr().String()
		na, err := newNetAddress(p.conn.RemoteAddr(), p.services)
		if err != nil {
			p.Disconnect()
			return errors.Wrap(err, "cannot create remote net address")
		}
		p.na = na
	}

	if err := p.start(); err != nil {
		p.Disconnect()
		return errors.Wrapf(err, "cannot start peer %s", p)
	}

	return nil
}

// Connected returns whether the peer is currently connected.
func (p *Peer) Connected() bool {
	return atomic.LoadInt32(&p.connected) != 0 && atomic.LoadInt32(&p.disconnect) == 0
}

// Disconnect closes the connection, transitioning the session to the
// Closed state. It is idempotent.
func (p *Peer) Disconnect() {
	if atomic.AddInt32(&p.disconnect, 1) != 1 {
		return
	}

	log.Tracef("Disconnecting %s", p)
	p.setState(stateClosed)
	if atomic.LoadInt32(&p.connected) != 0 {
		p.conn.Close()
	}
	close(p.quit)
}

// start begins the handshake, then the input/output goroutines once it
// completes within negotiateTimeout.
func (p *Peer) start() error {
	log.Tracef("Starting peer %s", p)

	negotiateErr := make(chan error, 1)
	spawn(func() {
		if p.inbound {
			negotiateErr <- p.negotiateInboundProtocol()
		} else {
			negotiateErr <- p.negotiateOutboundProtocol()
		}
	})

	select {
	case err := <-negotiateErr:
		if err != nil {
			return err
		}
	case <-time.After(negotiateTimeout):
		return errors.New("protocol negotiation timeout")
	}
	log.Debugf("Connected to %s", p.Addr())

	p.setState(stateSentVerack)

	spawn(p.stallHandler)
	spawn(p.inHandler)
	spawn(p.queueHandler)
	spawn(p.outHandler)
	spawn(p.pingHandler)

	p.QueueMessage(wire.NewMsgVerAck(), nil)

	return nil
}

// WaitForDisconnect blocks until the peer has fully disconnected.
func (p *Peer) WaitForDisconnect() {
	<-p.quit
}

func (p *Peer) readRemoteVersionMsg() error {
	msg, _, err := p.readMessage()
	if err != nil {
		return err
	}

	remoteVerMsg, ok := msg.(*wire.MsgVersion)
	if !ok {
		errStr := "a version message must precede all others"
		p.AddBanScore(BanScoreNonVersionFirstMessage, 0, errStr)
		return errors.New(errStr)
	}

	if err := p.handleRemoteVersionMsg(remoteVerMsg); err != nil {
		return err
	}
	p.setState(stateRecvVersion)

	if p.cfg.Listeners.OnVersion != nil {
		p.cfg.Listeners.OnVersion(p, remoteVerMsg)
	}
	return nil
}

func (p *Peer) writeLocalVersionMsg() error {
	localVerMsg, err := p.localVersionMsg()
	if err != nil {
		return err
	}
	if err := p.writeMessage(localVerMsg); err != nil {
		return err
	}
	p.setState(stateSentVersion)
	return nil
}

// negotiateInboundProtocol waits for the remote version message, then
// replies with ours.
func (p *Peer) negotiateInboundProtocol() error {
	if err := p.readRemoteVersionMsg(); err != nil {
		return err
	}
	return p.writeLocalVersionMsg()
}

// negotiateOutboundProtocol sends our version message first, then waits
// for the remote's.
func (p *Peer) negotiateOutboundProtocol() error {
	if err := p.writeLocalVersionMsg(); err != nil {
		return err
	}
	return p.readRemoteVersionMsg()
}

func newPeerBase(origCfg *Config, inbound bool) *Peer {
	cfg := *origCfg
	if cfg.ProtocolVersion == 0 {
		cfg.ProtocolVersion = MaxProtocolVersion
	}

	return &Peer{
		inbound:         inbound,
		knownInventory:  newMruInventoryMap(maxKnownInventory),
		stallControl:    make(chan stallControlMsg, 1),
		outputQueue:     make(chan outMsg, outputBufferSize),
		sendQueue:       make(chan outMsg, 1),
		sendDoneQueue:   make(chan struct{}, 1),
		inQuit:          make(chan struct{}),
		queueQuit:       make(chan struct{}),
		outQuit:         make(chan struct{}),
		quit:            make(chan struct{}),
		cfg:             cfg,
		services:        cfg.Services,
		protocolVersion: cfg.ProtocolVersion,
		state:           stateInit,
	}
}

// NewInboundPeer returns a new inbound peer. Call AssociateConnection to
// begin processing.
func NewInboundPeer(cfg *Config) *Peer {
	return newPeerBase(cfg, true)
}

// NewOutboundPeer returns a new outbound peer for the given address.
func NewOutboundPeer(cfg *Config, addr string) (*Peer, error) {
	p := newPeerBase(cfg, false)
	p.addr = addr

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, err
	}

	if cfg.HostToNetAddress != nil {
		na, err := cfg.HostToNetAddress(host, uint16(port), cfg.Services)
		if err != nil {
			return nil, err
		}
		p.na = na
	} else {
		p.na = wire.NewNetAddressIPPort(net.ParseIP(host), uint16(port), cfg.Services)
	}

	return p, nil
}

func init() {
	rand.Seed(time.Now().UnixNano())
}
