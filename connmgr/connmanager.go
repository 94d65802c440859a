// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package connmgr

import (
	nativeerrors "errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcnode/btcnode/addrmgr"
	"github.com/btcnode/btcnode/wire"

	"github.com/pkg/errors"
)

// maxFailedAttempts is the maximum number of successive failed connection
// attempts after which network failure is assumed and new connections will
// be delayed by the configured retry duration.
const maxFailedAttempts = 25

// defaultRetryDuration is the default duration of time between connection
// attempts once maxFailedAttempts have failed in a row.
var defaultRetryDuration = time.Second * 5

var (
	//ErrDialNil is used to indicate that Dial cannot be nil in the configuration.
	ErrDialNil = errors.New("Config: Dial cannot be nil")

	// ErrMaxOutboundPeers is an error that is thrown when the max amount of peers had
	// been reached.
	ErrMaxOutboundPeers = errors.New("max outbound peers reached")

	// ErrAlreadyConnected is an error that is thrown if the peer is already
	// connected.
	ErrAlreadyConnected = errors.New("peer already connected")

	// ErrPeerNotFound is an error that is thrown if the peer was not found.
	ErrPeerNotFound = errors.New("peer not found")

	//ErrAddressManagerNil is used to indicate that Address Manager cannot be nil in the configuration.
	ErrAddressManagerNil = errors.New("Config: Address manager cannot be nil")

	// ErrInvalidDefaultPort is returned by New when cfg.DefaultPort is set
	// but does not parse as a TCP port number.
	ErrInvalidDefaultPort = errors.New("Config: DefaultPort does not parse as a port number")
)

// ConnState represents the state of the requested connection.
type ConnState uint8

// ConnState can be either pending, established or failed. When a new
// connection is requested, it is attempted and categorized as established
// or failed depending on the connection result.
const (
	ConnPending ConnState = iota
	ConnFailing
	ConnEstablished
)

// ConnReq is a single connection attempt to a network address, driven
// entirely by the pool's own outbound-target loop (spec §2's Peer Pool
// component never pins a permanent, always-reconnect address; a single
// node pinned for full-chain download is tracked by the Controller's peer
// registry instead, once the connection has already succeeded).
type ConnReq struct {
	// The following variables must only be used atomically.
	id uint64

	Addr *net.TCPAddr

	conn     net.Conn
	state    ConnState
	stateMtx sync.RWMutex
}

// updateState updates the state of the connection request.
func (c *ConnReq) updateState(state ConnState) {
	c.stateMtx.Lock()
	defer c.stateMtx.Unlock()
	c.state = state
}

// ID returns a unique identifier for the connection request.
func (c *ConnReq) ID() uint64 {
	return atomic.LoadUint64(&c.id)
}

// State is the connection state of the requested connection.
func (c *ConnReq) State() ConnState {
	c.stateMtx.RLock()
	defer c.stateMtx.RUnlock()
	state := c.state
	return state
}

// String returns a human-readable string for the connection request.
func (c *ConnReq) String() string {
	if c.Addr == nil || c.Addr.String() == "" {
		return fmt.Sprintf("reqid %d", atomic.LoadUint64(&c.id))
	}
	return fmt.Sprintf("%s (reqid %d)", c.Addr, atomic.LoadUint64(&c.id))
}

// Config holds the configuration options related to the connection manager.
type Config struct {
	// Listeners defines a slice of listeners for which the connection
	// manager will take ownership of and accept connections. When a
	// connection is accepted, the OnAccept handler will be invoked with the
	// connection. Since the connection manager takes ownership of these
	// listeners, they will be closed when the connection manager is
	// stopped.
	//
	// This field will not have any effect if the OnAccept field is not
	// also specified. It may be nil if the caller does not wish to listen
	// for incoming connections.
	Listeners []net.Listener

	// OnAccept is a callback that is fired when an inbound connection is
	// accepted. It is the caller's responsibility to close the connection.
	// Failure to close the connection will result in the connection manager
	// believing the connection is still active and thus have undesirable
	// side effects such as still counting toward maximum connection limits.
	//
	// This field will not have any effect if the Listeners field is not
	// also specified since there couldn't possibly be any accepted
	// connections in that case.
	OnAccept func(net.Conn)

	// TargetOutbound is the number of outbound network connections to
	// maintain. When zero, no automatic outbound connections are made.
	TargetOutbound uint32

	// RetryDuration is the duration to wait before retrying connection
	// requests. Defaults to 5s.
	RetryDuration time.Duration

	// OnConnection is a callback that is fired when a new outbound
	// connection is established.
	OnConnection func(*ConnReq, net.Conn)

	// OnConnectionFailed is a callback that is fired when a new outbound
	// connection has failed to be established.
	OnConnectionFailed func(*ConnReq)

	AddrManager *addrmgr.AddrManager

	// Dial connects to the address on the named network. It cannot be nil.
	Dial func(net.Addr) (net.Conn, error)

	// AcceptUnroutable disables the one-outbound-connection-per-network-group
	// rule, for networks (regtest, simnet) meant to run within a single
	// private subnet.
	AcceptUnroutable bool

	// DefaultPort is the network's standard peer port (e.g. "18333" for
	// testnet3, "8333" for mainnet); outbound candidates on a non-default
	// port are deprioritized until many attempts fail. Parsed once by New,
	// so it must be a valid port number or the empty string.
	DefaultPort string
}

// registerPending is used to register a pending connection attempt, so
// that the connection handler recognizes the later handleConnected or
// handleFailed message for it.
type registerPending struct {
	c    *ConnReq
	done chan struct{}
}

// handleConnected is used to queue a successful connection.
type handleConnected struct {
	c    *ConnReq
	conn net.Conn
}

// handleFailed is used to remove a pending connection.
type handleFailed struct {
	c   *ConnReq
	err error
}

// ConnManager provides a manager to handle network connections.
type ConnManager struct {
	// The following variables must only be used atomically.
	connReqCount uint64
	start        int32
	stop         int32

	addressMtx         sync.Mutex
	usedOutboundGroups map[string]int64
	usedAddresses      map[string]struct{}

	cfg            Config
	defaultPort    int // parsed once from cfg.DefaultPort; 0 means unset
	wg             sync.WaitGroup
	failedAttempts uint64
	requests       chan interface{}
	quit           chan struct{}
}

// handleFailedConn handles a connection failed due to a dial error, making a
// new connection request to replace it. After maxFailedAttempts connections
// in a row have failed, further attempts are spaced out by the configured
// retry duration instead of being made back to back.
func (cm *ConnManager) handleFailedConn(c *ConnReq, err error) {
	if atomic.LoadInt32(&cm.stop) != 0 {
		return
	}

	// Don't write throttled logs more than once every throttledConnFailedLogInterval
	shouldWriteLog := shouldWriteConnFailedLog(err)
	if shouldWriteLog {
		// If we are to write a log, set its lastLogTime to now
		setConnFailedLastLogTime(err, time.Now())
	}

	if c.Addr != nil {
		cm.releaseAddress(c.Addr)
	}
	cm.failedAttempts++
	if cm.failedAttempts >= maxFailedAttempts {
		if shouldWriteLog {
			log.Debugf("Max failed connection attempts reached: [%d] "+
				"-- retrying further connections every %s", maxFailedAttempts,
				cm.cfg.RetryDuration)
		}
		spawnAfter(cm.cfg.RetryDuration, cm.NewConnReq)
	} else {
		spawn(cm.NewConnReq)
	}
}

func (cm *ConnManager) releaseAddress(addr *net.TCPAddr) {
	cm.addressMtx.Lock()
	defer cm.addressMtx.Unlock()

	groupKey := usedOutboundGroupsKey(addr)
	cm.usedOutboundGroups[groupKey]--
	if cm.usedOutboundGroups[groupKey] < 0 {
		panic(fmt.Errorf("cm.usedOutboundGroups[%s] has a negative value of %d. This should never happen", groupKey, cm.usedOutboundGroups[groupKey]))
	}
	delete(cm.usedAddresses, usedAddressesKey(addr))
}

func (cm *ConnManager) markAddressAsUsed(addr *net.TCPAddr) {
	cm.usedOutboundGroups[usedOutboundGroupsKey(addr)]++
	cm.usedAddresses[usedAddressesKey(addr)] = struct{}{}
}

func (cm *ConnManager) isOutboundGroupUsed(addr *net.TCPAddr) bool {
	_, ok := cm.usedOutboundGroups[usedOutboundGroupsKey(addr)]
	return ok
}

func (cm *ConnManager) isAddressUsed(addr *net.TCPAddr) bool {
	_, ok := cm.usedAddresses[usedAddressesKey(addr)]
	return ok
}

func usedOutboundGroupsKey(addr *net.TCPAddr) string {
	// A fake service flag is used since it doesn't affect the group key.
	na := wire.NewNetAddressIPPort(addr.IP, uint16(addr.Port), wire.SFNodeNetwork)
	return addrmgr.GroupKey(na)
}

func usedAddressesKey(addr *net.TCPAddr) string {
	return addr.String()
}

// throttledError defines an error type whose logs get throttled. This is to
// prevent flooding the logs with identical errors.
type throttledError error

var (
	// throttledConnFailedLogInterval is the minimum duration of time between
	// the logs defined in throttledConnFailedLogs.
	throttledConnFailedLogInterval = time.Minute * 10

	// throttledConnFailedLogs are logs that get written at most every
	// throttledConnFailedLogInterval. Each entry in this map defines a type
	// of error that we want to throttle. The value of each entry is the last
	// time that type of log had been written.
	throttledConnFailedLogs = map[throttledError]time.Time{
		ErrNoAddress: {},
	}

	// ErrNoAddress is an error that is thrown when there aren't any
	// valid connection addresses.
	ErrNoAddress throttledError = errors.New("no valid connect address")
)

// shouldWriteConnFailedLog resolves whether to write logs related to connection
// failures. Errors that had not been previously registered in throttledConnFailedLogs
// and non-error (nil values) must always be logged.
func shouldWriteConnFailedLog(err error) bool {
	if err == nil {
		return true
	}
	lastLogTime, ok := throttledConnFailedLogs[err]
	return !ok || lastLogTime.Add(throttledConnFailedLogInterval).Before(time.Now())
}

// setConnFailedLastLogTime sets the last log time of the specified error
func setConnFailedLastLogTime(err error, lastLogTime time.Time) {
	var throttledErr throttledError
	nativeerrors.As(err, &throttledErr)
	throttledConnFailedLogs[err] = lastLogTime
}

// connHandler handles all connection related requests. It must be run as a
// goroutine.
//
// The connection handler makes sure that we maintain a pool of active outbound
// connections so that we remain connected to the network. Connection requests
// are processed and mapped by their assigned ids.
func (cm *ConnManager) connHandler() {

	// pending holds every registered conn request that has yet to
	// succeed or fail; a peer pool has no notion of "established
	// connections" past this point since the Controller's own peer
	// registry (not the connmgr) tracks live peers for their whole
	// session.
	pending := make(map[uint64]*ConnReq)

out:
	for {
		select {
		case req := <-cm.requests:
			switch msg := req.(type) {

			case registerPending:
				connReq := msg.c
				connReq.updateState(ConnPending)
				pending[msg.c.id] = connReq
				close(msg.done)

			case handleConnected:
				connReq := msg.c

				if _, ok := pending[connReq.id]; !ok {
					if msg.conn != nil {
						msg.conn.Close()
					}
					log.Debugf("Ignoring connection for "+
						"canceled connreq=%s", connReq)
					continue
				}

				connReq.updateState(ConnEstablished)
				connReq.conn = msg.conn
				log.Debugf("Connected to %s", connReq)

				delete(pending, connReq.id)

				if cm.cfg.OnConnection != nil {
					cm.cfg.OnConnection(connReq, msg.conn)
				}

			case handleFailed:
				connReq := msg.c

				if _, ok := pending[connReq.id]; !ok {
					log.Debugf("Ignoring connection for "+
						"canceled conn req: %s", connReq)
					continue
				}

				connReq.updateState(ConnFailing)
				delete(pending, connReq.id)
				if shouldWriteConnFailedLog(msg.err) {
					log.Debugf("Failed to connect to %s: %s",
						connReq, msg.err)
				}
				cm.handleFailedConn(connReq, msg.err)

				if cm.cfg.OnConnectionFailed != nil {
					cm.cfg.OnConnectionFailed(connReq)
				}
			}

		case <-cm.quit:
			break out
		}
	}

	cm.wg.Done()
	log.Trace("Connection handler done")
}

// NotifyConnectionRequestComplete notifies the connection
// manager that a peer had been successfully connected and
// marked as good.
func (cm *ConnManager) NotifyConnectionRequestComplete() {
	cm.failedAttempts = 0
}

// NewConnReq creates a new connection request and connects to the
// corresponding address.
func (cm *ConnManager) NewConnReq() {
	if atomic.LoadInt32(&cm.stop) != 0 {
		return
	}

	c := &ConnReq{}
	atomic.StoreUint64(&c.id, atomic.AddUint64(&cm.connReqCount, 1))

	// Submit a request of a pending connection attempt to the connection
	// manager so a failure arriving before the dial completes can still
	// find this request in the pending map.
	done := make(chan struct{})
	select {
	case cm.requests <- registerPending{c, done}:
	case <-cm.quit:
		return
	}

	// Wait for the registration to successfully add the pending conn req to
	// the conn manager's internal state.
	select {
	case <-done:
	case <-cm.quit:
		return
	}
	err := cm.associateAddressToConnReq(c)
	if err != nil {
		select {
		case cm.requests <- handleFailed{c, err}:
		case <-cm.quit:
		}
		return
	}

	cm.connect(c)
}

func (cm *ConnManager) associateAddressToConnReq(c *ConnReq) error {
	cm.addressMtx.Lock()
	defer cm.addressMtx.Unlock()

	addr, err := cm.getNewAddress()
	if err != nil {
		return err
	}

	cm.markAddressAsUsed(addr)
	c.Addr = addr
	return nil
}

// Connect assigns an id and dials a connection to the address of the
// connection request.
func (cm *ConnManager) Connect(c *ConnReq) error {
	err := func() error {
		cm.addressMtx.Lock()
		defer cm.addressMtx.Unlock()

		if cm.isAddressUsed(c.Addr) {
			return fmt.Errorf("address %s is already in use", c.Addr)
		}
		cm.markAddressAsUsed(c.Addr)
		return nil
	}()
	if err != nil {
		return err
	}

	cm.connect(c)
	return nil
}

// connect assigns an id and dials a connection to the address of the
// connection request. This function assumes that the connection address
// has checked and already marked as used.
func (cm *ConnManager) connect(c *ConnReq) {
	if atomic.LoadInt32(&cm.stop) != 0 {
		return
	}

	if atomic.LoadUint64(&c.id) == 0 {
		atomic.StoreUint64(&c.id, atomic.AddUint64(&cm.connReqCount, 1))

		// Submit a request of a pending connection attempt to the
		// connection manager, as NewConnReq does, so a dial failure
		// can still find this request in the pending map.
		done := make(chan struct{})
		select {
		case cm.requests <- registerPending{c, done}:
		case <-cm.quit:
			return
		}

		// Wait for the registration to successfully add the pending
		// conn req to the conn manager's internal state.
		select {
		case <-done:
		case <-cm.quit:
			return
		}
	}

	log.Debugf("Attempting to connect to %s", c)

	conn, err := cm.cfg.Dial(c.Addr)
	if err != nil {
		select {
		case cm.requests <- handleFailed{c, err}:
		case <-cm.quit:
		}
		return
	}

	select {
	case cm.requests <- handleConnected{c, conn}:
	case <-cm.quit:
	}
}

// listenHandler accepts incoming connections on a given listener. It must be
// run as a goroutine.
func (cm *ConnManager) listenHandler(listener net.Listener) {
	log.Infof("Server listening on %s", listener.Addr())
	for atomic.LoadInt32(&cm.stop) == 0 {
		conn, err := listener.Accept()
		if err != nil {
			// Only log the error if not forcibly shutting down.
			if atomic.LoadInt32(&cm.stop) == 0 {
				log.Errorf("Can't accept connection: %s", err)
			}
			continue
		}
		spawn(func() {
			cm.cfg.OnAccept(conn)
		})
	}

	cm.wg.Done()
	log.Tracef("Listener handler done for %s", listener.Addr())
}

// Start launches the connection manager and begins connecting to the network.
func (cm *ConnManager) Start() {
	// Already started?
	if atomic.AddInt32(&cm.start, 1) != 1 {
		return
	}

	log.Trace("Connection manager started")
	cm.wg.Add(1)
	spawn(cm.connHandler)

	// Start all the listeners so long as the caller requested them and
	// provided a callback to be invoked when connections are accepted.
	if cm.cfg.OnAccept != nil {
		for _, listener := range cm.cfg.Listeners {
			// Declaring this variable is necessary as it needs be declared in the same
			// scope of the anonymous function below it.
			listenerCopy := listener
			cm.wg.Add(1)
			spawn(func() {
				cm.listenHandler(listenerCopy)
			})
		}
	}

	for i := atomic.LoadUint64(&cm.connReqCount); i < uint64(cm.cfg.TargetOutbound); i++ {
		spawn(cm.NewConnReq)
	}
}

// Wait blocks until the connection manager halts gracefully.
func (cm *ConnManager) Wait() {
	cm.wg.Wait()
}

// Stop gracefully shuts down the connection manager.
func (cm *ConnManager) Stop() {
	if atomic.AddInt32(&cm.stop, 1) != 1 {
		log.Warnf("Connection manager already stopped")
		return
	}

	// Stop all the listeners. There will not be any listeners if
	// listening is disabled.
	for _, listener := range cm.cfg.Listeners {
		// Ignore the error since this is shutdown and there is no way
		// to recover anyways.
		_ = listener.Close()
	}

	close(cm.quit)
	log.Trace("Connection manager stopped")
}

func (cm *ConnManager) getNewAddress() (*net.TCPAddr, error) {
	for tries := 0; tries < 100; tries++ {
		addr := cm.cfg.AddrManager.GetAddress()
		if addr == nil {
			break
		}

		// Check if there's already a connection to the same address.
		netAddr := addr.NetAddress().TCPAddr()
		if cm.isAddressUsed(netAddr) {
			continue
		}

		// Check that we don't already have an address
		// in the same group so that we are not connecting
		// to the same network segment at the expense of
		// others.
		//
		// Networks that accept unroutable connections are exempt
		// from this rule, since they're meant to run within a
		// private subnet, like 10.0.0.0/16.
		if !cm.cfg.AcceptUnroutable && cm.isOutboundGroupUsed(netAddr) {
			continue
		}

		// only allow recent nodes (10mins) after we failed 30
		// times
		if tries < 30 && time.Since(addr.LastAttempt()) < 10*time.Minute {
			continue
		}

		// allow nondefault ports after 50 failed tries.
		if tries < 50 && cm.defaultPort != 0 && netAddr.Port != cm.defaultPort {
			continue
		}

		return netAddr, nil
	}
	return nil, ErrNoAddress
}

// New returns a new connection manager.
// Use Start to start connecting to the network.
func New(cfg *Config) (*ConnManager, error) {
	if cfg.Dial == nil {
		return nil, errors.WithStack(ErrDialNil)
	}
	if cfg.AddrManager == nil {
		return nil, errors.WithStack(ErrAddressManagerNil)
	}
	// Default to sane values
	if cfg.RetryDuration <= 0 {
		cfg.RetryDuration = defaultRetryDuration
	}

	var defaultPort int
	if cfg.DefaultPort != "" {
		var err error
		defaultPort, err = strconv.Atoi(cfg.DefaultPort)
		if err != nil {
			return nil, errors.WithStack(ErrInvalidDefaultPort)
		}
	}

	cm := ConnManager{
		cfg:                *cfg, // Copy so caller can't mutate
		defaultPort:        defaultPort,
		requests:           make(chan interface{}),
		quit:               make(chan struct{}),
		usedAddresses:      make(map[string]struct{}),
		usedOutboundGroups: make(map[string]int64),
	}
	return &cm, nil
}
