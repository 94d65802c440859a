package node

import (
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/btcnode/btcnode/addrmgr"
	"github.com/btcnode/btcnode/blockdownload"
	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/config"
	"github.com/btcnode/btcnode/connmgr"
	"github.com/btcnode/btcnode/events"
	"github.com/btcnode/btcnode/headersync"
	"github.com/btcnode/btcnode/mempool"
	"github.com/btcnode/btcnode/peer"
	"github.com/btcnode/btcnode/utxo"
	"github.com/btcnode/btcnode/wire"
)

// Resolver turns a DNS seed hostname into a set of candidate peer
// addresses. DNS resolution itself is explicitly out of scope (spec §1
// non-goals); the controller only consumes whatever the caller supplies
// here, per spec §9's "external collaborators" design note.
type Resolver func(hostname string) ([]net.IP, error)

// Controller is the top-level orchestrator of spec §4.J: it owns the
// peer pool, the header chain, the UTXO set, the mempool, and the Event
// Bus, and drives the Starting -> HeaderSync -> BlockSync -> Live state
// machine.
type Controller struct {
	cfg      *config.Config
	resolver Resolver

	state int32 // State, accessed atomically

	bus *events.Bus

	registry    *registry
	addrManager *addrmgr.AddrManager
	connManager *connmgr.ConnManager

	chain      *headersync.Chain
	utxoSet    *utxo.Set
	store      *utxo.Store
	pool       *mempool.Pool
	downloader *blockdownload.Downloader

	blocksMu sync.RWMutex
	blocks   map[chainhash.Hash]*wire.MsgBlock

	pinnedPeerID int32 // 0 means unpinned

	headerBatch chan *wire.MsgHeaders

	quit chan struct{}
	wg   sync.WaitGroup

	started int32
	stopped int32
}

// New builds a Controller from cfg. It replays any persisted header
// chain (spec §6 read_headers_from_disk), opens the UTXO snapshot store,
// and wires the addrmgr/connmgr peer pool. It does not start networking;
// call Start for that.
func New(cfg *config.Config, resolver Resolver) (*Controller, error) {
	genesis := GenesisHeader(cfg.Params.Name == MainNetName)
	chain := headersync.New(genesis, PowLimit())

	if cfg.ReadHeadersFromDisk {
		headers, err := headersync.Replay(cfg.HeadersFilePath)
		if err != nil {
			return nil, NewError(ErrPersistence, err)
		}
		if len(headers) > 0 {
			if err := chain.AppendBatch(headers); err != nil {
				return nil, NewError(ErrPersistence, errors.Wrap(err, "replaying persisted headers"))
			}
		}
	}

	store, err := utxo.OpenStore(filepath.Join(cfg.DataDir, "utxo"))
	if err != nil {
		return nil, NewError(ErrPersistence, err)
	}
	utxoSet := utxo.New()
	if err := store.Load(utxoSet); err != nil {
		return nil, NewError(ErrPersistence, err)
	}

	addrManager := addrmgr.New()
	for _, ip := range cfg.CustomNodeAddrs {
		_ = addrManager.AddAddressByIP(net.JoinHostPort(ip, cfg.NetPort))
	}

	c := &Controller{
		cfg:         cfg,
		resolver:    resolver,
		bus:         events.NewBus(),
		registry:    newRegistry(),
		addrManager: addrManager,
		chain:       chain,
		utxoSet:     utxoSet,
		store:       store,
		pool:        mempool.New(),
		blocks:      make(map[chainhash.Hash]*wire.MsgBlock),
		headerBatch: make(chan *wire.MsgHeaders, 8),
		quit:        make(chan struct{}),
	}
	atomic.StoreInt32(&c.state, int32(StateStarting))

	connCfg := &connmgr.Config{
		TargetOutbound: uint32(cfg.NumberOfNodes),
		RetryDuration:  time.Duration(cfg.ConnectTimeout) * time.Second,
		AddrManager:    addrManager,
		DefaultPort:    cfg.NetPort,
		Dial: func(addr net.Addr) (net.Conn, error) {
			return net.DialTimeout("tcp", addr.String(), time.Duration(cfg.ConnectTimeout)*time.Second)
		},
		OnConnection: c.onOutboundConnection,
	}

	if cfg.MaxConnections > 0 {
		ln, err := net.Listen("tcp", ":"+cfg.NetPort)
		if err == nil {
			connCfg.Listeners = []net.Listener{ln}
			connCfg.OnAccept = c.onAccept
		} else {
			log.Warnf("not listening for inbound connections: %s", err)
		}
	}

	connManager, err := connmgr.New(connCfg)
	if err != nil {
		return nil, NewError(ErrConfig, err)
	}
	c.connManager = connManager

	return c, nil
}

// MainNetName names the mainnet Params, used to disambiguate genesis.
const MainNetName = "mainnet"

// Bus returns the controller's Event Bus, the asynchronous collaborator
// surface of spec §4.I.
func (c *Controller) Bus() *events.Bus { return c.bus }

// State returns the controller's current top-level state.
func (c *Controller) State() State { return State(atomic.LoadInt32(&c.state)) }

func (c *Controller) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Block returns a previously-downloaded full block by hash, implementing
// wallet.BlockSource.
func (c *Controller) Block(hash chainhash.Hash) (*wire.MsgBlock, bool) {
	c.blocksMu.RLock()
	defer c.blocksMu.RUnlock()
	b, ok := c.blocks[hash]
	return b, ok
}

// ScanForScripts implements wallet.UTXOSource.
func (c *Controller) ScanForScripts(scripts [][]byte) []utxo.ScriptMatch {
	return c.utxoSet.ScanForScripts(scripts)
}

// BroadcastTx implements wallet.Broadcaster: it validates the
// transaction shallowly against the mempool, then relays it to every
// Ready peer as an inv (spec §4.H "Insert" plus peer relay).
func (c *Controller) BroadcastTx(tx *wire.MsgTx) error {
	if err := c.pool.Insert(tx, c.utxoSet); err != nil {
		return NewError(ErrValidation, err)
	}

	inv := wire.NewMsgInv()
	hash := tx.TxHash()
	_ = inv.AddInvVect(wire.NewInvVect(wire.InvTypeTx, &hash))
	for _, p := range c.registry.all() {
		if p.State() == "Ready" {
			p.QueueMessage(inv, nil)
		}
	}
	return nil
}

// Start begins peer discovery and networking, then drives header sync,
// block sync, and finally the Live steady state (spec §4.J).
func (c *Controller) Start() error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return nil
	}

	if c.cfg.ConnectToDNSNodes && c.resolver != nil {
		ips, err := c.resolver(c.cfg.DNSSeed)
		if err != nil {
			log.Warnf("DNS seed resolution failed: %s", err)
		}
		for _, ip := range ips {
			addr := wire.NewNetAddressIPPort(ip, defaultPortOf(c.cfg.NetPort), wire.SFNodeNetwork)
			c.addrManager.AddAddress(addr, addr)
		}
	}

	c.connManager.Start()

	c.wg.Add(1)
	go c.run()

	return nil
}

// Stop gracefully shuts the controller down: spec §4.J ShuttingDown
// drains in-flight work, persists the header chain, and snapshots the
// UTXO set before returning.
func (c *Controller) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.stopped, 0, 1) {
		return nil
	}

	c.setState(StateShuttingDown)
	close(c.quit)
	c.wg.Wait()

	c.connManager.Stop()
	c.connManager.Wait()

	if err := headersync.Persist(c.cfg.HeadersFilePath, c.chain.Headers(int(c.chain.Height())+1)); err != nil {
		log.Warnf("persisting headers: %s", err)
	}
	if err := c.store.Save(c.utxoSet); err != nil {
		log.Warnf("saving utxo snapshot: %s", err)
	}
	return c.store.Close()
}

func defaultPortOf(portStr string) uint16 {
	p, err := net.LookupPort("tcp", portStr)
	if err != nil {
		return 18333
	}
	return uint16(p)
}

func (c *Controller) peerConfig() *peer.Config {
	return &peer.Config{
		NetMagic:         c.cfg.Params.StartString,
		LastBlockHeight:  func() int32 { return c.chain.Height() },
		AddBanScore:      func(persistent, transient uint32, reason string) {},
		UserAgentName:    c.cfg.UserAgent,
		UserAgentVersion: "",
		Services:         wire.SFNodeNetwork,
		ProtocolVersion:  c.cfg.Params.ProtocolVersion,
		Listeners: peer.MessageListeners{
			OnHeaders:     c.onHeaders,
			OnBlock:       c.onBlock,
			OnInv:         c.onInv,
			OnTx:          c.onTx,
			OnGetHeaders:  c.onGetHeaders,
			OnGetData:     c.onGetData,
			OnSendHeaders: c.onSendHeaders,
		},
	}
}

func (c *Controller) onOutboundConnection(req *connmgr.ConnReq, conn net.Conn) {
	p, err := peer.NewOutboundPeer(c.peerConfig(), req.Addr.String())
	if err != nil {
		log.Warnf("failed to construct outbound peer for %s: %s", req.Addr, err)
		return
	}
	if err := p.AssociateConnection(conn); err != nil {
		log.Warnf("failed to associate connection with %s: %s", req.Addr, err)
		return
	}
	c.registry.add(p)
	go c.removeOnDisconnect(p)
}

func (c *Controller) onAccept(conn net.Conn) {
	p := peer.NewInboundPeer(c.peerConfig())
	if err := p.AssociateConnection(conn); err != nil {
		log.Warnf("failed to associate inbound connection: %s", err)
		return
	}
	c.registry.add(p)
	go c.removeOnDisconnect(p)
}

// removeOnDisconnect waits for p's session to end, then drops it from
// the registry so it is no longer considered for work assignment or
// relay (spec §4.C "the pool's membership").
func (c *Controller) removeOnDisconnect(p *peer.Peer) {
	p.WaitForDisconnect()
	c.registry.remove(p.ID())
}
