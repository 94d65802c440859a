package node

import (
	"time"

	"github.com/btcnode/btcnode/blockdownload"
	"github.com/btcnode/btcnode/chainhash"
	"github.com/btcnode/btcnode/events"
	"github.com/btcnode/btcnode/headersync"
	"github.com/btcnode/btcnode/infrastructure/logger"
	"github.com/btcnode/btcnode/wire"
)

const (
	peerSelectInterval  = 200 * time.Millisecond
	headerRequestRetry  = 10 * time.Second
	stalledPeerTimeout  = 60 * time.Second
	getHeadersBatchFull = 2000
)

// run drives the controller through its state machine (spec §4.J):
// header sync, then block sync, then the Live steady state that applies
// single blocks and transactions as they arrive.
func (c *Controller) run() {
	defer c.wg.Done()

	c.setState(StateHeaderSync)
	headerSyncDone := logger.LogAndMeasureExecutionTime(log, "header sync")
	ok := c.runHeaderSync()
	headerSyncDone()
	if !ok {
		return
	}

	c.setState(StateBlockSync)
	blockSyncDone := logger.LogAndMeasureExecutionTime(log, "block sync")
	ok = c.runBlockSync()
	blockSyncDone()
	if !ok {
		return
	}

	c.setState(StateLive)
	<-c.quit
}

// syncPeer blocks until a Ready peer is available, preferring the
// pinned peer once download_full_blockchain_from_single_node has chosen
// one (spec §4.C, §6 download_full_blockchain_from_single_node).
func (c *Controller) syncPeer() (id int32, ok bool) {
	if c.pinnedPeerID != 0 {
		if _, found := c.registry.get(c.pinnedPeerID); found {
			return c.pinnedPeerID, true
		}
		c.pinnedPeerID = 0
	}

	p, found := c.registry.nextReady(0)
	if !found {
		return 0, false
	}
	if c.cfg.DownloadFullBlockchainFromSingleNode {
		c.pinnedPeerID = p.ID()
	}
	return p.ID(), true
}

// runHeaderSync repeatedly requests headers from a Ready peer and
// appends them to the chain until a short (non-full) batch arrives,
// signaling the tip has been reached (spec §4.D). It returns false if
// the controller was asked to shut down first.
func (c *Controller) runHeaderSync() bool {
	retry := time.NewTicker(headerRequestRetry)
	defer retry.Stop()

	c.requestHeaders()

	for {
		select {
		case <-c.quit:
			return false

		case batch := <-c.headerBatch:
			if err := c.chain.AppendBatch(batch.Headers); err != nil {
				log.Warnf("rejecting header batch: %s", err)
				c.requestHeaders()
				continue
			}
			c.bus.Publish(events.HeaderSyncProgress(c.chain.Height()))

			if len(batch.Headers) < getHeadersBatchFull {
				if err := c.persistHeaders(); err != nil {
					log.Warnf("persisting headers: %s", err)
				}
				return true
			}
			c.requestHeaders()

		case <-retry.C:
			c.requestHeaders()
		}
	}
}

func (c *Controller) persistHeaders() error {
	n := int(c.cfg.AmountOfHeadersToStoreInDisk)
	if n <= 0 {
		n = int(c.chain.Height()) + 1
	}
	return headersync.Persist(c.cfg.HeadersFilePath, c.chain.Headers(n))
}

func (c *Controller) requestHeaders() {
	id, ok := c.syncPeer()
	if !ok {
		return
	}
	p, ok := c.registry.get(id)
	if !ok {
		return
	}

	getHeaders := wire.NewMsgGetHeaders()
	for _, hash := range c.chain.BuildLocator() {
		_ = getHeaders.AddBlockLocatorHash(hash)
	}
	p.QueueMessage(getHeaders, nil)
}

// runBlockSync locates the first height to download (spec §6
// height_first_block_to_download overriding date_first_block_to_download),
// builds the Block Downloader over the known header range, and assigns
// shards to Ready peers until every block in range has been applied.
func (c *Controller) runBlockSync() bool {
	firstHeight := c.resolveFirstBlockHeight()
	tipHeight := c.chain.Height()

	if firstHeight > tipHeight {
		return true
	}

	hashes := make([]chainhash.Hash, 0, tipHeight-firstHeight+1)
	for h := firstHeight; h <= tipHeight; h++ {
		hdr, ok := c.chain.HeaderAt(h)
		if !ok {
			break
		}
		hashes = append(hashes, hdr.BlockHash())
	}

	c.downloader = blockdownload.New(firstHeight, tipHeight, int(c.cfg.BlocksDownloadPerNode), hashes)

	ticker := time.NewTicker(peerSelectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return false
		case <-ticker.C:
			c.assignShards()
			c.reapStalled()
			if c.downloader.Done() {
				return true
			}
		}
	}
}

func (c *Controller) resolveFirstBlockHeight() int32 {
	if c.cfg.HeightFirstBlockToDownload >= 0 {
		return int32(c.cfg.HeightFirstBlockToDownload)
	}
	if !c.cfg.DateFirstBlockToDownload.IsZero() {
		if height, ok := c.chain.HeightOfFirstAtOrAfter(c.cfg.DateFirstBlockToDownload.Unix()); ok {
			return height
		}
	}
	return 0
}

// assignShards hands every unclaimed shard to a Ready peer under its
// outstanding-work cap, until either runs out (spec §4.C, §4.E "Work
// assignment").
func (c *Controller) assignShards() {
	outstandingCap := int(c.cfg.BlocksDownloadPerNode)
	for {
		p, ok := c.registry.nextReady(outstandingCap)
		if !ok {
			return
		}
		hashes, err := c.downloader.NextShard(p.ID())
		if err != nil {
			return
		}

		getData := wire.NewMsgGetData()
		for i := range hashes {
			_ = getData.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &hashes[i]))
		}
		p.SetWorkAssigned(hashes[0].String())
		p.QueueMessage(getData, nil)
	}
}

// reapStalled disconnects any peer whose shard has sat in flight past
// the idle timeout and returns its missing hashes to the unclaimed queue
// (spec §5 "Each block request has an idle timeout").
func (c *Controller) reapStalled() {
	for _, peerID := range c.downloader.StalledAssignments(stalledPeerTimeout) {
		c.downloader.Requeue(peerID)
		if p, ok := c.registry.get(peerID); ok {
			p.SetWorkAssigned("")
			p.Disconnect()
		}
	}
}

// drainBlocks applies every block now ready in ascending height order
// (spec §4.E "Ordering"), via applyBlock's validation and UTXO/mempool
// side effects.
func (c *Controller) drainBlocks() {
	if _, err := c.downloader.Drain(c.applyBlock); err != nil {
		log.Warnf("block application failed: %s", err)
	}
}
