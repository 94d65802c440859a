package node

import (
	"github.com/btcnode/btcnode/events"
	"github.com/btcnode/btcnode/peer"
	"github.com/btcnode/btcnode/validate"
	"github.com/btcnode/btcnode/wire"
)

// onHeaders feeds a headers reply to the header-sync driving loop (spec
// §4.D). Validation and persistence happen there, serialized with the
// rest of sync state; the listener only hands the batch off.
func (c *Controller) onHeaders(p *peer.Peer, msg *wire.MsgHeaders) {
	select {
	case c.headerBatch <- msg:
	case <-c.quit:
	}
}

// onBlock feeds an arrived block to the Block Downloader during
// BlockSync, or validates and applies it directly once Live (spec §4.E,
// §4.F).
func (c *Controller) onBlock(p *peer.Peer, msg *wire.MsgBlock, buf []byte) {
	switch c.State() {
	case StateBlockSync:
		if c.downloader == nil {
			return
		}
		if err := c.downloader.ReceiveBlock(msg); err != nil {
			log.Debugf("unsolicited block from %s: %s", p, err)
			return
		}
		c.drainBlocks()
	case StateLive:
		hash := msg.BlockHash()
		_, tipHash := c.chain.Tip()
		if hash != tipHash {
			// A live-mode block that does not extend the current tip is a
			// reorg, which this node declines to handle (spec §9 open
			// question (a)).
			c.bus.Publish(events.Error(ErrUnsupported.String(), UnsupportedReorg(1).Error()))
			return
		}
		if err := c.applyBlock(c.chain.Height(), msg); err != nil {
			log.Warnf("rejecting block %s: %s", hash, err)
			c.bus.Publish(events.Error(ErrValidation.String(), err.Error()))
		}
	}
}

// applyBlock runs the full block-acceptance pipeline of spec §4.F:
// header rules already hold (the block extends a header already in the
// chain), so only the body rules (coinbase shape, transaction inputs)
// and the UTXO/mempool side effects remain.
func (c *Controller) applyBlock(height int32, block *wire.MsgBlock) error {
	if err := validate.CheckCoinbase(block.Transactions); err != nil {
		return err
	}
	for _, tx := range block.Transactions[1:] {
		if err := validate.CheckTransactionInputs(tx, c.utxoSet); err != nil {
			return err
		}
	}
	if err := c.utxoSet.Apply(block, height); err != nil {
		return err
	}

	c.pool.ApplyBlock(block)

	c.blocksMu.Lock()
	c.blocks[block.BlockHash()] = block
	c.blocksMu.Unlock()

	hash := block.BlockHash()
	c.bus.Publish(events.BlockDownloaded(height, hash))
	for _, tx := range block.Transactions[1:] {
		c.bus.Publish(events.ConfirmedTx(tx.TxHash(), hash))
	}
	return nil
}

// onInv records known inventory and requests every announced transaction
// and every announced block this node has not yet stored in full (spec
// §4.B "Inbound inv entries are recorded").
func (c *Controller) onInv(p *peer.Peer, msg *wire.MsgInv) {
	getData := wire.NewMsgGetData()
	for _, iv := range msg.InvList {
		p.AddKnownInventory(iv)
		if iv.Type != wire.InvTypeBlock && iv.Type != wire.InvTypeTx {
			continue
		}
		if iv.Type == wire.InvTypeBlock {
			if _, ok := c.Block(iv.Hash); ok {
				continue
			}
		}
		_ = getData.AddInvVect(iv)
	}
	if len(getData.InvList) > 0 {
		p.QueueMessage(getData, nil)
	}
}

// onGetData serves any requested block this node holds in full; every
// other requested entry is answered in a single notfound reply.
func (c *Controller) onGetData(p *peer.Peer, msg *wire.MsgGetData) {
	notFound := wire.NewMsgNotFound()
	for _, iv := range msg.InvList {
		if iv.Type != wire.InvTypeBlock {
			_ = notFound.AddInvVect(iv)
			continue
		}
		block, ok := c.Block(iv.Hash)
		if !ok {
			_ = notFound.AddInvVect(iv)
			continue
		}
		p.QueueMessage(block, nil)
	}
	if len(notFound.InvList) > 0 {
		p.QueueMessage(notFound, nil)
	}
}

// onGetHeaders replies with up to 2000 headers following the first
// locator hash this node recognizes (spec §4.D "headers reply").
func (c *Controller) onGetHeaders(p *peer.Peer, msg *wire.MsgGetHeaders) {
	start := int32(0)
	for _, h := range msg.BlockLocatorHashes {
		if height, ok := c.chain.HeightOf(*h); ok {
			start = height + 1
			break
		}
	}

	reply := wire.NewMsgHeaders()
	for height := start; height <= c.chain.Height() && len(reply.Headers) < 2000; height++ {
		hdr, ok := c.chain.HeaderAt(height)
		if !ok {
			break
		}
		reply.Headers = append(reply.Headers, hdr)
	}
	p.QueueMessage(reply, nil)
}

// onTx validates an announced transaction shallowly and, if accepted,
// admits it to the mempool and republishes it as a PendingTx event (spec
// §4.H "Insert").
func (c *Controller) onTx(p *peer.Peer, msg *wire.MsgTx) {
	if err := c.pool.Insert(msg, c.utxoSet); err != nil {
		return
	}
	scripts := make([][]byte, len(msg.TxOut))
	for i, out := range msg.TxOut {
		scripts[i] = out.PkScript
	}
	c.bus.Publish(events.PendingTx(msg.TxHash(), scripts))
}

func (c *Controller) onSendHeaders(p *peer.Peer, msg *wire.MsgSendHeaders) {
	// This node never mines or relays unsolicited header announcements;
	// the request is acknowledged by simply not erroring.
}
