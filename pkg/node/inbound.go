package node

import (
	"go.uber.org/zap"

	"twlv/pkg/handshake"
	"twlv/pkg/protocol"
)

// readLoop pumps one link until its conn dies.
func (n *Node) readLoop(l *link) {
	defer n.dropLink(l)
	for {
		frame, err := l.conn.Recv()
		if err != nil {
			zap.L().Debug("link closed",
				zap.String("peer", l.peerAddr()), zap.Error(err))
			return
		}
		n.handleFrame(l, frame)
	}
}

// handleFrame runs the inbound chain: decode, dedup, verify, deliver, relay.
func (n *Node) handleFrame(l *link, frame []byte) {
	n.mFramesIn.Add(1)

	msg, err := protocol.Decode(frame)
	if err != nil {
		n.mDropped.Add(1)
		zap.L().Warn("drop undecodable frame",
			zap.Int("len", len(frame)), zap.Error(err))
		return
	}
	if n.seen.Observe(frame) {
		n.mDropped.Add(1)
		zap.L().Debug("drop duplicate frame",
			zap.String("from", msg.From), zap.String("command", msg.Command))
		return
	}
	if msg.Command != handshake.Command && !n.verifyInbound(msg) {
		n.mDropped.Add(1)
		return
	}

	// Capture routing fields before the handler can touch the message.
	to, ttl := msg.To, msg.TTL
	local := to == n.id.Address()

	relayable := true
	switch {
	case msg.Command == handshake.Command:
		relayable = n.handleAnnounce(l, msg)
	case local || to == "":
		n.deliver(msg, local)
	}

	if !local && relayable {
		n.relay(l, to, ttl, frame)
	}
}

// verifyInbound checks the envelope signature of signed frames when the
// sender's keys are known. Unknown senders pass through; endpoints needing
// authentication check again once the sender has announced.
func (n *Node) verifyInbound(msg *protocol.Message) bool {
	if !msg.Mode.Has(protocol.ModeSigned) {
		return true
	}
	p, ok := n.resolvePeer(msg.From)
	if !ok {
		return true
	}
	if err := msg.Verify(p.Identity()); err != nil {
		zap.L().Warn("drop frame with bad signature",
			zap.String("from", msg.From), zap.Error(err))
		return false
	}
	return true
}

// deliver decrypts frames addressed to this node and hands the message to
// the registered handler.
func (n *Node) deliver(msg *protocol.Message, local bool) {
	if local && msg.Mode.Has(protocol.ModeEncrypted) {
		if err := msg.Decrypt(n.id); err != nil {
			n.mDropped.Add(1)
			zap.L().Warn("drop undecryptable frame",
				zap.String("from", msg.From), zap.Error(err))
			return
		}
	}
	n.mu.RLock()
	fn := n.handlers[msg.Command]
	n.mu.RUnlock()
	if fn == nil {
		n.mDropped.Add(1)
		zap.L().Debug("no handler", zap.String("command", msg.Command))
		return
	}
	n.mDelivered.Add(1)
	fn(msg.From, msg)
}

// handleAnnounce verifies an announce body, refreshes the peer table and the
// directory, and binds the link to the sender on first contact. It reports
// whether the announce should flood onward.
func (n *Node) handleAnnounce(l *link, msg *protocol.Message) bool {
	var a handshake.Announce
	if err := n.body.Unmarshal(msg.Payload, &a); err != nil {
		n.mDropped.Add(1)
		zap.L().Warn("drop malformed announce",
			zap.String("from", msg.From), zap.Error(err))
		return false
	}
	if a.Info.Address == n.id.Address() {
		// Own announce echoed back through the mesh.
		return false
	}
	if a.Info.NetworkID != n.cfg.NetworkID {
		n.mDropped.Add(1)
		zap.L().Debug("drop announce from foreign network",
			zap.String("network", a.Info.NetworkID),
			zap.String("peer", a.Info.Address))
		return false
	}
	p, err := handshake.Verify(a, n.cfg.Net.AnnounceMaxSkew())
	if err != nil {
		n.mDropped.Add(1)
		zap.L().Warn("drop rejected announce",
			zap.String("from", msg.From), zap.Error(err))
		return false
	}
	if _, err := n.peers.Upsert(a.Info); err != nil {
		n.mDropped.Add(1)
		zap.L().Warn("peer upsert failed",
			zap.String("peer", a.Info.Address), zap.Error(err))
		return false
	}
	if _, err := n.dir.Put(a); err != nil {
		zap.L().Warn("directory put failed",
			zap.String("peer", a.Info.Address), zap.Error(err))
	}

	// The first verified announce arriving over a link authenticates its
	// far end; relayed announces from other origins must not rebind it.
	if msg.From == p.Address && l != nil && l.peerAddr() == "" {
		n.bindLink(l, p.Address)
		zap.L().Info("link bound",
			zap.String("peer", p.Address),
			zap.Strings("urls", p.URLs))
	}
	return true
}

// relay forwards a frame onward. The hop budget gates at zero and is
// decremented in a copy; the rest of the frame travels byte for byte, so
// payload signatures stay intact. Broadcasts flood every link but the
// origin; directed frames follow the open link to their target or drop.
func (n *Node) relay(origin *link, to string, ttl uint8, frame []byte) {
	if ttl == 0 {
		n.mDropped.Add(1)
		zap.L().Debug("drop frame with exhausted hop budget", zap.String("to", to))
		return
	}
	if n.shaper != nil {
		if ok, wait := n.shaper.allow(int64(len(frame))); !ok {
			n.mDropped.Add(1)
			zap.L().Debug("relay shaped",
				zap.Int("bytes", len(frame)), zap.Duration("retry_in", wait))
			return
		}
	}

	out := append([]byte(nil), frame...)
	out[1] = ttl - 1

	if to != "" {
		l := n.linkFor(to)
		if l == nil {
			n.mDropped.Add(1)
			zap.L().Debug("no route", zap.String("to", to))
			return
		}
		if err := l.conn.Send(out); err != nil {
			n.mDropped.Add(1)
			zap.L().Debug("relay send failed", zap.String("to", to), zap.Error(err))
			return
		}
		n.mRelayed.Add(1)
		return
	}

	sent := 0
	for _, l := range n.openLinks() {
		if l == origin {
			continue
		}
		if err := l.conn.Send(out); err != nil {
			zap.L().Debug("relay send failed",
				zap.String("peer", l.peerAddr()), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		n.mRelayed.Add(1)
	}
}
