// Package node runs one overlay participant: it owns the local identity, the
// configured transports, the runtime peer table, the persistent directory and
// the relay machinery, and moves envelopes between all of them.
//
// Life cycle: New builds the stores and seeds the peer table from the
// directory, Start opens listeners and dial loops, Close tears everything
// down. Inbound frames are decoded, deduplicated, verified, delivered to
// command handlers when addressed here, and relayed onward while their hop
// budget lasts.
package node

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"twlv/pkg/config"
	"twlv/pkg/directory"
	"twlv/pkg/handshake"
	"twlv/pkg/identity"
	"twlv/pkg/memkv"
	"twlv/pkg/peer"
	"twlv/pkg/peers"
	"twlv/pkg/protocol"
	"twlv/pkg/protocol/codec"
	"twlv/pkg/transport"
	"twlv/pkg/transports"
)

var (
	ErrClosed             = errors.New("node: closed")
	ErrUnknownPeer        = errors.New("node: unknown peer")
	ErrNoEligibleURL      = errors.New("node: no eligible url for peer")
	ErrEncryptedBroadcast = errors.New("node: cannot encrypt a broadcast")
)

// Handler consumes a delivered envelope. Messages addressed to this node
// arrive decrypted; the handler owns msg afterwards.
type Handler func(from string, msg *protocol.Message)

// link is one open conn. It is bound to a peer address once the peer's own
// announce verifies on it.
type link struct {
	conn transport.Conn

	mu   sync.Mutex
	addr string
}

func (l *link) peerAddr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

func (l *link) bind(addr string) {
	l.mu.Lock()
	l.addr = addr
	l.mu.Unlock()
}

// Node is the overlay engine.
type Node struct {
	cfg *config.Config
	id  *identity.Identity

	reg    *transport.Registry
	kv     *memkv.Store
	peers  *peers.Store
	dir    *directory.Store
	body   codec.Codec
	seen   *seenCache
	shaper *tokenBucket

	mu        sync.RWMutex
	closed    bool
	links     map[*link]struct{}
	byAddr    map[string]*link
	handlers  map[string]Handler
	listeners []transport.Listener
	urls      []string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mFramesIn  atomic.Uint64
	mDelivered atomic.Uint64
	mRelayed   atomic.Uint64
	mDropped   atomic.Uint64
}

// New wires a node from its configuration: transports registry, in-memory KV
// backing the peer table and the dedup cache, and the persistent directory,
// whose surviving announces seed the peer table.
func New(cfg *config.Config, id *identity.Identity) (*Node, error) {
	body, err := codec.CBOR()
	if err != nil {
		return nil, err
	}
	kv := memkv.New(memkv.Options{})
	dir, err := directory.Open(cfg.Directory.Path)
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("node: open directory: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		id:       id,
		reg:      transports.NewRegistry(),
		kv:       kv,
		peers:    peers.NewStore(kv, cfg.Peers.TTL()),
		dir:      dir,
		body:     body,
		seen:     newSeenCache(kv, cfg.Net.DedupTTL()),
		links:    make(map[*link]struct{}),
		byAddr:   make(map[string]*link),
		handlers: make(map[string]Handler),
	}
	if cfg.Net.RelayRateBytes > 0 {
		n.shaper = newTokenBucket(int64(cfg.Net.RelayRateBytes), int64(cfg.Net.RelayBurstBytes))
	}

	seeded := 0
	for _, a := range dir.All() {
		if a.Info.NetworkID != cfg.NetworkID {
			continue
		}
		if _, err := n.peers.Upsert(a.Info); err == nil {
			seeded++
		}
	}
	if seeded > 0 {
		zap.L().Info("peer table seeded from directory", zap.Int("peers", seeded))
	}
	return n, nil
}

// Start opens the configured listeners and dial loops. Every transport named
// in the config becomes available for outbound dialing, whether or not it
// listens.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	if n.cancel != nil {
		n.mu.Unlock()
		return errors.New("node: already started")
	}
	nctx, cancel := context.WithCancel(ctx)
	n.ctx, n.cancel = nctx, cancel
	n.mu.Unlock()

	for _, tc := range n.cfg.Transports {
		tr, err := n.reg.Get(tc.Proto)
		if err != nil {
			return err
		}
		for _, addr := range tc.Listen {
			ln, err := tr.Listen(nctx, addr)
			if err != nil {
				return fmt.Errorf("node: listen %s: %w", transport.JoinURL(tc.Proto, addr), err)
			}
			n.mu.Lock()
			n.listeners = append(n.listeners, ln)
			n.urls = append(n.urls, transport.JoinURL(tc.Proto, ln.Addr().String()))
			n.mu.Unlock()
			zap.L().Info("listening",
				zap.String("proto", tc.Proto),
				zap.String("addr", ln.Addr().String()))
			n.wg.Add(1)
			go n.acceptLoop(nctx, ln)
		}
		for _, addr := range tc.Dial {
			n.wg.Add(1)
			go n.maintainDial(nctx, tc.Proto, addr)
		}
	}

	n.wg.Add(1)
	go n.announceLoop(nctx)

	zap.L().Info("node started",
		zap.String("address", n.id.Address()),
		zap.String("network", n.cfg.NetworkID),
		zap.Strings("urls", n.advertisedURLs()))
	return nil
}

// Close stops loops, closes every listener and link, and releases the stores.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	if n.cancel != nil {
		n.cancel()
	}
	lns := n.listeners
	n.listeners = nil
	ls := make([]*link, 0, len(n.links))
	for l := range n.links {
		ls = append(ls, l)
	}
	n.mu.Unlock()

	for _, ln := range lns {
		_ = ln.Close()
	}
	for _, l := range ls {
		_ = l.conn.Close()
	}
	n.wg.Wait()
	n.kv.Close()
	err := n.dir.Close()
	zap.L().Info("node stopped", zap.String("address", n.id.Address()))
	return err
}

// Handle registers fn for a command. Announce frames are consumed by the node
// itself and never reach registered handlers.
func (n *Node) Handle(command string, fn Handler) {
	n.mu.Lock()
	n.handlers[command] = fn
	n.mu.Unlock()
}

// Address returns the local node address.
func (n *Node) Address() string { return n.id.Address() }

// Identity exposes the local identity.
func (n *Node) Identity() *identity.Identity { return n.id }

// Peers exposes the runtime peer table.
func (n *Node) Peers() *peers.Store { return n.peers }

// Directory exposes the persistent announce store.
func (n *Node) Directory() *directory.Store { return n.dir }

// Dialers returns the active transports as the dialer capability set the
// peer record's url filter consumes.
func (n *Node) Dialers() []peer.Dialer {
	trs := n.reg.Active()
	out := make([]peer.Dialer, len(trs))
	for i, tr := range trs {
		out[i] = tr
	}
	return out
}

var _ peer.Node = (*Node)(nil)

// Send delivers msg to its To address: over the open link when one exists,
// otherwise by dialing the peer's first eligible url. From and TTL are
// stamped when unset, and the encrypt-then-sign pipeline runs for whatever
// mode bits are set. An empty To broadcasts instead.
func (n *Node) Send(ctx context.Context, msg *protocol.Message) error {
	if msg.To == "" {
		return n.Broadcast(msg)
	}
	if err := n.prepare(msg); err != nil {
		return err
	}
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	// Own frames enter the dedup cache so echoes off the mesh are ignored.
	n.seen.Observe(frame)

	if l := n.linkFor(msg.To); l != nil {
		return l.conn.Send(frame)
	}
	l, err := n.connectPeer(ctx, msg.To)
	if err != nil {
		return err
	}
	return l.conn.Send(frame)
}

// Broadcast floods msg to every open link. Broadcasts cannot be encrypted:
// there is no recipient key to encrypt toward.
func (n *Node) Broadcast(msg *protocol.Message) error {
	if msg.To != "" {
		return errors.New("node: broadcast with a target address")
	}
	if msg.Mode.Has(protocol.ModeEncrypted) {
		return ErrEncryptedBroadcast
	}
	if err := n.prepare(msg); err != nil {
		return err
	}
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	n.seen.Observe(frame)
	for _, l := range n.openLinks() {
		if err := l.conn.Send(frame); err != nil {
			zap.L().Debug("broadcast send failed",
				zap.String("peer", l.peerAddr()), zap.Error(err))
		}
	}
	return nil
}

// prepare stamps From and TTL and runs encrypt-then-sign as the mode asks.
// Encryption needs the recipient's announced key; signing needs the local
// private key.
func (n *Node) prepare(msg *protocol.Message) error {
	if msg.From == "" {
		msg.From = n.id.Address()
	}
	if msg.TTL == 0 {
		msg.TTL = n.cfg.Net.DefaultTTL
	}
	if msg.Mode.Has(protocol.ModeEncrypted) && len(msg.Encrypted) == 0 {
		if msg.To == "" {
			return ErrEncryptedBroadcast
		}
		to, ok := n.resolvePeer(msg.To)
		if !ok {
			return ErrUnknownPeer
		}
		if err := msg.Encrypt(to.Identity()); err != nil {
			return err
		}
	}
	if msg.Mode.Has(protocol.ModeSigned) && len(msg.Signature) == 0 {
		if err := msg.Sign(n.id); err != nil {
			return err
		}
	}
	return nil
}

// resolvePeer consults the runtime table first and falls back to the
// persistent directory.
func (n *Node) resolvePeer(address string) (*peer.Peer, bool) {
	if p, ok := n.peers.Get(address); ok {
		return p, true
	}
	return n.dir.Peer(address)
}

func (n *Node) addLink(conn transport.Conn) *link {
	l := &link{conn: conn}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	n.links[l] = struct{}{}
	n.mu.Unlock()
	return l
}

// bindLink records the authenticated peer address of a link. A newer link to
// the same peer replaces and closes the old one.
func (n *Node) bindLink(l *link, address string) {
	l.bind(address)
	n.mu.Lock()
	old := n.byAddr[address]
	n.byAddr[address] = l
	n.mu.Unlock()
	if old != nil && old != l {
		_ = old.conn.Close()
	}
}

func (n *Node) dropLink(l *link) {
	_ = l.conn.Close()
	addr := l.peerAddr()
	n.mu.Lock()
	delete(n.links, l)
	if addr != "" && n.byAddr[addr] == l {
		delete(n.byAddr, addr)
	}
	n.mu.Unlock()
}

func (n *Node) linkFor(address string) *link {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.byAddr[address]
}

func (n *Node) openLinks() []*link {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*link, 0, len(n.links))
	for l := range n.links {
		out = append(out, l)
	}
	return out
}

func (n *Node) advertisedURLs() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.urls...)
}

// buildAnnounce signs a fresh announce, wraps it in a broadcast envelope and
// returns the encoded frame, already entered into the dedup cache.
func (n *Node) buildAnnounce() ([]byte, error) {
	a, err := handshake.Build(n.id, n.cfg.NetworkID, n.advertisedURLs())
	if err != nil {
		return nil, err
	}
	body, err := n.body.Marshal(a)
	if err != nil {
		return nil, err
	}
	msg := handshake.WrapMessage(n.id.Address(), n.cfg.Net.DefaultTTL, body)
	frame, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	n.seen.Observe(frame)
	return frame, nil
}

// sendAnnounce introduces this node on a freshly opened link.
func (n *Node) sendAnnounce(l *link) {
	frame, err := n.buildAnnounce()
	if err != nil {
		zap.L().Warn("build announce", zap.Error(err))
		return
	}
	if err := l.conn.Send(frame); err != nil {
		zap.L().Debug("send announce", zap.Error(err))
	}
}

// announceLoop re-broadcasts the local announce so peer table entries and
// directory timestamps stay fresh across the mesh.
func (n *Node) announceLoop(ctx context.Context) {
	defer n.wg.Done()
	interval := n.cfg.Peers.TTL() / 3
	if interval < 10*time.Second {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			frame, err := n.buildAnnounce()
			if err != nil {
				zap.L().Warn("build announce", zap.Error(err))
				continue
			}
			for _, l := range n.openLinks() {
				if err := l.conn.Send(frame); err != nil {
					zap.L().Debug("announce send failed", zap.Error(err))
				}
			}
		}
	}
}

// Stats is a point-in-time snapshot of the node's link and frame counters.
type Stats struct {
	Links     int
	FramesIn  uint64
	Delivered uint64
	Relayed   uint64
	Dropped   uint64
}

func (n *Node) Stats() Stats {
	n.mu.RLock()
	links := len(n.links)
	n.mu.RUnlock()
	return Stats{
		Links:     links,
		FramesIn:  n.mFramesIn.Load(),
		Delivered: n.mDelivered.Load(),
		Relayed:   n.mRelayed.Load(),
		Dropped:   n.mDropped.Load(),
	}
}
