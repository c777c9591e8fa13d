package node

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"twlv/pkg/transport"
)

// acceptLoop admits inbound conns on one listener, introduces the local node
// and starts the read loop.
func (n *Node) acceptLoop(ctx context.Context, ln transport.Listener) {
	defer n.wg.Done()
	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				zap.L().Warn("accept failed",
					zap.String("addr", ln.Addr().String()), zap.Error(err))
			}
			return
		}
		zap.L().Debug("inbound conn", zap.String("raddr", conn.RemoteAddr().String()))
		l := n.addLink(conn)
		if l == nil {
			return
		}
		// The reader must be live before anything is written: conns without
		// flow control (mem pipes) rendezvous on every frame. The announce
		// write gets its own goroutine so a stalled peer cannot block the
		// accept loop.
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.readLoop(l)
		}()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.sendAnnounce(l)
		}()
	}
}

// maintainDial keeps a conn to a configured peer address alive, redialing
// with exponential backoff plus jitter whenever it drops.
func (n *Node) maintainDial(ctx context.Context, proto, address string) {
	defer n.wg.Done()
	url := transport.JoinURL(proto, address)

	initial := n.cfg.Net.BackoffInitial()
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	maxBackoff := n.cfg.Net.BackoffMax()
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	backoff := initial

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, err := n.dialURL(ctx, url)
		if err != nil {
			zap.L().Warn("dial failed", zap.String("url", url), zap.Error(err))
			if !sleepCtx(ctx, withJitter(backoff, n.cfg.Net.BackoffJitter())) {
				return
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = initial
		zap.L().Info("dialed", zap.String("url", url))
		l := n.addLink(conn)
		if l == nil {
			return
		}
		n.sendAnnounce(l)
		// Pump the link here; when it dies, loop around and redial.
		n.readLoop(l)
	}
}

// connectPeer resolves a peer record and dials its first reachable eligible
// url, announcing on the fresh link.
func (n *Node) connectPeer(ctx context.Context, address string) (*link, error) {
	p, ok := n.resolvePeer(address)
	if !ok {
		return nil, ErrUnknownPeer
	}
	urls := p.EligibleURLs(n)
	if len(urls) == 0 {
		return nil, ErrNoEligibleURL
	}
	var lastErr error
	for _, url := range urls {
		conn, err := n.dialURL(ctx, url)
		if err != nil {
			lastErr = err
			zap.L().Debug("dial failed", zap.String("url", url), zap.Error(err))
			continue
		}
		l := n.addLink(conn)
		if l == nil {
			return nil, ErrClosed
		}
		n.bindLink(l, address)
		n.sendAnnounce(l)
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.readLoop(l)
		}()
		return l, nil
	}
	return nil, fmt.Errorf("node: connect %s: %w", address, lastErr)
}

// dialURL resolves the proto part and dials the address part.
func (n *Node) dialURL(ctx context.Context, url string) (transport.Conn, error) {
	proto, address, err := transport.SplitURL(url)
	if err != nil {
		return nil, err
	}
	tr, err := n.reg.Get(proto)
	if err != nil {
		return nil, err
	}
	conn, err := tr.Dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}

func withJitter(d, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(jitter)))
}

// sleepCtx sleeps for d unless ctx ends first. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
