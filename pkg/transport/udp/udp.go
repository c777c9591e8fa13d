// Package udp implements the datagram transport. Each datagram carries one
// whole frame; delivery and ordering are best effort. The listener demuxes
// inbound traffic into one conn per remote address.
package udp

import (
	"context"
	"errors"
	"net"
	"sync"

	"twlv/pkg/transport"
)

const maxDatagram = 64 * 1024

// ErrDatagramTooBig is returned by Send for frames over maxDatagram.
var ErrDatagramTooBig = errors.New("udp: frame exceeds datagram size")

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Proto() string { return "udp" }

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	sock, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	c := &conn{
		sock:     sock,
		raddr:    raddr,
		outbound: true,
		rx:       make(chan []byte, 32),
		done:     make(chan struct{}),
	}
	go c.recvLoop()
	go func() { <-ctx.Done(); _ = c.Close() }()
	return c, nil
}

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, err
	}
	sock, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	l := &listener{
		sock:     sock,
		sessions: make(map[string]*conn),
		conns:    make(chan *conn, 8),
		done:     make(chan struct{}),
	}
	go l.readLoop()
	go func() { <-ctx.Done(); _ = l.Close() }()
	return l, nil
}

type listener struct {
	sock      *net.UDPConn
	mu        sync.Mutex
	sessions  map[string]*conn
	conns     chan *conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.sock.LocalAddr() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.done:
		return nil, transport.ErrListenerClosed
	case c := <-l.conns:
		return c, nil
	}
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return l.sock.Close()
}

func (l *listener) drop(key string) {
	l.mu.Lock()
	delete(l.sessions, key)
	l.mu.Unlock()
}

func (l *listener) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, raddr, err := l.sock.ReadFromUDP(buf)
		if err != nil {
			return
		}
		key := raddr.String()
		l.mu.Lock()
		c, ok := l.sessions[key]
		if !ok {
			key := key
			c = &conn{
				sock:   l.sock,
				raddr:  raddr,
				rx:     make(chan []byte, 32),
				done:   make(chan struct{}),
				detach: func() { l.drop(key) },
			}
			// Register only if the accept queue takes it; otherwise the
			// datagram is dropped like any other unreachable packet.
			select {
			case l.conns <- c:
				l.sessions[key] = c
			default:
				l.mu.Unlock()
				continue
			}
		}
		l.mu.Unlock()
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case c.rx <- pkt:
		default:
		}
	}
}

type conn struct {
	sock      *net.UDPConn
	raddr     *net.UDPAddr
	outbound  bool
	rx        chan []byte
	done      chan struct{}
	detach    func()
	closeOnce sync.Once
}

func (c *conn) recvLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, err := c.sock.Read(buf)
		if err != nil {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case c.rx <- pkt:
		default:
		}
	}
}

func (c *conn) Send(b []byte) error {
	if len(b) > maxDatagram {
		return ErrDatagramTooBig
	}
	var err error
	if c.outbound {
		_, err = c.sock.Write(b)
	} else {
		_, err = c.sock.WriteToUDP(b, c.raddr)
	}
	return err
}

func (c *conn) Recv() ([]byte, error) {
	select {
	case pkt := <-c.rx:
		return pkt, nil
	case <-c.done:
		return nil, transport.ErrConnClosed
	}
}

func (c *conn) LocalAddr() net.Addr  { return c.sock.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.raddr }

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.detach != nil {
			c.detach()
		}
		if c.outbound {
			err = c.sock.Close()
		}
	})
	return err
}
