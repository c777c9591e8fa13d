// Package tcp implements the stream transport with u32 LE length-prefixed
// frames over plain TCP.
package tcp

import (
	"bufio"
	"context"
	"net"
	"sync"

	"twlv/pkg/transport"
)

type Transport struct{}

func New() *Transport { return &Transport{} }

func (t *Transport) Proto() string { return "tcp" }

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	d := &net.Dialer{}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return newConn(c), nil
}

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	tl := &listener{l: l, conns: make(chan *conn, 8), done: make(chan struct{})}
	go tl.acceptLoop()
	go func() { <-ctx.Done(); _ = tl.Close() }()
	return tl, nil
}

type listener struct {
	l         net.Listener
	conns     chan *conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

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
	return l.l.Close()
}

func (l *listener) acceptLoop() {
	for {
		c, err := l.l.Accept()
		if err != nil {
			return
		}
		select {
		case l.conns <- newConn(c):
		case <-l.done:
			_ = c.Close()
			return
		}
	}
}

type conn struct {
	mu sync.Mutex
	c  net.Conn
	br *bufio.Reader
	bw *bufio.Writer
}

func newConn(c net.Conn) *conn {
	return &conn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c)}
}

func (c *conn) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.WriteFrame(c.bw, b)
}

func (c *conn) Recv() ([]byte, error) { return transport.ReadFrame(c.br) }

func (c *conn) LocalAddr() net.Addr  { return c.c.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }
func (c *conn) Close() error         { return c.c.Close() }
