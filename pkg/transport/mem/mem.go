// Package mem implements an in-process transport over net.Pipe. Listeners
// register on a board by name; dialers connect through the same board.
// Useful for tests and single-process topologies.
package mem

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"

	"twlv/pkg/transport"
)

// Board is the in-process switchboard that connects dialers to listeners.
type Board struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func NewBoard() *Board { return &Board{listeners: make(map[string]*listener)} }

// The default board is shared by all Transports built with New, so nodes in
// one process reach each other without extra wiring.
var defaultBoard = NewBoard()

type Transport struct {
	board *Board
}

func New() *Transport { return &Transport{board: defaultBoard} }

// NewWithBoard builds a transport on an isolated board.
func NewWithBoard(b *Board) *Transport { return &Transport{board: b} }

func (t *Transport) Proto() string { return "mem" }

func (t *Transport) Listen(ctx context.Context, name string) (transport.Listener, error) {
	t.board.mu.Lock()
	defer t.board.mu.Unlock()
	if _, ok := t.board.listeners[name]; ok {
		return nil, errors.New("mem: listener already exists: " + name)
	}
	l := &listener{
		board: t.board,
		name:  name,
		conns: make(chan *conn, 8),
		done:  make(chan struct{}),
	}
	t.board.listeners[name] = l
	go func() { <-ctx.Done(); _ = l.Close() }()
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, name string) (transport.Conn, error) {
	t.board.mu.Lock()
	l := t.board.listeners[name]
	t.board.mu.Unlock()
	if l == nil {
		return nil, errors.New("mem: no such listener: " + name)
	}
	p1, p2 := net.Pipe()
	srv := newConn(p1, name)
	cli := newConn(p2, name)
	select {
	case l.conns <- srv:
	case <-l.done:
		_ = srv.Close()
		_ = cli.Close()
		return nil, transport.ErrListenerClosed
	case <-ctx.Done():
		_ = srv.Close()
		_ = cli.Close()
		return nil, ctx.Err()
	}
	return cli, nil
}

type listener struct {
	board     *Board
	name      string
	conns     chan *conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *listener) Addr() net.Addr { return memAddr(l.name) }

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
	l.closeOnce.Do(func() {
		close(l.done)
		l.board.mu.Lock()
		delete(l.board.listeners, l.name)
		l.board.mu.Unlock()
	})
	return nil
}

type memAddr string

func (a memAddr) Network() string { return "mem" }
func (a memAddr) String() string  { return string(a) }

type conn struct {
	mu   sync.Mutex
	c    net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
	name string
}

func newConn(c net.Conn, name string) *conn {
	return &conn{c: c, br: bufio.NewReader(c), bw: bufio.NewWriter(c), name: name}
}

func (c *conn) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.WriteFrame(c.bw, b)
}

func (c *conn) Recv() ([]byte, error) { return transport.ReadFrame(c.br) }

func (c *conn) LocalAddr() net.Addr  { return memAddr(c.name) }
func (c *conn) RemoteAddr() net.Addr { return memAddr(c.name) }
func (c *conn) Close() error         { return c.c.Close() }
