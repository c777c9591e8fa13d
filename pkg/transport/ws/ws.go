// Package ws implements the transport over WebSocket binary messages.
// Endpoint addresses take the form "host:port" or "host:port/path"; the
// path defaults to "/".
package ws

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"twlv/pkg/transport"
)

type Transport struct {
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
}

func New() *Transport {
	return &Transport{
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (t *Transport) Proto() string { return "ws" }

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	wc, resp, err := t.dialer.DialContext(ctx, "ws://"+address, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	wc.SetReadLimit(transport.MaxFrameSize)
	return &conn{c: wc}, nil
}

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	host, path := splitAddr(address)
	nl, err := net.Listen("tcp", host)
	if err != nil {
		return nil, err
	}
	l := &listener{
		up:    t.upgrader,
		nl:    nl,
		conns: make(chan *conn, 8),
		done:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.srv = &http.Server{Handler: mux}
	go func() { _ = l.srv.Serve(nl) }()
	go func() { <-ctx.Done(); _ = l.Close() }()
	return l, nil
}

// splitAddr separates the listen address from the optional serve path.
func splitAddr(address string) (host, path string) {
	if i := strings.IndexByte(address, '/'); i >= 0 {
		return address[:i], address[i:]
	}
	return address, "/"
}

type listener struct {
	up        websocket.Upgrader
	nl        net.Listener
	srv       *http.Server
	conns     chan *conn
	done      chan struct{}
	closeOnce sync.Once
}

func (l *listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	wc, err := l.up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wc.SetReadLimit(transport.MaxFrameSize)
	select {
	case l.conns <- &conn{c: wc}:
	case <-l.done:
		_ = wc.Close()
	}
}

func (l *listener) Addr() net.Addr { return l.nl.Addr() }

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
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

type conn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (c *conn) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.c.WriteMessage(websocket.BinaryMessage, b)
}

func (c *conn) Recv() ([]byte, error) {
	for {
		mt, p, err := c.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.BinaryMessage {
			return p, nil
		}
	}
}

func (c *conn) LocalAddr() net.Addr  { return c.c.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }

func (c *conn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.c.Close()
}
