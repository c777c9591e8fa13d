// Package transport defines the link layer that moves encoded message
// frames between nodes. Implementations live in subpackages, one per dial
// protocol (tcp, udp, ws, quic, mem), and are constructed through the
// Registry so callers address them by proto string only.
//
// Key concepts:
// - Transport: dials and listens for Conns of a specific proto
// - Conn: a bidirectional frame pipe to one remote node
// - Listener: accepts inbound Conns
// - Registry: builds and caches one Transport per proto on demand
package transport

import (
	"context"
	"errors"
	"net"
	"strings"
)

var (
	// ErrListenerClosed is returned by Accept after Close.
	ErrListenerClosed = errors.New("transport: listener closed")
	// ErrConnClosed is returned by Recv after the conn is torn down.
	ErrConnClosed = errors.New("transport: conn closed")
	// ErrBadURL is returned for endpoint URLs missing the "<proto>:" prefix.
	ErrBadURL = errors.New("transport: malformed endpoint url")
)

// Conn is a bidirectional frame pipe. Send is safe for concurrent use;
// exactly one goroutine is expected to call Recv.
type Conn interface {
	// Send writes one frame. The frame is an opaque encoded message.
	Send([]byte) error
	// Recv blocks until the next frame arrives and returns its bytes.
	Recv() ([]byte, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// Listener accepts inbound conns.
type Listener interface {
	// Accept blocks until an inbound conn is available or ctx is done.
	Accept(ctx context.Context) (Conn, error)
	// Addr returns the local listening address.
	Addr() net.Addr
	// Close stops the listener and unblocks Accept.
	Close() error
}

// Transport dials and listens for a specific proto.
type Transport interface {
	// Proto returns the URL scheme this transport serves, e.g. "tcp".
	Proto() string
	// Dial opens an outbound conn to address (proto-specific format).
	Dial(ctx context.Context, address string) (Conn, error)
	// Listen starts accepting inbound conns on address.
	Listen(ctx context.Context, address string) (Listener, error)
}

// SplitURL splits an endpoint URL of the form "<proto>:<address>" into its
// parts. Both parts must be non-empty.
func SplitURL(url string) (proto, address string, err error) {
	i := strings.IndexByte(url, ':')
	if i <= 0 || i == len(url)-1 {
		return "", "", ErrBadURL
	}
	return url[:i], url[i+1:], nil
}

// JoinURL renders the endpoint URL for a proto and address.
func JoinURL(proto, address string) string {
	return proto + ":" + address
}
