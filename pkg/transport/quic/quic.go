// Package quic implements the transport over QUIC. Each conn uses one
// bidirectional stream opened by the dialer, with u32 LE length-prefixed
// frames.
package quic

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"twlv/pkg/transport"
)

const alpn = "twlv"

type Transport struct {
	tlsConf *tls.Config
	qconf   *quicgo.Config
}

func New() (*Transport, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &Transport{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		qconf: &quicgo.Config{KeepAlivePeriod: 15 * time.Second},
	}, nil
}

func (t *Transport) Proto() string { return "quic" }

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	// NOTE: peer identity is verified at the application layer, not by TLS.
	tlsClient := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
	qc, err := quicgo.DialAddr(ctx, address, tlsClient, t.qconf)
	if err != nil {
		return nil, err
	}
	st, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(0, "open stream")
		return nil, err
	}
	return newConn(qc, st), nil
}

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	ql, err := quicgo.ListenAddr(address, t.tlsConf, t.qconf)
	if err != nil {
		return nil, err
	}
	l := &listener{l: ql, conns: make(chan *conn, 8), done: make(chan struct{})}
	go l.acceptLoop(ctx)
	go func() { <-ctx.Done(); _ = l.Close() }()
	return l, nil
}

type listener struct {
	l         *quicgo.Listener
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

func (l *listener) acceptLoop(ctx context.Context) {
	for {
		qc, err := l.l.Accept(ctx)
		if err != nil {
			return
		}
		// The dialer opens the stream; accept it off the hot path.
		go func() {
			st, err := qc.AcceptStream(ctx)
			if err != nil {
				_ = qc.CloseWithError(0, "accept stream")
				return
			}
			c := newConn(qc, st)
			select {
			case l.conns <- c:
			case <-l.done:
				_ = c.Close()
			}
		}()
	}
}

type conn struct {
	mu sync.Mutex
	qc quicgo.Connection
	st quicgo.Stream
	br *bufio.Reader
	bw *bufio.Writer
}

func newConn(qc quicgo.Connection, st quicgo.Stream) *conn {
	return &conn{qc: qc, st: st, br: bufio.NewReader(st), bw: bufio.NewWriter(st)}
}

func (c *conn) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return transport.WriteFrame(c.bw, b)
}

func (c *conn) Recv() ([]byte, error) { return transport.ReadFrame(c.br) }

func (c *conn) LocalAddr() net.Addr  { return c.qc.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.qc.RemoteAddr() }

func (c *conn) Close() error {
	_ = c.st.Close()
	return c.qc.CloseWithError(0, "")
}

// selfSignedCert generates a short-lived self-signed TLS certificate for
// local listeners.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
