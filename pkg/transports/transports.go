// Package transports wires the built-in transport implementations into a
// registry keyed by dial proto.
package transports

import (
	"fmt"

	"twlv/pkg/transport"
	"twlv/pkg/transport/mem"
	tquic "twlv/pkg/transport/quic"
	ttcp "twlv/pkg/transport/tcp"
	"twlv/pkg/transport/udp"
	"twlv/pkg/transport/ws"
)

// NewRegistry returns a registry with all built-in protos registered.
// Transports are constructed lazily, so an unused proto costs nothing.
func NewRegistry() *transport.Registry {
	r := transport.NewRegistry()
	r.Register("tcp", func() (transport.Transport, error) { return ttcp.New(), nil })
	r.Register("udp", func() (transport.Transport, error) { return udp.New(), nil })
	r.Register("ws", func() (transport.Transport, error) { return ws.New(), nil })
	r.Register("quic", func() (transport.Transport, error) { return tquic.New() })
	r.Register("mem", func() (transport.Transport, error) { return mem.New(), nil })
	return r
}

// New constructs a single transport by proto.
func New(proto string) (transport.Transport, error) {
	switch proto {
	case "tcp":
		return ttcp.New(), nil
	case "udp":
		return udp.New(), nil
	case "ws":
		return ws.New(), nil
	case "quic":
		return tquic.New()
	case "mem":
		return mem.New(), nil
	default:
		return nil, fmt.Errorf("transport: unknown proto %q", proto)
	}
}
