// Package peer implements the directory record binding a verified identity
// to reachability metadata: advertised URLs and a last-seen timestamp.
package peer

import (
	"errors"
	"strings"
	"time"

	"twlv/pkg/identity"
)

// ErrAddressMismatch is returned when an announced address is not the one
// derived from the announced public key. Such records are forged or corrupt
// and must never enter a peer table.
var ErrAddressMismatch = errors.New("peer: address does not match public key")

// Dialer describes one transport scheme the local node can dial.
type Dialer interface {
	Proto() string
}

// Node is the capability EligibleURLs consumes: the set of configured
// dialers. The record itself never dials.
type Node interface {
	Dialers() []Dialer
}

// Info is the announcement form of a peer, exchanged by the handshake and
// persisted by the directory. Timestamp is unix milliseconds.
type Info struct {
	Address   string   `cbor:"address" json:"address"`
	NetworkID string   `cbor:"network" json:"network"`
	PubKey    []byte   `cbor:"pubkey" json:"pubkey"`
	EncKey    []byte   `cbor:"enckey" json:"enckey"`
	URLs      []string `cbor:"urls" json:"urls"`
	Timestamp int64    `cbor:"ts" json:"ts"`
}

// Peer is a live directory record. Address, network id and key material are
// immutable after construction; URLs and Timestamp are replaced wholesale by
// Update on every re-announcement.
type Peer struct {
	Address   string
	NetworkID string
	URLs      []string
	Timestamp time.Time

	id *identity.Identity
}

// New validates an announcement and builds the record. Construction fails
// when the announced address does not match the address derived from the
// announced public key; this is the only hard failure.
func New(info Info) (*Peer, error) {
	id, err := identity.FromPublicKeys(info.PubKey, info.EncKey)
	if err != nil {
		return nil, err
	}
	if id.Address() != info.Address {
		return nil, ErrAddressMismatch
	}
	return &Peer{
		Address:   info.Address,
		NetworkID: info.NetworkID,
		URLs:      append([]string(nil), info.URLs...),
		Timestamp: time.UnixMilli(info.Timestamp),
		id:        id,
	}, nil
}

// Identity returns the peer's public-only identity capability: verify the
// peer's signatures, encrypt toward the peer.
func (p *Peer) Identity() *identity.Identity { return p.id }

// EligibleURLs returns the subset of the peer's URLs whose "<scheme>:"
// prefix matches the proto of at least one of the node's dialers. The result
// preserves the advertised order and is empty when nothing overlaps.
func (p *Peer) EligibleURLs(node Node) []string {
	var out []string
	for _, u := range p.URLs {
		for _, d := range node.Dialers() {
			if strings.HasPrefix(u, d.Proto()+":") {
				out = append(out, u)
				break
			}
		}
	}
	return out
}

// Update replaces URLs and Timestamp from a fresh announcement. Identity
// fields never change after construction.
func (p *Peer) Update(info Info) {
	p.URLs = append([]string(nil), info.URLs...)
	p.Timestamp = time.UnixMilli(info.Timestamp)
}

// Info renders the record back into its announcement form.
func (p *Peer) Info() Info {
	enc := p.id.EncryptionKey()
	return Info{
		Address:   p.Address,
		NetworkID: p.NetworkID,
		PubKey:    p.id.PublicKey(),
		EncKey:    enc[:],
		URLs:      append([]string(nil), p.URLs...),
		Timestamp: p.Timestamp.UnixMilli(),
	}
}
