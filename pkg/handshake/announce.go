// Package handshake implements the signed announce exchanged when a conn
// opens. An announce binds a node address and its reachable urls to the
// node's keys with a fresh nonce, so peer tables and the directory only
// accept records produced by the key holder.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	twlvcrypto "twlv/pkg/crypto"
	"twlv/pkg/identity"
	"twlv/pkg/peer"
	"twlv/pkg/protocol"
)

// Version is the current announce format version.
const Version = 1

const (
	nonceSize      = 16
	defaultMaxSkew = 5 * time.Minute
)

var (
	ErrUnsupportedVersion = errors.New("handshake: unsupported announce version")
	ErrClockSkew          = errors.New("handshake: announce timestamp out of bounds")
	ErrBadSignature       = errors.New("handshake: announce signature invalid")
)

// Announce carries a node's self-signed directory record.
type Announce struct {
	Version uint32    `cbor:"ver" json:"ver"`
	Info    peer.Info `cbor:"info" json:"info"`
	Nonce   []byte    `cbor:"nonce" json:"nonce"`
	Sig     []byte    `cbor:"sig" json:"sig"`
}

// Transcript builds the canonical byte string covered by the announce
// signature. Format:
//
//	twlv:announce|v=1|address=<hex>|network=<id>|ts=<unix_ms>|pub=<b64url>|enc=<b64url>|nonce=<b64url>|urls=<url,...>
func Transcript(info peer.Info, nonce []byte) []byte {
	b64 := base64.RawURLEncoding
	var sb strings.Builder
	sb.Grow(160 + len(info.NetworkID))
	sb.WriteString("twlv:announce|v=")
	sb.WriteString(strconv.Itoa(Version))
	sb.WriteString("|address=")
	sb.WriteString(info.Address)
	sb.WriteString("|network=")
	sb.WriteString(info.NetworkID)
	sb.WriteString("|ts=")
	sb.WriteString(strconv.FormatInt(info.Timestamp, 10))
	sb.WriteString("|pub=")
	sb.WriteString(b64.EncodeToString(info.PubKey))
	sb.WriteString("|enc=")
	sb.WriteString(b64.EncodeToString(info.EncKey))
	sb.WriteString("|nonce=")
	sb.WriteString(b64.EncodeToString(nonce))
	sb.WriteString("|urls=")
	sb.WriteString(strings.Join(info.URLs, ","))
	return []byte(sb.String())
}

// Build constructs a signed announce for the local identity.
func Build(id *identity.Identity, networkID string, urls []string) (Announce, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Announce{}, err
	}
	enc := id.EncryptionKey()
	a := Announce{
		Version: Version,
		Info: peer.Info{
			Address:   id.Address(),
			NetworkID: networkID,
			PubKey:    append([]byte(nil), id.PublicKey()...),
			EncKey:    enc[:],
			URLs:      append([]string(nil), urls...),
			Timestamp: time.Now().UnixMilli(),
		},
		Nonce: nonce,
	}
	sig, err := id.Sign(Transcript(a.Info, a.Nonce))
	if err != nil {
		return Announce{}, err
	}
	a.Sig = sig
	return a, nil
}

// VerifySignature checks structure and signature only and returns the peer
// record the announce carries. Stored announces are re-checked this way
// regardless of age.
func VerifySignature(a Announce) (*peer.Peer, error) {
	if a.Version != Version {
		return nil, ErrUnsupportedVersion
	}
	if len(a.Info.PubKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("handshake: bad pubkey length %d", len(a.Info.PubKey))
	}
	if len(a.Sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("handshake: bad signature length %d", len(a.Sig))
	}
	if !twlvcrypto.VerifyEd25519(ed25519.PublicKey(a.Info.PubKey), Transcript(a.Info, a.Nonce), a.Sig) {
		return nil, ErrBadSignature
	}
	return peer.New(a.Info)
}

// Verify checks signature plus freshness for announces arriving off the
// wire. maxSkew <= 0 selects the default window.
func Verify(a Announce, maxSkew time.Duration) (*peer.Peer, error) {
	p, err := VerifySignature(a)
	if err != nil {
		return nil, err
	}
	if maxSkew <= 0 {
		maxSkew = defaultMaxSkew
	}
	if dt := time.Now().UnixMilli() - a.Info.Timestamp; dt > maxSkew.Milliseconds() || dt < -maxSkew.Milliseconds() {
		return nil, ErrClockSkew
	}
	return p, nil
}

// Command names the envelope command announces travel under.
const Command = "twlv.announce"

// WrapMessage packages an encoded announce into a plain broadcast envelope
// from the given address. The body carries its own signature; the envelope
// stays unsigned.
func WrapMessage(from string, ttl uint8, body []byte) *protocol.Message {
	return &protocol.Message{
		Mode:    protocol.ModePlain,
		TTL:     ttl,
		From:    from,
		Command: Command,
		Payload: body,
	}
}
