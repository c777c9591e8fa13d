// Package identity implements the identity capability consumed by the
// envelope and the peer record: a stable address derived from an ed25519
// public key, signing/verification, and ECIES encryption under a companion
// X25519 keypair.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"twlv/pkg/crypto"
	"twlv/pkg/protocol"
)

var (
	ErrNoPrivateKey = errors.New("identity: operation requires private key material")
	ErrBadKeyLength = errors.New("identity: bad key length")
)

// Identity binds an address to its key material. A full identity (local
// node) holds private keys and supports the whole pipeline; a public-only
// identity (built from a peer announcement) can verify signatures and
// encrypt toward the peer, which is all the envelope needs on the sending
// side.
type Identity struct {
	address    string
	signPub    ed25519.PublicKey
	signPriv   ed25519.PrivateKey
	encPub     [32]byte
	encPriv    [32]byte
	hasEncPriv bool
}

var _ protocol.Identity = (*Identity)(nil)

// Generate creates a fresh full identity: an ed25519 signing pair plus an
// X25519 encryption pair.
func Generate() (*Identity, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	encPriv, encPub, err := crypto.GenerateEncryptionKey()
	if err != nil {
		return nil, err
	}
	return &Identity{
		address:    AddressFromPubKey(signPub),
		signPub:    signPub,
		signPriv:   signPriv,
		encPub:     encPub,
		encPriv:    encPriv,
		hasEncPriv: true,
	}, nil
}

// FromPublicKeys builds a public-only identity from announced key material.
func FromPublicKeys(signPub, encPub []byte) (*Identity, error) {
	if len(signPub) != ed25519.PublicKeySize || len(encPub) != 32 {
		return nil, ErrBadKeyLength
	}
	id := &Identity{
		address: AddressFromPubKey(signPub),
		signPub: append(ed25519.PublicKey(nil), signPub...),
	}
	copy(id.encPub[:], encPub)
	return id, nil
}

// AddressFromPubKey derives the stable 20-hex-char address of an ed25519
// public key: the first 10 bytes of its SHA-256 digest.
func AddressFromPubKey(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:protocol.AddressSize])
}

// Address returns the derived hex address.
func (id *Identity) Address() string { return id.address }

// PublicKey returns the ed25519 verification key.
func (id *Identity) PublicKey() ed25519.PublicKey {
	return append(ed25519.PublicKey(nil), id.signPub...)
}

// EncryptionKey returns the X25519 public key peers encrypt toward.
func (id *Identity) EncryptionKey() [32]byte { return id.encPub }

// Public returns the public-only view of this identity.
func (id *Identity) Public() *Identity {
	return &Identity{
		address: id.address,
		signPub: append(ed25519.PublicKey(nil), id.signPub...),
		encPub:  id.encPub,
	}
}

// Sign signs data with the identity's ed25519 key.
func (id *Identity) Sign(data []byte) ([]byte, error) {
	if id.signPriv == nil {
		return nil, ErrNoPrivateKey
	}
	return crypto.SignEd25519(id.signPriv, data), nil
}

// Verify reports whether sig is this identity's signature of data.
func (id *Identity) Verify(data, sig []byte) bool {
	return crypto.VerifyEd25519(id.signPub, data, sig)
}

// Encrypt encrypts plain toward this identity's encryption key. Only the
// holder of the matching private key can decrypt.
func (id *Identity) Encrypt(plain []byte) ([]byte, error) {
	return crypto.Encrypt(id.encPub, plain)
}

// Decrypt decrypts a ciphertext produced by Encrypt.
func (id *Identity) Decrypt(cipher []byte) ([]byte, error) {
	if !id.hasEncPriv {
		return nil, ErrNoPrivateKey
	}
	return crypto.Decrypt(id.encPriv, cipher)
}
