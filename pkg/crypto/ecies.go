package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfo = "twlv/v1"

var (
	// ErrDecryptFailed is returned when the authentication tag does not
	// match: wrong key or corrupted ciphertext.
	ErrDecryptFailed = errors.New("decrypt: authentication failed")

	// ErrShortCiphertext is returned when the input cannot even hold the
	// ephemeral key, nonce and tag.
	ErrShortCiphertext = errors.New("decrypt: ciphertext too short")
)

// Encrypt encrypts plaintext to recipientPub:
//
//   - ephemeral X25519 keypair per message
//   - shared secret via ECDH
//   - key derived with HKDF-SHA256
//   - authenticated encryption with ChaCha20-Poly1305
//
// Output layout: ephPub(32) || nonce(12) || ciphertext+tag.
func Encrypt(recipientPub [32]byte, plaintext []byte) ([]byte, error) {
	ephPriv := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, ephPriv); err != nil {
		return nil, err
	}
	clampScalar(ephPriv)

	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephPriv, recipientPub[:])
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(shared, ephPub)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, nonce, plaintext, nil)

	out := make([]byte, 0, 32+len(nonce)+len(ct))
	out = append(out, ephPub...)
	out = append(out, nonce...)
	out = append(out, ct...)
	return out, nil
}

// Decrypt reverses Encrypt using the recipient's private key.
func Decrypt(priv [32]byte, data []byte) ([]byte, error) {
	if len(data) < 32+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, ErrShortCiphertext
	}
	ephPub := data[:32]
	nonce := data[32 : 32+chacha20poly1305.NonceSize]
	ct := data[32+chacha20poly1305.NonceSize:]

	shared, err := curve25519.X25519(priv[:], ephPub)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	key, err := deriveKey(shared, ephPub)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return pt, nil
}

// GenerateEncryptionKey returns a fresh X25519 keypair.
func GenerateEncryptionKey() (priv, pub [32]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, priv[:]); err != nil {
		return priv, pub, err
	}
	clampScalar(priv[:])
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], p)
	return priv, pub, nil
}

func clampScalar(k []byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

func deriveKey(shared, ephPub []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, shared, ephPub[:8], []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
