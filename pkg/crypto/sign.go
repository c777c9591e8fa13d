// Package crypto provides the primitives behind the identity capability:
// ed25519 signatures (64 bytes, the envelope's fixed signature width) and
// ECIES encryption over X25519 + HKDF-SHA256 + ChaCha20-Poly1305.
package crypto

import "crypto/ed25519"

// SignEd25519 signs data, producing a 64-byte signature.
func SignEd25519(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// VerifyEd25519 reports whether sig is a valid signature of data by pub.
// Malformed keys or signatures verify as false rather than panicking.
func VerifyEd25519(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
