package protocol

// Identity is the capability the envelope's crypto pipeline consumes. The
// envelope never generates or stores keys; pkg/identity provides the concrete
// implementation.
type Identity interface {
	// Address returns the stable hex address derived from the public key.
	Address() string
	Sign(data []byte) ([]byte, error)
	Verify(data, sig []byte) bool
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(cipher []byte) ([]byte, error)
}

// Sign computes the signature over the active payload. It is a no-op when the
// signed bit is unset, so callers may run the full encrypt-then-sign pipeline
// unconditionally. The identity must be the sender's: its address has to
// match From. When the encrypted bit is also set the signature covers the
// ciphertext, so Encrypt must run before Sign.
func (m *Message) Sign(id Identity) error {
	if !m.Mode.Has(ModeSigned) {
		return nil
	}
	if id.Address() != m.From {
		return ErrInvalidIdentity
	}
	sig, err := id.Sign(m.ActivePayload())
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// Verify checks the signature against the active payload. No-op when the
// signed bit is unset. The identity's address must match From. A failed
// verification means the message was tampered with or forged; callers must
// drop it.
func (m *Message) Verify(id Identity) error {
	if !m.Mode.Has(ModeSigned) {
		return nil
	}
	if id.Address() != m.From {
		return ErrInvalidIdentity
	}
	if !id.Verify(m.ActivePayload(), m.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Encrypt replaces Encrypted with the identity's encryption of Payload.
// No-op when the encrypted bit is unset. The identity's address must match
// To, the recipient.
func (m *Message) Encrypt(id Identity) error {
	if !m.Mode.Has(ModeEncrypted) {
		return nil
	}
	if id.Address() != m.To {
		return ErrInvalidIdentity
	}
	ct, err := id.Encrypt(m.Payload)
	if err != nil {
		return err
	}
	m.Encrypted = ct
	return nil
}

// Decrypt replaces Payload with the identity's decryption of Encrypted.
// No-op when the encrypted bit is unset. The identity's address must match
// To, the recipient.
func (m *Message) Decrypt(id Identity) error {
	if !m.Mode.Has(ModeEncrypted) {
		return nil
	}
	if id.Address() != m.To {
		return ErrInvalidIdentity
	}
	pt, err := id.Decrypt(m.Encrypted)
	if err != nil {
		return err
	}
	m.Payload = pt
	return nil
}
