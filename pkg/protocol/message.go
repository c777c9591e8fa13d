// Package protocol implements the twlv wire envelope: a fixed-layout binary
// frame carrying routing metadata, an optional signature, and a payload that
// is either plaintext or ciphertext depending on the mode bitset.
package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
)

// Fixed envelope layout (88-byte header, then variable command + payload).
// All integer fields are little-endian.
//
//	0        Mode      u8
//	1        TTL       u8
//	2  ..3   Seq       u16 (carries the mode value, see Encode)
//	4  ..13  From      [10]byte
//	14 ..23  To        [10]byte (zero-filled for broadcast)
//	24 ..87  Signature [64]byte (zero-filled when unsigned)
//	88       Command   1-byte length prefix + UTF-8 bytes
//	89+len   Active payload (plaintext or ciphertext per mode)
const (
	HeaderSize    = 88
	AddressSize   = 10
	SignatureSize = 64
	MaxCommandLen = 255

	addressHexLen = AddressSize * 2
)

// Mode is the envelope flag bitset. The zero value is a plain message.
type Mode uint8

const (
	ModePlain     Mode = 0
	ModeEncrypted Mode = 1 << 0
	ModeSigned    Mode = 1 << 1
)

// Has reports whether every bit of f is set.
func (m Mode) Has(f Mode) bool { return m&f == f }

// Set sets the bits of f.
func (m *Mode) Set(f Mode) { *m |= f }

// Clear clears the bits of f.
func (m *Mode) Clear(f Mode) { *m &^= f }

var (
	ErrUnsetFrom        = errors.New("unset from address")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidEncrypted = errors.New("invalid encrypted payload")
	ErrInvalidIdentity  = errors.New("identity does not match message")
	ErrInvalidAddress   = errors.New("invalid address")
	ErrCommandTooLong   = errors.New("command too long")
	ErrShortBuffer      = errors.New("short buffer")
)

// Message is the twlv envelope. Addresses are held in memory as 20-char hex
// strings of the 10 raw bytes that travel on the wire; an empty To means
// broadcast. Exactly one of Payload/Encrypted is authoritative, selected by
// the ModeEncrypted bit. A Message is a mutable value owned by one logical
// flow; use Clone before handing it to a second goroutine.
type Message struct {
	Mode      Mode
	TTL       uint8
	Seq       uint16
	From      string
	To        string
	Command   string
	Payload   []byte
	Encrypted []byte
	Signature []byte
}

// ActivePayload returns whichever of Payload/Encrypted the mode selects.
func (m *Message) ActivePayload() []byte {
	if m.Mode.Has(ModeEncrypted) {
		return m.Encrypted
	}
	return m.Payload
}

// Encode serializes the envelope into a freshly allocated buffer of exactly
// HeaderSize + 1 + len(Command) + len(active payload) bytes.
func (m *Message) Encode() ([]byte, error) {
	if m.From == "" {
		return nil, ErrUnsetFrom
	}
	if m.Mode.Has(ModeSigned) && len(m.Signature) == 0 {
		return nil, ErrInvalidSignature
	}
	if m.Mode.Has(ModeEncrypted) && len(m.Encrypted) == 0 {
		return nil, ErrInvalidEncrypted
	}
	if len(m.Signature) != 0 && len(m.Signature) != SignatureSize {
		return nil, ErrInvalidSignature
	}
	if len(m.Command) > MaxCommandLen {
		return nil, ErrCommandTooLong
	}
	from, err := decodeAddress(m.From)
	if err != nil {
		return nil, err
	}
	to := make([]byte, AddressSize)
	if m.To != "" {
		if to, err = decodeAddress(m.To); err != nil {
			return nil, err
		}
	}

	body := m.ActivePayload()
	buf := make([]byte, HeaderSize+1+len(m.Command)+len(body))
	buf[0] = byte(m.Mode)
	buf[1] = m.TTL
	// The seq slot carries the mode value on the wire; deployed peers expect
	// this exact layout, so Seq itself is never serialized.
	binary.LittleEndian.PutUint16(buf[2:4], uint16(m.Mode))
	copy(buf[4:14], from)
	copy(buf[14:24], to)
	copy(buf[24:HeaderSize], m.Signature)
	buf[HeaderSize] = byte(len(m.Command))
	copy(buf[HeaderSize+1:], m.Command)
	copy(buf[HeaderSize+1+len(m.Command):], body)
	return buf, nil
}

// Decode parses a serialized envelope. Fields are read in wire order through
// a bounds-checked cursor; a buffer shorter than any field fails with
// ErrShortBuffer. Trailing bytes after the command become Encrypted when the
// encrypted bit is set, Payload otherwise. Decode never verifies a signature
// and never decrypts; those are explicit follow-up calls.
func Decode(buf []byte) (*Message, error) {
	r := newReader(buf)
	m := &Message{}

	mode, err := r.readByte()
	if err != nil {
		return nil, err
	}
	m.Mode = Mode(mode)

	if m.TTL, err = r.readByte(); err != nil {
		return nil, err
	}
	if m.Seq, err = r.readUint16(); err != nil {
		return nil, err
	}

	from, err := r.readBytes(AddressSize)
	if err != nil {
		return nil, err
	}
	m.From = hex.EncodeToString(from)

	to, err := r.readBytes(AddressSize)
	if err != nil {
		return nil, err
	}
	if !isZero(to) {
		m.To = hex.EncodeToString(to)
	}

	sig, err := r.readBytes(SignatureSize)
	if err != nil {
		return nil, err
	}
	if !isZero(sig) {
		m.Signature = sig
	}

	cmdLen, err := r.readByte()
	if err != nil {
		return nil, err
	}
	cmd, err := r.readBytes(int(cmdLen))
	if err != nil {
		return nil, err
	}
	m.Command = string(cmd)

	if body := r.rest(); len(body) > 0 {
		if m.Mode.Has(ModeEncrypted) {
			m.Encrypted = body
		} else {
			m.Payload = body
		}
	}
	return m, nil
}

// Clone returns a deep copy, safe to hand to another goroutine.
func (m *Message) Clone() *Message {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	c.Encrypted = append([]byte(nil), m.Encrypted...)
	c.Signature = append([]byte(nil), m.Signature...)
	return &c
}

func decodeAddress(addr string) ([]byte, error) {
	if len(addr) != addressHexLen {
		return nil, ErrInvalidAddress
	}
	raw, err := hex.DecodeString(addr)
	if err != nil {
		return nil, ErrInvalidAddress
	}
	return raw, nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
