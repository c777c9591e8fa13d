package protocol

import "encoding/binary"

// reader is a bounds-checked cursor over a decode buffer. Every read fails
// with ErrShortBuffer on truncated input instead of panicking.
type reader struct {
	buf []byte
	off int
}

func newReader(buf []byte) *reader { return &reader{buf: buf} }

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrShortBuffer
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, ErrShortBuffer
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

// readBytes returns a copy of the next n bytes.
func (r *reader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrShortBuffer
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out, nil
}

// rest returns a copy of all unread bytes and exhausts the cursor.
func (r *reader) rest() []byte {
	out := make([]byte, r.remaining())
	copy(out, r.buf[r.off:])
	r.off = len(r.buf)
	return out
}
