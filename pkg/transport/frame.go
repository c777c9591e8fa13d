package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// MaxFrameSize bounds a single frame on stream transports. Oversized
// length prefixes abort the conn instead of allocating.
const MaxFrameSize = 1 << 24

// ErrFrameTooBig is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooBig = errors.New("transport: frame exceeds size limit")

// WriteFrame writes one length-prefixed frame (u32 LE) and flushes.
func WriteFrame(bw *bufio.Writer, b []byte) error {
	if len(b) > MaxFrameSize {
		return ErrFrameTooBig
	}
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := bw.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(b); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadFrame reads one length-prefixed frame (u32 LE).
func ReadFrame(br *bufio.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(br, lenbuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenbuf[:])
	if n > MaxFrameSize {
		return nil, ErrFrameTooBig
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
