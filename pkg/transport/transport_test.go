package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"reflect"
	"testing"
)

func TestSplitURL(t *testing.T) {
	cases := []struct {
		url     string
		proto   string
		address string
		wantErr bool
	}{
		{url: "tcp:1.2.3.4:9", proto: "tcp", address: "1.2.3.4:9"},
		{url: "ws:host/path", proto: "ws", address: "host/path"},
		{url: "mem:node-a", proto: "mem", address: "node-a"},
		{url: "noscheme", wantErr: true},
		{url: ":addr", wantErr: true},
		{url: "tcp:", wantErr: true},
		{url: "", wantErr: true},
	}
	for _, tc := range cases {
		proto, address, err := SplitURL(tc.url)
		if tc.wantErr {
			if !errors.Is(err, ErrBadURL) {
				t.Fatalf("SplitURL(%q) err = %v, want ErrBadURL", tc.url, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("SplitURL(%q): %v", tc.url, err)
		}
		if proto != tc.proto || address != tc.address {
			t.Fatalf("SplitURL(%q) = (%q, %q), want (%q, %q)", tc.url, proto, address, tc.proto, tc.address)
		}
		if got := JoinURL(proto, address); got != tc.url {
			t.Fatalf("JoinURL round trip = %q, want %q", got, tc.url)
		}
	}
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	bw := bufio.NewWriter(&buf)
	frames := [][]byte{
		[]byte("first"),
		{},
		bytes.Repeat([]byte{0xab}, 100*1024),
	}
	for _, f := range frames {
		if err := WriteFrame(bw, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	br := bufio.NewReader(&buf)
	for i, want := range frames {
		got, err := ReadFrame(br)
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d: got %d bytes, want %d", i, len(got), len(want))
		}
	}
	if _, err := ReadFrame(br); err != io.EOF {
		t.Fatalf("ReadFrame on empty stream err = %v, want EOF", err)
	}
}

func TestReadFrameRejectsOversize(t *testing.T) {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], MaxFrameSize+1)
	br := bufio.NewReader(bytes.NewReader(hdr[:]))
	if _, err := ReadFrame(br); !errors.Is(err, ErrFrameTooBig) {
		t.Fatalf("err = %v, want ErrFrameTooBig", err)
	}
}

func TestReadFrameTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], 10)
	buf.Write(hdr[:])
	buf.Write([]byte("abc"))
	if _, err := ReadFrame(bufio.NewReader(&buf)); err != io.ErrUnexpectedEOF {
		t.Fatalf("err = %v, want ErrUnexpectedEOF", err)
	}
}

type fakeTransport struct{ proto string }

func (f *fakeTransport) Proto() string { return f.proto }

func (f *fakeTransport) Dial(context.Context, string) (Conn, error) {
	return nil, errors.New("fake")
}

func (f *fakeTransport) Listen(context.Context, string) (Listener, error) {
	return nil, errors.New("fake")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	built := 0
	r.Register("fake", func() (Transport, error) {
		built++
		return &fakeTransport{proto: "fake"}, nil
	})

	a, err := r.Get("fake")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, err := r.Get("fake")
	if err != nil {
		t.Fatalf("Get again: %v", err)
	}
	if a != b {
		t.Fatal("Get returned distinct instances for the same proto")
	}
	if built != 1 {
		t.Fatalf("factory ran %d times, want 1", built)
	}

	if _, err := r.Get("nope"); err == nil {
		t.Fatal("Get for unregistered proto succeeded")
	}

	r.Register("broken", func() (Transport, error) { return nil, errors.New("boom") })
	if _, err := r.Get("broken"); err == nil {
		t.Fatal("Get with failing factory succeeded")
	}

	if got, want := r.Protos(), []string{"broken", "fake"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Protos = %v, want %v", got, want)
	}
	if got := r.Active(); len(got) != 1 || got[0] != a {
		t.Fatalf("Active = %v, want just the fake transport", got)
	}
}
