package transports

import "testing"

func TestNewByProto(t *testing.T) {
	for _, proto := range []string{"tcp", "udp", "ws", "quic", "mem"} {
		tr, err := New(proto)
		if err != nil {
			t.Fatalf("New(%q): %v", proto, err)
		}
		if tr.Proto() != proto {
			t.Fatalf("New(%q).Proto() = %q", proto, tr.Proto())
		}
	}
	if _, err := New("carrier-pigeon"); err == nil {
		t.Fatal("New with unknown proto succeeded")
	}
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	for _, proto := range []string{"tcp", "udp", "ws", "quic", "mem"} {
		tr, err := r.Get(proto)
		if err != nil {
			t.Fatalf("Get(%q): %v", proto, err)
		}
		if tr.Proto() != proto {
			t.Fatalf("Get(%q).Proto() = %q", proto, tr.Proto())
		}
	}
}
