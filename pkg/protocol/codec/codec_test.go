package codec

import (
	"bytes"
	"testing"
)

func TestJSONCodec(t *testing.T) {
	c := JSON()
	in := map[string]any{"a": 1, "b": "x"}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["a"].(float64) != 1 || out["b"].(string) != "x" {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestCBORCodec(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	in := map[string]any{"n": 42}
	b, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]uint64
	if err := c.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["n"] != 42 {
		t.Fatalf("roundtrip mismatch: %#v", out)
	}
}

func TestCBORDeterministic(t *testing.T) {
	c, err := CBOR()
	if err != nil {
		t.Fatalf("new cbor: %v", err)
	}
	in := map[string]any{"z": 1, "a": 2, "m": 3}
	first, err := c.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for i := 0; i < 8; i++ {
		again, err := c.Marshal(in)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding not deterministic: %x vs %x", first, again)
		}
	}
}

func TestRegistry(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if r.Get("application/json") == nil {
		t.Fatal("json codec not registered")
	}
	if r.Get("application/cbor") == nil {
		t.Fatal("cbor codec not registered")
	}
	if r.Get("application/x-unknown") != nil {
		t.Fatal("unknown content type should return nil")
	}
}
