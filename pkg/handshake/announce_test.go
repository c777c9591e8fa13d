package handshake

import (
	"crypto/rand"
	"errors"
	"reflect"
	"testing"
	"time"

	"twlv/pkg/identity"
	"twlv/pkg/peer"
	"twlv/pkg/protocol"
	"twlv/pkg/protocol/codec"
)

func testIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	return id
}

func TestBuildVerifyRoundTrip(t *testing.T) {
	id := testIdentity(t)
	urls := []string{"tcp:1.2.3.4:9", "ws:host/path"}

	a, err := Build(id, "testnet", urls)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p, err := Verify(a, 0)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.Address != id.Address() {
		t.Fatalf("peer address = %q, want %q", p.Address, id.Address())
	}
	if p.NetworkID != "testnet" {
		t.Fatalf("peer network = %q", p.NetworkID)
	}
	if !reflect.DeepEqual(p.URLs, urls) {
		t.Fatalf("peer urls = %v, want %v", p.URLs, urls)
	}
}

func TestVerifyThroughCodec(t *testing.T) {
	id := testIdentity(t)
	a, err := Build(id, "testnet", []string{"mem:node-a"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c, err := codec.CBOR()
	if err != nil {
		t.Fatalf("codec.CBOR: %v", err)
	}
	body, err := c.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Announce
	if err := c.Unmarshal(body, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, err := Verify(got, 0); err != nil {
		t.Fatalf("Verify after codec round trip: %v", err)
	}
}

func TestVerifyDetectsTamper(t *testing.T) {
	id := testIdentity(t)
	a, err := Build(id, "testnet", []string{"tcp:1.2.3.4:9"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	tampered := a
	tampered.Info.URLs = []string{"tcp:6.6.6.6:6"}
	if _, err := Verify(tampered, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Verify err = %v, want ErrBadSignature", err)
	}

	tampered = a
	tampered.Info.NetworkID = "othernet"
	if _, err := Verify(tampered, 0); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("Verify err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsUnsupportedVersion(t *testing.T) {
	id := testIdentity(t)
	a, err := Build(id, "testnet", nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	a.Version = 99
	if _, err := Verify(a, 0); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("Verify err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestVerifyRejectsStaleAnnounce(t *testing.T) {
	id := testIdentity(t)
	enc := id.EncryptionKey()
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("rand: %v", err)
	}
	a := Announce{
		Version: Version,
		Info: peer.Info{
			Address:   id.Address(),
			NetworkID: "testnet",
			PubKey:    id.PublicKey(),
			EncKey:    enc[:],
			Timestamp: time.Now().Add(-time.Hour).UnixMilli(),
		},
		Nonce: nonce,
	}
	sig, err := id.Sign(Transcript(a.Info, a.Nonce))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	a.Sig = sig

	// correctly signed but an hour old
	if _, err := Verify(a, 0); !errors.Is(err, ErrClockSkew) {
		t.Fatalf("Verify err = %v, want ErrClockSkew", err)
	}
	if _, err := Verify(a, 2*time.Hour); err != nil {
		t.Fatalf("Verify within custom skew: %v", err)
	}
}

func TestBuildRequiresPrivateKey(t *testing.T) {
	id := testIdentity(t)
	if _, err := Build(id.Public(), "testnet", nil); !errors.Is(err, identity.ErrNoPrivateKey) {
		t.Fatalf("Build err = %v, want ErrNoPrivateKey", err)
	}
}

func TestWrapMessage(t *testing.T) {
	id := testIdentity(t)
	msg := WrapMessage(id.Address(), 4, []byte("body"))
	if msg.Mode != protocol.ModePlain {
		t.Fatalf("mode = %v, want plain", msg.Mode)
	}
	if msg.To != "" {
		t.Fatalf("to = %q, want broadcast", msg.To)
	}
	if msg.Command != Command || msg.TTL != 4 {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
	if _, err := msg.Encode(); err != nil {
		t.Fatalf("Encode: %v", err)
	}
}
