package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	priv, pub, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	plaintext := []byte("the quick brown fox")

	ct, err := Encrypt(pub, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Contains(ct, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}
	pt, err := Decrypt(priv, ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Fatalf("roundtrip = %q, want %q", pt, plaintext)
	}
}

func TestDecryptWrongKey(t *testing.T) {
	_, pub, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	otherPriv, _, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ct, err := Encrypt(pub, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := Decrypt(otherPriv, ct); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("decrypt with wrong key: err = %v, want %v", err, ErrDecryptFailed)
	}
}

func TestDecryptTampered(t *testing.T) {
	priv, pub, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ct, err := Encrypt(pub, []byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	ct[len(ct)-1] ^= 0x01
	if _, err := Decrypt(priv, ct); !errors.Is(err, ErrDecryptFailed) {
		t.Fatalf("decrypt tampered: err = %v, want %v", err, ErrDecryptFailed)
	}
}

func TestDecryptShortInput(t *testing.T) {
	var priv [32]byte
	if _, err := Decrypt(priv, make([]byte, 10)); !errors.Is(err, ErrShortCiphertext) {
		t.Fatalf("short input: err = %v, want %v", err, ErrShortCiphertext)
	}
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	priv, pub, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	ct, err := Encrypt(pub, nil)
	if err != nil {
		t.Fatalf("encrypt empty: %v", err)
	}
	pt, err := Decrypt(priv, ct)
	if err != nil {
		t.Fatalf("decrypt empty: %v", err)
	}
	if len(pt) != 0 {
		t.Fatalf("roundtrip of empty plaintext = %q", pt)
	}
}
