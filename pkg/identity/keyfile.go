package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"twlv/pkg/config"
)

// keyFile is the on-disk JSON form of a full identity. Keys are hex encoded;
// the address is stored for readability and re-checked on load.
type keyFile struct {
	Address     string `json:"address"`
	SignPrivHex string `json:"sign_priv"`
	SignPubHex  string `json:"sign_pub"`
	EncPrivHex  string `json:"enc_priv"`
	EncPubHex   string `json:"enc_pub"`
}

// Save writes the identity to path with owner-only permissions.
func (id *Identity) Save(path string) error {
	if id.signPriv == nil || !id.hasEncPriv {
		return ErrNoPrivateKey
	}
	kf := keyFile{
		Address:     id.address,
		SignPrivHex: hex.EncodeToString(id.signPriv),
		SignPubHex:  hex.EncodeToString(id.signPub),
		EncPrivHex:  hex.EncodeToString(id.encPriv[:]),
		EncPubHex:   hex.EncodeToString(id.encPub[:]),
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(kf)
}

// Load reads an identity keyfile written by Save. The stored address must
// match the one derived from the signing key.
func Load(path string) (*Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var kf keyFile
	if err := json.NewDecoder(f).Decode(&kf); err != nil {
		return nil, err
	}

	signPriv, err := hex.DecodeString(kf.SignPrivHex)
	if err != nil || len(signPriv) != ed25519.PrivateKeySize {
		return nil, ErrBadKeyLength
	}
	signPub, err := hex.DecodeString(kf.SignPubHex)
	if err != nil || len(signPub) != ed25519.PublicKeySize {
		return nil, ErrBadKeyLength
	}
	encPriv, err := hex.DecodeString(kf.EncPrivHex)
	if err != nil || len(encPriv) != 32 {
		return nil, ErrBadKeyLength
	}
	encPub, err := hex.DecodeString(kf.EncPubHex)
	if err != nil || len(encPub) != 32 {
		return nil, ErrBadKeyLength
	}

	id := &Identity{
		address:    AddressFromPubKey(signPub),
		signPub:    signPub,
		signPriv:   signPriv,
		hasEncPriv: true,
	}
	copy(id.encPriv[:], encPriv)
	copy(id.encPub[:], encPub)
	if kf.Address != "" && kf.Address != id.address {
		return nil, errors.New("identity: keyfile address does not match signing key")
	}
	return id, nil
}

// LoadOrGen resolves the node identity from configuration: an existing
// keyfile wins, a missing one is generated and persisted, and an empty
// key_file setting yields an ephemeral identity.
func LoadOrGen(c config.IdentityConfig) (*Identity, error) {
	path := strings.TrimSpace(c.KeyFile)
	if path == "" {
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		zap.L().Info("generated ephemeral identity", zap.String("address", id.Address()))
		return id, nil
	}
	id, err := Load(path)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if id, err = Generate(); err != nil {
		return nil, err
	}
	if err := id.Save(path); err != nil {
		return nil, err
	}
	zap.L().Info("generated new identity",
		zap.String("address", id.Address()), zap.String("key_file", path))
	return id, nil
}
