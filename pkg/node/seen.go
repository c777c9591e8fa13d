package node

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"twlv/pkg/memkv"
)

const defaultSeenTTL = 2 * time.Minute

// seenCache suppresses repeated handling of a frame while it floods through
// the mesh. Keys are SHA-256 digests of the frame with the hop-budget byte
// masked, so copies of one message that took paths of different length still
// collide.
type seenCache struct {
	kv  *memkv.Store
	ttl time.Duration
}

func newSeenCache(kv *memkv.Store, ttl time.Duration) *seenCache {
	if ttl <= 0 {
		ttl = defaultSeenTTL
	}
	return &seenCache{kv: kv, ttl: ttl}
}

// Observe records the frame and reports whether it was already seen within
// the ttl window.
func (c *seenCache) Observe(frame []byte) bool {
	h := sha256.New()
	if len(frame) >= 2 {
		h.Write(frame[:1])
		h.Write([]byte{0}) // hop budget masked
		h.Write(frame[2:])
	} else {
		h.Write(frame)
	}
	key := "seen:" + hex.EncodeToString(h.Sum(nil))
	return !c.kv.Set(key, nil, c.ttl)
}
