// Package peers maintains the table of currently known remote nodes. Entries
// age out after defaultPeerTTL unless refreshed by traffic or announces.
package peers

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"twlv/pkg/memkv"
	"twlv/pkg/peer"
)

// defaultPeerTTL defines the inactivity window before a peer entry expires.
const defaultPeerTTL = 5 * time.Minute

// Store keeps peer records in the in-memory KV, keyed by address.
type Store struct {
	kv  *memkv.Store
	ttl time.Duration

	// index of known addresses; memkv has no ordered iteration
	idxMu sync.RWMutex
	index map[string]struct{}
}

func NewStore(kv *memkv.Store, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultPeerTTL
	}
	return &Store{kv: kv, ttl: ttl, index: make(map[string]struct{})}
}

func keyPeer(address string) string { return "peer:" + address }

// Upsert validates info and inserts or refreshes the corresponding record.
// For an existing record only the urls and timestamp are replaced, and only
// when the announce is not older than the stored one. The stored peer is
// returned either way.
func (s *Store) Upsert(info peer.Info) (*peer.Peer, error) {
	if _, err := peer.New(info); err != nil {
		return nil, err
	}
	key := keyPeer(info.Address)
	updated := s.kv.Update(key, func(old []byte) []byte {
		var cur peer.Info
		if err := json.Unmarshal(old, &cur); err != nil {
			b, _ := json.Marshal(info)
			return b
		}
		if info.Timestamp < cur.Timestamp {
			return old
		}
		cur.URLs = append([]string(nil), info.URLs...)
		cur.Timestamp = info.Timestamp
		b, _ := json.Marshal(cur)
		return b
	})
	if !updated {
		b, _ := json.Marshal(info)
		s.kv.Set(key, b, s.ttl)
	} else {
		s.kv.Expire(key, s.ttl)
	}
	s.idxMu.Lock()
	s.index[info.Address] = struct{}{}
	s.idxMu.Unlock()
	zap.L().Debug("peer upsert",
		zap.String("peer", info.Address),
		zap.Strings("urls", info.URLs))

	p, ok := s.Get(info.Address)
	if !ok {
		// raced with expiry between write and read; rebuild from input
		return peer.New(info)
	}
	return p, nil
}

// Get returns the live record for address.
func (s *Store) Get(address string) (*peer.Peer, bool) {
	b, ok := s.kv.Get(keyPeer(address))
	if !ok {
		return nil, false
	}
	var info peer.Info
	if err := json.Unmarshal(b, &info); err != nil {
		return nil, false
	}
	p, err := peer.New(info)
	if err != nil {
		return nil, false
	}
	return p, true
}

// Touch refreshes the TTL for address, keeping active peers alive.
func (s *Store) Touch(address string) bool {
	ok := s.kv.Expire(keyPeer(address), s.ttl)
	if ok {
		zap.L().Debug("peer touch", zap.String("peer", address))
	}
	return ok
}

// Delete removes the record for address.
func (s *Store) Delete(address string) {
	s.kv.Delete(keyPeer(address))
	s.idxMu.Lock()
	delete(s.index, address)
	s.idxMu.Unlock()
	zap.L().Debug("peer delete", zap.String("peer", address))
}

// Addresses returns the sorted addresses of live peers. Stale index entries
// are pruned as a side effect.
func (s *Store) Addresses() []string {
	s.idxMu.RLock()
	cand := make([]string, 0, len(s.index))
	for a := range s.index {
		cand = append(cand, a)
	}
	s.idxMu.RUnlock()

	out := cand[:0]
	var dead []string
	for _, a := range cand {
		if s.kv.Exists(keyPeer(a)) {
			out = append(out, a)
		} else {
			dead = append(dead, a)
		}
	}
	if len(dead) > 0 {
		s.idxMu.Lock()
		for _, a := range dead {
			delete(s.index, a)
		}
		s.idxMu.Unlock()
	}
	sort.Strings(out)
	return out
}

// List returns the live peer records, ordered by address.
func (s *Store) List() []*peer.Peer {
	addrs := s.Addresses()
	out := make([]*peer.Peer, 0, len(addrs))
	for _, a := range addrs {
		if p, ok := s.Get(a); ok {
			out = append(out, p)
		}
	}
	return out
}

// Len counts live peers.
func (s *Store) Len() int { return len(s.Addresses()) }
