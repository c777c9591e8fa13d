// Package directory persists accepted announces on disk. It complements the
// in-memory peer table: records survive restarts and seed outbound dials.
// Every stored announce keeps its signature and is re-verified on read, so a
// corrupted or hand-edited database cannot inject peers.
package directory

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"twlv/pkg/handshake"
	"twlv/pkg/peer"
)

var bucketAnnounces = []byte("announces")

// Store is a bbolt-backed map of address to signed announce.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the directory database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAnnounces)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put stores the announce after verifying its signature. Announces older
// than the stored record are ignored. Returns true when the record was
// written.
func (s *Store) Put(a handshake.Announce) (bool, error) {
	if _, err := handshake.VerifySignature(a); err != nil {
		return false, err
	}
	written := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketAnnounces)
		key := []byte(a.Info.Address)
		if existing := bkt.Get(key); existing != nil {
			var old handshake.Announce
			if json.Unmarshal(existing, &old) == nil && old.Info.Timestamp >= a.Info.Timestamp {
				return nil
			}
		}
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		written = true
		return bkt.Put(key, data)
	})
	if err != nil {
		return false, err
	}
	if written {
		zap.L().Debug("directory put",
			zap.String("peer", a.Info.Address),
			zap.Strings("urls", a.Info.URLs))
	}
	return written, nil
}

// Get returns the stored announce for address if present and still valid.
func (s *Store) Get(address string) (handshake.Announce, bool) {
	var a handshake.Announce
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAnnounces).Get([]byte(address))
		if data == nil {
			return errNotFound
		}
		return json.Unmarshal(data, &a)
	})
	if err != nil {
		return handshake.Announce{}, false
	}
	if _, err := handshake.VerifySignature(a); err != nil {
		return handshake.Announce{}, false
	}
	return a, true
}

// Peer returns the peer record for address, rebuilt from its announce.
func (s *Store) Peer(address string) (*peer.Peer, bool) {
	a, ok := s.Get(address)
	if !ok {
		return nil, false
	}
	p, err := handshake.VerifySignature(a)
	if err != nil {
		return nil, false
	}
	return p, true
}

// All returns every valid stored announce, ordered by address.
func (s *Store) All() []handshake.Announce {
	var out []handshake.Announce
	_ = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAnnounces).ForEach(func(_, v []byte) error {
			var a handshake.Announce
			if json.Unmarshal(v, &a) != nil {
				return nil
			}
			if _, err := handshake.VerifySignature(a); err != nil {
				return nil
			}
			out = append(out, a)
			return nil
		})
	})
	return out
}

// Addresses returns the addresses of all valid stored announces, sorted.
func (s *Store) Addresses() []string {
	all := s.All()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.Info.Address)
	}
	return out
}

// Delete removes the record for address.
func (s *Store) Delete(address string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAnnounces).Delete([]byte(address))
	})
}

// Len counts stored records, including any that would fail re-verification.
func (s *Store) Len() int {
	n := 0
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketAnnounces).Stats().KeyN
		return nil
	})
	return n
}

type dirError string

func (e dirError) Error() string { return string(e) }

const errNotFound = dirError("directory: not found")
