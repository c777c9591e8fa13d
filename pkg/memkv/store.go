// Package memkv provides a thread-safe in-memory KV store with per-key TTL.
// It backs the peer table and the relay dedup cache: small values, frequent
// reads, keys that age out on their own.
//
// Keys are spread over a fixed set of RW-mutex shards. Expired entries are
// dropped lazily on access and by a background sweeper. Values are copied on
// Set and Get, so callers never share memory with the store.
package memkv

import (
	"sync"
	"sync/atomic"
	"time"
)

type Options struct {
	Shards        int           // shard count, default 64
	SweepInterval time.Duration // background sweep period, default 30s
}

func (o Options) withDefaults() Options {
	if o.Shards <= 0 {
		o.Shards = 64
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	return o
}

type Store struct {
	opts   Options
	shards []shard
	stop   chan struct{}
	wg     sync.WaitGroup

	nowFn func() time.Time

	mSets    atomic.Uint64
	mGets    atomic.Uint64
	mHits    atomic.Uint64
	mMisses  atomic.Uint64
	mDels    atomic.Uint64
	mExpired atomic.Uint64
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*entry
}

type entry struct {
	val      []byte
	expireAt int64 // unix nano, 0 = no expiry
}

func New(opts Options) *Store {
	opts = opts.withDefaults()
	s := &Store{
		opts:   opts,
		shards: make([]shard, opts.Shards),
		stop:   make(chan struct{}),
		nowFn:  time.Now,
	}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*entry)
	}
	s.wg.Add(1)
	go s.sweeper()
	return s
}

// Close stops the background sweeper. The store stays usable; entries then
// expire lazily only.
func (s *Store) Close() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
	// FNV-1a 64
	var h uint64 = 1469598103934665603
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= 1099511628211
	}
	return &s.shards[h%uint64(len(s.shards))]
}

func (s *Store) expired(e *entry, now int64) bool {
	return e.expireAt != 0 && e.expireAt <= now
}

// Set stores a copy of val under key. ttl <= 0 means no expiry.
// Returns true when the key was created rather than overwritten; an expired
// entry that has not been swept yet counts as absent.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
	now := s.nowFn()
	var expAt int64
	if ttl > 0 {
		expAt = now.Add(ttl).UnixNano()
	}
	v := make([]byte, len(val))
	copy(v, val)

	sh := s.shardFor(key)
	sh.mu.Lock()
	old, ok := sh.m[key]
	existed := ok && !s.expired(old, now.UnixNano())
	sh.m[key] = &entry{val: v, expireAt: expAt}
	sh.mu.Unlock()
	s.mSets.Add(1)
	return !existed
}

// Get returns a copy of the value and whether the key is present.
func (s *Store) Get(key string) ([]byte, bool) {
	sh := s.shardFor(key)
	now := s.nowFn().UnixNano()

	// Capture the fields under the lock; Update and Expire mutate entries
	// in place.
	sh.mu.RLock()
	e, ok := sh.m[key]
	var val []byte
	var expAt int64
	if ok {
		val, expAt = e.val, e.expireAt
	}
	sh.mu.RUnlock()

	s.mGets.Add(1)
	if !ok {
		s.mMisses.Add(1)
		return nil, false
	}
	if expAt != 0 && expAt <= now {
		s.dropExpired(sh, key)
		s.mMisses.Add(1)
		return nil, false
	}
	out := make([]byte, len(val))
	copy(out, val)
	s.mHits.Add(1)
	return out, true
}

// Exists reports whether key is present and not expired.
func (s *Store) Exists(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Update applies fn to the current value under the shard lock. It returns
// false when the key is missing or expired. The new value is copied.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
	sh := s.shardFor(key)
	now := s.nowFn().UnixNano()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return false
	}
	if s.expired(e, now) {
		delete(sh.m, key)
		s.mExpired.Add(1)
		return false
	}
	nv := fn(e.val)
	buf := make([]byte, len(nv))
	copy(buf, nv)
	e.val = buf
	return true
}

// Delete removes key. Returns true if it was present.
func (s *Store) Delete(key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	_, ok := sh.m[key]
	if ok {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
	if ok {
		s.mDels.Add(1)
	}
	return ok
}

// Expire resets the TTL for key. ttl <= 0 deletes it.
// Returns false when the key is missing or already expired.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		return s.Delete(key)
	}
	sh := s.shardFor(key)
	now := s.nowFn().UnixNano()
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.m[key]
	if !ok {
		return false
	}
	if s.expired(e, now) {
		delete(sh.m, key)
		s.mExpired.Add(1)
		return false
	}
	e.expireAt = s.nowFn().Add(ttl).UnixNano()
	return true
}

// TTL returns the remaining lifetime. ok=true with zero duration means the
// key has no expiry.
func (s *Store) TTL(key string) (time.Duration, bool) {
	sh := s.shardFor(key)
	now := s.nowFn().UnixNano()
	sh.mu.RLock()
	e, ok := sh.m[key]
	var expAt int64
	if ok {
		expAt = e.expireAt
	}
	sh.mu.RUnlock()
	if !ok {
		return 0, false
	}
	if expAt == 0 {
		return 0, true
	}
	if expAt <= now {
		s.dropExpired(sh, key)
		return 0, false
	}
	return time.Duration(expAt - now), true
}

// Keys returns a snapshot of live keys, in no particular order.
func (s *Store) Keys() []string {
	now := s.nowFn().UnixNano()
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, e := range sh.m {
			if !s.expired(e, now) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len counts live keys.
func (s *Store) Len() int {
	now := s.nowFn().UnixNano()
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for _, e := range sh.m {
			if !s.expired(e, now) {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}

func (s *Store) dropExpired(sh *shard, key string) {
	now := s.nowFn().UnixNano()
	sh.mu.Lock()
	if e, ok := sh.m[key]; ok && s.expired(e, now) {
		delete(sh.m, key)
		s.mExpired.Add(1)
	}
	sh.mu.Unlock()
}

func (s *Store) sweeper() {
	defer s.wg.Done()
	t := time.NewTicker(s.opts.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			now := s.nowFn().UnixNano()
			for i := range s.shards {
				sh := &s.shards[i]
				sh.mu.Lock()
				for k, e := range sh.m {
					if s.expired(e, now) {
						delete(sh.m, k)
						s.mExpired.Add(1)
					}
				}
				sh.mu.Unlock()
			}
		}
	}
}

// Stats is a point-in-time metrics snapshot.
type Stats struct {
	Sets    uint64
	Gets    uint64
	Hits    uint64
	Misses  uint64
	Dels    uint64
	Expired uint64
}

func (s *Store) Metrics() Stats {
	return Stats{
		Sets:    s.mSets.Load(),
		Gets:    s.mGets.Load(),
		Hits:    s.mHits.Load(),
		Misses:  s.mMisses.Load(),
		Dels:    s.mDels.Load(),
		Expired: s.mExpired.Load(),
	}
}
