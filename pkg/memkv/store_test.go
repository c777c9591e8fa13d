package memkv

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// withClock replaces the store clock so expiry can be tested without sleeps.
func withClock(s *Store) (advance func(d time.Duration)) {
	var mu sync.Mutex
	now := time.Now()
	s.nowFn = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
}

func TestSetGetDelete(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	if created := s.Set("a", []byte("one"), 0); !created {
		t.Fatal("first Set did not report creation")
	}
	if created := s.Set("a", []byte("two"), 0); created {
		t.Fatal("overwrite reported creation")
	}
	v, ok := s.Get("a")
	if !ok || string(v) != "two" {
		t.Fatalf("Get = (%q, %v)", v, ok)
	}
	if !s.Delete("a") {
		t.Fatal("Delete missed existing key")
	}
	if _, ok := s.Get("a"); ok {
		t.Fatal("Get succeeded after Delete")
	}
	if s.Delete("a") {
		t.Fatal("Delete reported success for missing key")
	}
}

func TestSetAfterExpiryCreates(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	advance := withClock(s)

	s.Set("k", []byte("v"), time.Second)
	advance(2 * time.Second)
	if created := s.Set("k", []byte("v"), time.Second); !created {
		t.Fatal("Set over an expired entry did not report creation")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	src := []byte("payload")
	s.Set("k", src, 0)
	src[0] = 'X'

	v, _ := s.Get("k")
	if string(v) != "payload" {
		t.Fatalf("Set did not copy: %q", v)
	}
	v[0] = 'Y'
	v2, _ := s.Get("k")
	if string(v2) != "payload" {
		t.Fatalf("Get did not copy: %q", v2)
	}
}

func TestTTLExpiry(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	advance := withClock(s)

	s.Set("k", []byte("v"), time.Minute)
	if d, ok := s.TTL("k"); !ok || d <= 0 || d > time.Minute {
		t.Fatalf("TTL = (%v, %v)", d, ok)
	}

	advance(30 * time.Second)
	if !s.Exists("k") {
		t.Fatal("key expired early")
	}

	advance(31 * time.Second)
	if s.Exists("k") {
		t.Fatal("key survived past TTL")
	}
	if _, ok := s.TTL("k"); ok {
		t.Fatal("TTL reported expired key as present")
	}
}

func TestExpireRefreshesTTL(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	advance := withClock(s)

	s.Set("k", []byte("v"), time.Minute)
	advance(50 * time.Second)
	if !s.Expire("k", time.Minute) {
		t.Fatal("Expire missed live key")
	}
	advance(50 * time.Second)
	if !s.Exists("k") {
		t.Fatal("key expired despite refreshed TTL")
	}
	advance(11 * time.Second)
	if s.Exists("k") {
		t.Fatal("key survived refreshed TTL")
	}
	if s.Expire("gone", time.Minute) {
		t.Fatal("Expire reported success for missing key")
	}
}

func TestUpdate(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	if s.Update("missing", func(old []byte) []byte { return old }) {
		t.Fatal("Update reported success for missing key")
	}
	s.Set("k", []byte("a"), 0)
	ok := s.Update("k", func(old []byte) []byte {
		return append(old, 'b')
	})
	if !ok {
		t.Fatal("Update missed existing key")
	}
	v, _ := s.Get("k")
	if string(v) != "ab" {
		t.Fatalf("value after Update = %q", v)
	}
}

func TestKeysAndLen(t *testing.T) {
	s := New(Options{})
	defer s.Close()
	advance := withClock(s)

	s.Set("live", []byte("v"), 0)
	s.Set("dying", []byte("v"), time.Second)
	if s.Len() != 2 {
		t.Fatalf("Len = %d, want 2", s.Len())
	}
	advance(2 * time.Second)
	keys := s.Keys()
	if len(keys) != 1 || keys[0] != "live" {
		t.Fatalf("Keys = %v", keys)
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
}

func TestMetrics(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Set("k", []byte("v"), 0)
	s.Get("k")
	s.Get("nope")
	s.Delete("k")

	m := s.Metrics()
	if m.Sets != 1 || m.Hits != 1 || m.Misses != 1 || m.Dels != 1 {
		t.Fatalf("Metrics = %+v", m)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New(Options{Shards: 4})
	defer s.Close()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				k := fmt.Sprintf("w%d-%d", w, i)
				s.Set(k, []byte(k), time.Minute)
				if _, ok := s.Get(k); !ok {
					t.Errorf("lost key %s", k)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	if s.Len() != 8*200 {
		t.Fatalf("Len = %d, want %d", s.Len(), 8*200)
	}
}
