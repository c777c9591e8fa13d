package node

import (
	"sync"
	"time"
)

// tokenBucket shapes relay traffic. Tokens are bytes; the bucket refills at
// rate tokens per second up to capacity.
type tokenBucket struct {
	mu       sync.Mutex
	capacity int64
	tokens   int64
	rate     int64
	last     time.Time

	nowFn func() time.Time
}

func newTokenBucket(ratePerSec, capacity int64) *tokenBucket {
	if capacity <= 0 {
		capacity = ratePerSec
	}
	b := &tokenBucket{
		capacity: capacity,
		tokens:   capacity,
		rate:     ratePerSec,
		nowFn:    time.Now,
	}
	b.last = b.nowFn()
	return b
}

// allow tries to take n tokens. When the bucket is short it reports how long
// the caller would have to wait for the balance to accrue.
func (b *tokenBucket) allow(n int64) (bool, time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFn()
	if dt := now.Sub(b.last); dt > 0 {
		add := b.rate * dt.Nanoseconds() / int64(time.Second)
		if add > 0 {
			b.tokens += add
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.last = now
		}
	}
	if b.tokens >= n {
		b.tokens -= n
		return true, 0
	}
	wait := time.Duration((n - b.tokens) * int64(time.Second) / b.rate)
	return false, wait
}
