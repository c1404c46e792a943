package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per key. Buckets idle for longer than
// the idle window are swept once the table grows past sweepAt entries.
type KeyedLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	idle    time.Duration
	sweepAt int
	now     func() time.Time // for testing
}

type bucket struct {
	lim       *rate.Limiter
	perMinute int
	seen      time.Time
}

// NewKeyedLimiter creates an empty limiter table.
func NewKeyedLimiter() *KeyedLimiter {
	return &KeyedLimiter{
		buckets: make(map[string]*bucket),
		idle:    10 * time.Minute,
		sweepAt: 4096,
		now:     time.Now,
	}
}

// Allow reports whether key may make one more request at perMinute requests
// per minute. The burst equals one minute's allowance. A non-positive
// perMinute means unlimited.
func (k *KeyedLimiter) Allow(key string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	b, ok := k.buckets[key]
	if !ok {
		if len(k.buckets) >= k.sweepAt {
			k.sweep(now)
		}
		b = &bucket{lim: rate.NewLimiter(perSecond(perMinute), perMinute), perMinute: perMinute}
		k.buckets[key] = b
	} else if b.perMinute != perMinute {
		b.lim.SetLimitAt(now, perSecond(perMinute))
		b.lim.SetBurstAt(now, perMinute)
		b.perMinute = perMinute
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (k *KeyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// sweep drops idle buckets. Must hold mu.
func (k *KeyedLimiter) sweep(now time.Time) {
	for key, b := range k.buckets {
		if now.Sub(b.seen) > k.idle {
			delete(k.buckets, key)
		}
	}
}

func perSecond(perMinute int) rate.Limit {
	return rate.Limit(float64(perMinute) / 60)
}
