package identity

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// Cache defaults.
const (
	DefaultCacheSize = 10_000
	DefaultCacheTTL  = 5 * time.Minute
)

// CachingResolver fronts a slower Resolver with a size and TTL bounded cache.
// Concurrent misses for the same key share one upstream lookup. Failed
// lookups are not cached.
type CachingResolver struct {
	next     Resolver
	cache    *expirable.LRU[string, Identity]
	group    singleflight.Group
	observer func(result string)
}

// CacheOption configures a CachingResolver.
type CacheOption func(*CachingResolver)

// WithObserver reports "hit", "miss" or "error" for every lookup.
func WithObserver(f func(result string)) CacheOption {
	return func(c *CachingResolver) { c.observer = f }
}

// NewCachingResolver wraps next. Non-positive size or ttl use the defaults.
func NewCachingResolver(next Resolver, size int, ttl time.Duration, opts ...CacheOption) *CachingResolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &CachingResolver{
		next:     next,
		cache:    expirable.NewLRU[string, Identity](size, nil, ttl),
		observer: func(string) {},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Resolve implements Resolver.
func (c *CachingResolver) Resolve(ctx context.Context, credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, Missing()
	}
	key := KeyHash(credential)
	if id, ok := c.cache.Get(key); ok {
		c.observer("hit")
		return id, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		id, err := c.next.Resolve(context.WithoutCancel(ctx), credential)
		if err != nil {
			return Identity{}, err
		}
		c.cache.Add(key, id)
		return id, nil
	})
	if err != nil {
		c.observer("error")
		return Identity{}, err
	}
	c.observer("miss")
	return v.(Identity), nil
}

// Invalidate drops a credential from the cache.
func (c *CachingResolver) Invalidate(credential string) {
	c.cache.Remove(KeyHash(credential))
}

// InvalidateFingerprint drops every cached identity issued for the key with
// the given fingerprint and reports how many were removed.
func (c *CachingResolver) InvalidateFingerprint(fingerprint string) int {
	n := 0
	for _, k := range c.cache.Keys() {
		if id, ok := c.cache.Peek(k); ok && id.Fingerprint == fingerprint {
			if c.cache.Remove(k) {
				n++
			}
		}
	}
	return n
}

// Revocation announces that a key was revoked.
type Revocation struct {
	Fingerprint string    `json:"keyFingerprint"`
	RevokedAt   time.Time `json:"revokedAt"`
}

// DefaultRevocationSubject is where revocations are published.
const DefaultRevocationSubject = "groundwork.keys.revoked"

// Len is the number of cached identities.
func (c *CachingResolver) Len() int { return c.cache.Len() }
