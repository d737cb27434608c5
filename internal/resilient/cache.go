package resilient

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// entry is what the TTL cache actually stores. Negative entries mark a
// confirmed not-found result so repeated misses do not hammer the
// provider.
type entry[T any] struct {
	value    T
	negative bool
}

// TTLCache is a keyed cache with distinct positive and negative entry
// kinds and independently configured TTLs. It is safe for concurrent
// use.
type TTLCache[T any] struct {
	store       *gocache.Cache
	positiveTTL time.Duration
	negativeTTL time.Duration
}

// NewTTLCache creates a cache with the given positive and negative
// TTLs. Non-positive TTLs disable expiry for that entry kind.
func NewTTLCache[T any](positiveTTL, negativeTTL time.Duration) *TTLCache[T] {
	cleanup := positiveTTL
	if negativeTTL > 0 && (cleanup <= 0 || negativeTTL < cleanup) {
		cleanup = negativeTTL
	}
	if cleanup <= 0 {
		cleanup = time.Hour
	}
	return &TTLCache[T]{
		store:       gocache.New(gocache.NoExpiration, cleanup*2),
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
	}
}

// Get looks up a key. The second result reports a negative (not-found)
// entry; the third reports whether any entry was present.
func (c *TTLCache[T]) Get(key string) (value T, negative, found bool) {
	raw, ok := c.store.Get(key)
	if !ok {
		var zero T
		return zero, false, false
	}
	e := raw.(entry[T])
	return e.value, e.negative, true
}

// SetPositive stores a successful result under the positive TTL.
func (c *TTLCache[T]) SetPositive(key string, value T) {
	c.store.Set(key, entry[T]{value: value}, ttlOrForever(c.positiveTTL))
}

// SetNegative stores a not-found marker under the negative TTL.
func (c *TTLCache[T]) SetNegative(key string) {
	var zero T
	c.store.Set(key, entry[T]{value: zero, negative: true}, ttlOrForever(c.negativeTTL))
}

// Delete removes a key, if present.
func (c *TTLCache[T]) Delete(key string) {
	c.store.Delete(key)
}

// Flush removes all entries.
func (c *TTLCache[T]) Flush() {
	c.store.Flush()
}

// ItemCount returns the number of entries, including not yet evicted
// expired ones.
func (c *TTLCache[T]) ItemCount() int {
	return c.store.ItemCount()
}

func ttlOrForever(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}
