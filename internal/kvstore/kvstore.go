// Package kvstore implements the fast KV store contract of spec.md
// §6: set_if_absent/get for the idempotency cache. The contract's
// pub/sub half is not here; internal/fanout provides it. No durability is assumed or provided — losing
// an idempotency cache entry is safe by design (spec.md §4.3 step 4).
package kvstore

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// DefaultTTL is the idempotency cache's default entry lifetime
// (spec.md §4.3 "default 1 hour").
const DefaultTTL = time.Hour

const cleanupInterval = 10 * time.Minute

// Store is the fast KV store's set_if_absent/get surface, grounded on
// the teacher's internal/orders/service_core.go OrderCache pattern
// (patrickmn/go-cache with an expiration and cleanup interval).
type Store struct {
	c *cache.Cache
}

// New creates a Store whose entries expire after ttl.
func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{c: cache.New(ttl, cleanupInterval)}
}

// SetIfAbsent writes value under key only if key is not already
// present, returning false without writing if it is — go-cache's Add
// already has exactly this single-writer-wins semantics (spec.md §5
// "entries are single-writer: first writer wins").
func (s *Store) SetIfAbsent(key, value string) (wrote bool) {
	return s.c.Add(key, value, cache.DefaultExpiration) == nil
}

// Get returns the value for key and whether it was present
// (unexpired).
func (s *Store) Get(key string) (string, bool) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}
