package fallback

import (
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/jonboulle/clockwork"

	"github.com/equiclimate/enrich-cli/internal/model"
)

// Cache stores resolved country-level measurement groups so the subdivisions
// of one country don't refetch the same provider data. Keys are
// "provider|country|year".
type Cache interface {
	Get(key string) (model.Measurements, bool)
	Put(key string, m model.Measurements)
}

type cacheEntry struct {
	m         model.Measurements
	expiresAt time.Time
}

// LRUCache is a bounded LRU with per-entry TTL.
type LRUCache struct {
	lru   *lru.Cache
	ttl   time.Duration
	clock clockwork.Clock
}

// NewLRUCache creates a cache holding up to size entries, each valid for ttl.
// A nil clock uses real time.
func NewLRUCache(size int, ttl time.Duration, clock clockwork.Clock) (*LRUCache, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	inner, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{lru: inner, ttl: ttl, clock: clock}, nil
}

// Get returns the cached measurements for key if present and unexpired.
// Expired entries are evicted on read.
func (c *LRUCache) Get(key string) (model.Measurements, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return model.Measurements{}, false
	}
	entry := v.(cacheEntry)
	if c.clock.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return model.Measurements{}, false
	}
	return entry.m, true
}

// Put stores measurements under key with the configured TTL.
func (c *LRUCache) Put(key string, m model.Measurements) {
	c.lru.Add(key, cacheEntry{m: m, expiresAt: c.clock.Now().Add(c.ttl)})
}

// nopCache disables caching; used when the cache TTL is configured to zero.
type nopCache struct{}

func (nopCache) Get(string) (model.Measurements, bool) { return model.Measurements{}, false }
func (nopCache) Put(string, model.Measurements)        {}
