package cache

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// Cache stores raw fetch bundles keyed by coordinates and units.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.Bundle, bool, error)
	Set(ctx context.Context, key string, value models.Bundle, ttl time.Duration) error
}

// Key builds the cache key for a location and unit system.
func Key(loc models.Location, units models.Units) string {
	return loc.Key() + ":" + string(units)
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are removed on access. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.Bundle
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  time.Now,
	}
}

// Get returns (data, true, nil) on hit, (zero, false, nil) on miss or expiration.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Bundle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Bundle{}, false, nil
	}

	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.Bundle{}, false, nil
	}

	return entry.value, true, nil
}

// Set stores a bundle with the specified TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Bundle, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included until next access.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
