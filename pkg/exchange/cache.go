package exchange

import (
	"sync"
	"time"
)

// RateCache manages cached exchange rate quotes to avoid duplicate API calls.
type RateCache struct {
	mu       sync.RWMutex
	cache    map[string]*cachedRate
	cacheTTL time.Duration
}

// cachedRate represents a cached rate with its fetch timestamp
type cachedRate struct {
	rate      float64
	fetchedAt time.Time
}

// NewRateCache creates a new rate cache with the given freshness window.
func NewRateCache(cacheTTL time.Duration) *RateCache {
	return &RateCache{
		cache:    make(map[string]*cachedRate),
		cacheTTL: cacheTTL,
	}
}

// Get retrieves a cached rate if it's still fresh, otherwise returns false.
func (c *RateCache) Get(pair string) (float64, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[pair]
	if !exists {
		return 0, time.Time{}, false
	}

	if time.Since(cached.fetchedAt) > c.cacheTTL {
		return 0, time.Time{}, false
	}

	return cached.rate, cached.fetchedAt, true
}

// GetStale retrieves a cached rate regardless of freshness. The oracle falls
// back to it when the price feed is down: a stale quote beats halting
// settlement.
func (c *RateCache) GetStale(pair string) (float64, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, exists := c.cache[pair]
	if !exists {
		return 0, time.Time{}, false
	}

	return cached.rate, cached.fetchedAt, true
}

// Set stores a rate in the cache with the current timestamp.
func (c *RateCache) Set(pair string, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache[pair] = &cachedRate{
		rate:      rate,
		fetchedAt: time.Now(),
	}
}

// Clear removes all cached entries
func (c *RateCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache = make(map[string]*cachedRate)
}
