package rates

import (
	"sync"
	"time"
)

const (
	cacheTTL        = 24 * time.Hour
	sweepInterval   = time.Hour
)

type cacheKey struct {
	currency string
	date     string
}

type cacheEntry struct {
	quote     Quote
	createdAt time.Time
}

// quoteCache is a process-wide TTL cache keyed by (currency, date).
// Entries are immutable for a given key; concurrent writers are idempotent.
type quoteCache struct {
	mu        sync.Mutex
	entries   map[cacheKey]cacheEntry
	lastSweep time.Time
}

func newQuoteCache() *quoteCache {
	return &quoteCache{entries: make(map[cacheKey]cacheEntry)}
}

func (c *quoteCache) get(currency, date string) (Quote, bool) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Lazy eviction; full sweep at most hourly.
	if c.lastSweep.IsZero() || now.Sub(c.lastSweep) > sweepInterval {
		for k, e := range c.entries {
			if now.Sub(e.createdAt) > cacheTTL {
				delete(c.entries, k)
			}
		}
		c.lastSweep = now
	}

	key := cacheKey{currency: currency, date: date}
	ent, ok := c.entries[key]
	if !ok {
		return Quote{}, false
	}
	if now.Sub(ent.createdAt) > cacheTTL {
		delete(c.entries, key)
		return Quote{}, false
	}
	return ent.quote, true
}

func (c *quoteCache) put(currency, date string, q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{currency: currency, date: date}] = cacheEntry{quote: q, createdAt: time.Now()}
}
