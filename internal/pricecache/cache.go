// Package pricecache keeps last-known pair prices for a short TTL so a
// decision cycle does not hit the exchange twice for the same quote.
package pricecache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gpreviti/cryptomind/pkg/logger"
)

// DefaultTTL is how long a cached price stays valid.
const DefaultTTL = 60 * time.Second

type entry struct {
	price     float64
	fetchedAt time.Time
}

// FetchFunc resolves a fresh price for a pair.
type FetchFunc func(ctx context.Context, pair string) (float64, error)

// Cache is a TTL map from pair ("BASE/QUOTE") to last-known price.
// Safe for concurrent use; writes to the same key are last-write-wins by
// fetch timestamp.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached price when present and fresh. Stale entries are
// treated as absent.
func (c *Cache) Get(pair string) (float64, bool) {
	c.mu.RLock()
	e, ok := c.entries[pair]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.fetchedAt) > c.ttl {
		return 0, false
	}
	return e.price, true
}

// Put stores a price fetched now. An entry with a newer fetch time is
// never overwritten by an older concurrent write.
func (c *Cache) Put(pair string, price float64) {
	c.putAt(pair, price, c.now())
}

func (c *Cache) putAt(pair string, price float64, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.entries[pair]; ok && cur.fetchedAt.After(at) {
		return
	}
	c.entries[pair] = entry{price: price, fetchedAt: at}
}

// RefreshStale fetches fresh prices for every pair whose entry is missing
// or stale, concurrently. A failed fetch leaves that pair's entry as-is
// and never aborts the other refreshes.
func (c *Cache) RefreshStale(ctx context.Context, pairs []string, fetch FetchFunc) {
	var wg sync.WaitGroup
	for _, pair := range pairs {
		if _, ok := c.Get(pair); ok {
			continue
		}
		wg.Add(1)
		go func(pair string) {
			defer wg.Done()
			price, err := fetch(ctx, pair)
			if err != nil {
				logger.Debug("price refresh failed",
					zap.String("pair", pair), zap.Error(err))
				return
			}
			c.Put(pair, price)
		}(pair)
	}
	wg.Wait()
}

// Snapshot copies all fresh entries, for reconciliation pricing.
func (c *Cache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	out := make(map[string]float64, len(c.entries))
	for pair, e := range c.entries {
		if now.Sub(e.fetchedAt) <= c.ttl {
			out[pair] = e.price
		}
	}
	return out
}
