// Package guards holds the pre-trade gates consulted before any order is
// placed: the daily buy cooldown and the pair blacklist.
package guards

import (
	"sync"
	"time"
)

// Cooldown suppresses further buys of a pair for the rest of the trading
// day after a sale. The day rolls over at a configured HH:MM boundary,
// not at midnight UTC.
type Cooldown struct {
	mu          sync.Mutex
	lastSale    map[string]time.Time
	resetHour   int
	resetMinute int
}

func NewCooldown(resetHour, resetMinute int) *Cooldown {
	return &Cooldown{
		lastSale:    make(map[string]time.Time),
		resetHour:   resetHour,
		resetMinute: resetMinute,
	}
}

// RecordSale marks a pair as sold at t.
func (c *Cooldown) RecordSale(pair string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.lastSale[pair]; ok && cur.After(t) {
		return
	}
	c.lastSale[pair] = t
}

// Active reports whether the pair was sold since the most recent daily
// boundary before now. Entries more than a full day stale are evicted.
func (c *Cooldown) Active(pair string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	boundary := c.lastBoundary(now)
	sold, ok := c.lastSale[pair]
	if !ok {
		return false
	}
	if sold.Before(boundary) {
		delete(c.lastSale, pair)
		return false
	}
	return true
}

// lastBoundary is the most recent occurrence of HH:MM at or before now,
// in now's location.
func (c *Cooldown) lastBoundary(now time.Time) time.Time {
	b := time.Date(now.Year(), now.Month(), now.Day(),
		c.resetHour, c.resetMinute, 0, 0, now.Location())
	if b.After(now) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}
