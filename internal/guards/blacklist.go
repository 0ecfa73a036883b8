package guards

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gpreviti/cryptomind/internal/storage"
	"github.com/gpreviti/cryptomind/pkg/logger"
)

// BlacklistStore is what the blacklist needs from the database. Satisfied
// by *storage.Store; nil keeps the blacklist memory-only.
type BlacklistStore interface {
	AddBlacklist(pair, reason string, at time.Time) error
	RemoveBlacklist(pair string) error
	BlacklistEntries() ([]storage.BlacklistEntry, error)
}

// Blacklist is the set of pairs excluded from analysis and trading,
// typically because the venue rejected them as not permitted. The set is
// held in memory and mirrored to the store.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]storage.BlacklistEntry
	store   BlacklistStore
	now     func() time.Time
}

// NewBlacklist loads persisted entries when a store is given.
func NewBlacklist(store BlacklistStore) (*Blacklist, error) {
	b := &Blacklist{
		entries: make(map[string]storage.BlacklistEntry),
		store:   store,
		now:     time.Now,
	}
	if store != nil {
		persisted, err := store.BlacklistEntries()
		if err != nil {
			return nil, fmt.Errorf("load blacklist: %w", err)
		}
		for _, e := range persisted {
			b.entries[e.Pair] = e
		}
	}
	return b, nil
}

// Contains reports whether the pair is excluded.
func (b *Blacklist) Contains(pair string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[pair]
	return ok
}

// Add excludes a pair. A persistence failure is logged, not returned:
// the in-memory exclusion must take effect either way.
func (b *Blacklist) Add(pair, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[pair]; ok {
		return
	}
	entry := storage.BlacklistEntry{Pair: pair, Reason: reason, InsertedAt: b.now()}
	b.entries[pair] = entry
	logger.Warn("pair blacklisted", zap.String("pair", pair), zap.String("reason", reason))
	if b.store != nil {
		if err := b.store.AddBlacklist(pair, reason, entry.InsertedAt); err != nil {
			logger.Error("blacklist entry not persisted", zap.String("pair", pair), zap.Error(err))
		}
	}
}

// Remove lifts an exclusion. Operator-driven only.
func (b *Blacklist) Remove(pair string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, pair)
	if b.store != nil {
		if err := b.store.RemoveBlacklist(pair); err != nil {
			return fmt.Errorf("remove blacklist entry: %w", err)
		}
	}
	return nil
}

// Entries returns a copy of the current exclusions.
func (b *Blacklist) Entries() []storage.BlacklistEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]storage.BlacklistEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out
}
