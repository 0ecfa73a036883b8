package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpreviti/cryptomind/pkg/types"
)

type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	candles []types.Candle
	err     error
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.candles, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type memStore struct {
	mu      sync.Mutex
	candles map[string][]types.Candle
}

func newMemStore() *memStore {
	return &memStore{candles: make(map[string][]types.Candle)}
}

func (m *memStore) key(exchange, pair, tf string) string { return exchange + pair + tf }

func (m *memStore) SaveCandles(exchange, pair, timeframe string, candles []types.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.candles[m.key(exchange, pair, timeframe)] = candles
	return nil
}

func (m *memStore) Candles(exchange, pair, timeframe string, limit int) ([]types.Candle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	got := m.candles[m.key(exchange, pair, timeframe)]
	if len(got) > limit {
		got = got[len(got)-limit:]
	}
	return got, nil
}

func recentCandles(n int, step time.Duration, now time.Time) []types.Candle {
	out := make([]types.Candle, n)
	for i := range out {
		out[i] = types.Candle{
			Timestamp: now.Add(-time.Duration(n-i) * step),
			Close:     float64(i),
		}
	}
	return out
}

func TestService_FetchesAndPersistsOnMiss(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{candles: recentCandles(5, time.Hour, now)}
	store := newMemStore()
	s := NewService(fetcher, store)
	s.now = func() time.Time { return now }

	got, err := s.Candles(context.Background(), "BTC/USDT", "1h", 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, 1, fetcher.callCount())

	// Second call is served from the store.
	got, err = s.Candles(context.Background(), "BTC/USDT", "1h", 5)
	require.NoError(t, err)
	assert.Len(t, got, 5)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestService_RefetchesStaleCache(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	stale := recentCandles(5, time.Hour, now.Add(-6*time.Hour))
	store := newMemStore()
	require.NoError(t, store.SaveCandles("fake", "BTC/USDT", "1h", stale))

	fetcher := &fakeFetcher{candles: recentCandles(5, time.Hour, now)}
	s := NewService(fetcher, store)
	s.now = func() time.Time { return now }

	got, err := s.Candles(context.Background(), "BTC/USDT", "1h", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.callCount())
	assert.True(t, got[len(got)-1].Timestamp.After(now.Add(-2*time.Hour)))
}

func TestService_FetchErrorPropagates(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("venue down")}
	s := NewService(fetcher, nil)

	_, err := s.Candles(context.Background(), "BTC/USDT", "1h", 5)
	assert.Error(t, err)
}

func TestRefresher_WarmsWatchlist(t *testing.T) {
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{candles: recentCandles(5, time.Hour, now)}
	s := NewService(fetcher, newMemStore())
	s.now = func() time.Time { return now }

	r := NewRefresher(s, []string{"1h", "4h"}, 5, 2, time.Hour)
	r.SetWatchlist([]string{"BTC/USDT", "ETH/USDT"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	// The initial sweep covers 2 pairs x 2 timeframes.
	assert.Eventually(t, func() bool {
		return fetcher.callCount() >= 4
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
