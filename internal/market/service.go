// Package market serves candles to the signal pipeline, backed by the
// SQLite store with the exchange as the source of truth.
package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gpreviti/cryptomind/internal/storage"
	"github.com/gpreviti/cryptomind/pkg/logger"
	"github.com/gpreviti/cryptomind/pkg/types"
)

// Fetcher is the slice of the exchange gateway the service needs.
type Fetcher interface {
	Name() string
	FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error)
}

// CandleStore is the slice of the storage layer the service needs.
// Satisfied by *storage.Store; nil disables caching.
type CandleStore interface {
	SaveCandles(exchange, pair, timeframe string, candles []types.Candle) error
	Candles(exchange, pair, timeframe string, limit int) ([]types.Candle, error)
}

// timeframeDurations drives the staleness check: a cached series whose
// newest candle is older than one bar needs a refetch.
var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// Service resolves candle requests store-first.
type Service struct {
	fetcher Fetcher
	store   CandleStore
	now     func() time.Time
}

func NewService(fetcher Fetcher, store CandleStore) *Service {
	return &Service{
		fetcher: fetcher,
		store:   store,
		now:     time.Now,
	}
}

// Candles returns the most recent limit candles in ascending order. The
// store answers when it holds enough fresh bars; otherwise the exchange
// is queried and the result persisted. This satisfies the candle source
// interface of the signal aggregator.
func (s *Service) Candles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error) {
	if s.store != nil {
		cached, err := s.store.Candles(s.fetcher.Name(), pair, timeframe, limit)
		if err != nil {
			logger.Warn("candle cache read failed",
				zap.String("pair", pair), zap.Error(err))
		} else if len(cached) >= limit && s.fresh(cached, timeframe) {
			return cached, nil
		}
	}

	candles, err := s.fetcher.FetchCandles(ctx, pair, timeframe, limit)
	if err != nil {
		return nil, err
	}
	if s.store != nil && len(candles) > 0 {
		if err := s.store.SaveCandles(s.fetcher.Name(), pair, timeframe, candles); err != nil {
			logger.Warn("candles not persisted",
				zap.String("pair", pair), zap.String("timeframe", timeframe), zap.Error(err))
		}
	}
	return candles, nil
}

func (s *Service) fresh(candles []types.Candle, timeframe string) bool {
	d, ok := timeframeDurations[timeframe]
	if !ok {
		return false
	}
	newest := candles[len(candles)-1].Timestamp
	return s.now().Sub(newest) < 2*d
}

// Refresher keeps the candle store warm for a watchlist in the
// background so decision cycles mostly hit the cache.
type Refresher struct {
	service     *Service
	timeframes  []string
	limit       int
	concurrency int
	interval    time.Duration

	mu        sync.Mutex
	watchlist []string
}

func NewRefresher(service *Service, timeframes []string, limit, concurrency int, interval time.Duration) *Refresher {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Refresher{
		service:     service,
		timeframes:  timeframes,
		limit:       limit,
		concurrency: concurrency,
		interval:    interval,
	}
}

// SetWatchlist replaces the pairs refreshed each tick.
func (r *Refresher) SetWatchlist(pairs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchlist = append([]string(nil), pairs...)
}

// Run refreshes until the context is cancelled. Each (pair, timeframe)
// task is isolated: a failure is logged and the rest proceed.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	r.mu.Lock()
	pairs := append([]string(nil), r.watchlist...)
	r.mu.Unlock()

	sem := make(chan struct{}, r.concurrency)
	var wg sync.WaitGroup
	for _, pair := range pairs {
		for _, tf := range r.timeframes {
			select {
			case <-ctx.Done():
				wg.Wait()
				return
			case sem <- struct{}{}:
			}
			wg.Add(1)
			go func(pair, tf string) {
				defer wg.Done()
				defer func() { <-sem }()
				if _, err := r.service.Candles(ctx, pair, tf, r.limit); err != nil {
					logger.Debug("background candle refresh failed",
						zap.String("pair", pair), zap.String("timeframe", tf), zap.Error(err))
				}
			}(pair, tf)
		}
	}
	wg.Wait()
}

var _ CandleStore = (*storage.Store)(nil)
