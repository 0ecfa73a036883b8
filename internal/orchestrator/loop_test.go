package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/errors"
	"github.com/gpreviti/cryptomind/internal/exchange"
	"github.com/gpreviti/cryptomind/internal/guards"
	"github.com/gpreviti/cryptomind/internal/portfolio"
	"github.com/gpreviti/cryptomind/internal/pricecache"
	"github.com/gpreviti/cryptomind/internal/risk"
	"github.com/gpreviti/cryptomind/internal/signal"
	"github.com/gpreviti/cryptomind/pkg/types"
)

type placedOrder struct {
	Pair     string
	Side     string
	Quantity float64
}

type placedStop struct {
	Pair      string
	Side      string
	Quantity  float64
	StopPrice float64
}

// fakeGateway is both the exchange gateway and the candle source for the
// aggregator.
type fakeGateway struct {
	mu         sync.Mutex
	candles    map[string][]types.Candle
	candleErrs map[string]error
	balances   map[string]float64
	tickers    []types.Ticker
	orders     []placedOrder
	stops      []placedStop
	orderErr   error
	fillPrice  float64
}

func (f *fakeGateway) Name() string                      { return "fake" }
func (f *fakeGateway) Connect(ctx context.Context) error { return nil }
func (f *fakeGateway) Close() error                      { return nil }

func (f *fakeGateway) Candles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error) {
	return f.FetchCandles(ctx, pair, timeframe, limit)
}

func (f *fakeGateway) FetchCandles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error) {
	if err, ok := f.candleErrs[pair]; ok {
		return nil, err
	}
	return f.candles[pair], nil
}

func (f *fakeGateway) FetchTicker(ctx context.Context, pair string) (types.Ticker, error) {
	for _, t := range f.tickers {
		if t.Symbol == pair {
			return t, nil
		}
	}
	return types.Ticker{Symbol: pair, Price: f.fillPrice}, nil
}

func (f *fakeGateway) FetchTickers(ctx context.Context) ([]types.Ticker, error) {
	return f.tickers, nil
}

func (f *fakeGateway) FetchBalances(ctx context.Context) (map[string]float64, error) {
	return f.balances, nil
}

func (f *fakeGateway) PlaceMarketOrder(ctx context.Context, pair, side string, quantity float64) (exchange.Fill, error) {
	if f.orderErr != nil {
		return exchange.Fill{}, f.orderErr
	}
	f.mu.Lock()
	f.orders = append(f.orders, placedOrder{Pair: pair, Side: side, Quantity: quantity})
	f.mu.Unlock()
	return exchange.Fill{OrderID: "1", Quantity: quantity, AvgPrice: f.fillPrice}, nil
}

func (f *fakeGateway) PlaceLimitOrder(ctx context.Context, pair, side string, quantity, price float64) (string, error) {
	return "1", nil
}

func (f *fakeGateway) PlaceStopOrder(ctx context.Context, pair, side string, quantity, stopPrice float64) (string, error) {
	f.mu.Lock()
	f.stops = append(f.stops, placedStop{Pair: pair, Side: side, Quantity: quantity, StopPrice: stopPrice})
	f.mu.Unlock()
	return "2", nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, pair, orderID string) error { return nil }

func (f *fakeGateway) ListOpenOrders(ctx context.Context, pair string) ([]exchange.OpenOrder, error) {
	return nil, nil
}

func (f *fakeGateway) MinOrderQty(ctx context.Context, pair string) (float64, error) { return 0, nil }

func (f *fakeGateway) placedOrders() []placedOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placedOrder(nil), f.orders...)
}

func (f *fakeGateway) placedStops() []placedStop {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]placedStop(nil), f.stops...)
}

func candleSeries(closes []float64) []types.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c, High: c + 1, Low: c - 1, Close: c, Volume: 1000,
		}
	}
	return out
}

// Decline then rally: ends above the SMA with bullish MACD, so the
// single-timeframe decision is BUY.
func buySeries() []types.Candle {
	closes := make([]float64, 30)
	for i := 0; i < 20; i++ {
		closes[i] = 100 - 0.5*float64(i)
	}
	for i := 20; i < 30; i++ {
		closes[i] = 90.5 + 2*float64(i-19)
	}
	return candleSeries(closes)
}

func buySeriesLastPrice() float64 {
	s := buySeries()
	return s[len(s)-1].Close
}

func testConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{
			RiskPercent:     5,
			MinBuyNotional:  15,
			MinSellNotional: 5,
			StopLossPercent: 5,
			QuoteCurrency:   "USDT",
			PreferredAssets: []string{"BTC"},
			CooldownReset:   "00:00",
			CycleSeconds:    60,
		},
		Signals: config.SignalConfig{
			Timeframes:      []string{"1h"},
			Weights:         []float64{1.0},
			SMAPeriod:       20,
			RSIPeriod:       14,
			MACDFast:        12,
			MACDSlow:        26,
			MACDSignal:      9,
			BollingerPeriod: 20,
			BollingerK:      2,
			ADXPeriod:       14,
			CandleLimit:     200,
		},
	}
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, gw *fakeGateway, tpPct float64) (*Orchestrator, *portfolio.Ledger) {
	t.Helper()
	ledger, err := portfolio.NewLedger(nil, config.TradingConfig{TakeProfitPercent: tpPct}, 1000)
	require.NoError(t, err)
	blacklist, err := guards.NewBlacklist(nil)
	require.NoError(t, err)

	account := &Account{
		Name:       "main",
		Gateway:    gw,
		Aggregator: signal.NewAggregator(cfg.Signals, cfg.Trading, gw),
	}
	o := New(Deps{
		Config:    cfg,
		Accounts:  []*Account{account},
		Ledger:    ledger,
		Sizer:     risk.NewSizer(cfg.Trading),
		Cooldown:  guards.NewCooldown(0, 0),
		Blacklist: blacklist,
		Cache:     pricecache.New(time.Minute),
	})
	return o, ledger
}

func TestCycle_BuySignalPlacesOrder(t *testing.T) {
	cfg := testConfig()
	last := buySeriesLastPrice()
	gw := &fakeGateway{
		candles:   map[string][]types.Candle{"BTC/USDT": buySeries()},
		fillPrice: last,
	}
	o, ledger := newTestOrchestrator(t, cfg, gw, 0)

	require.NoError(t, o.Cycle(context.Background()))

	orders := gw.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.SideBuy, orders[0].Side)
	// Risk slice: 5% of 1000 = 50 quote, floored above the 15 minimum.
	assert.InDelta(t, 50.0/last, orders[0].Quantity, 1e-9)

	pos, ok := ledger.Position("BTC/USDT")
	require.True(t, ok)
	assert.InDelta(t, last, pos.AvgPrice, 1e-9)
	// BUY decisions carry a stop-loss 5% under the last price.
	assert.InDelta(t, last*0.95, pos.StopLossPrice, 1e-9)
}

func TestCycle_TakeProfitForcesSell(t *testing.T) {
	cfg := testConfig()
	last := buySeriesLastPrice()
	gw := &fakeGateway{
		candles:   map[string][]types.Candle{"BTC/USDT": buySeries()},
		fillPrice: last,
	}
	// Take-profit 2% above a 100 entry triggers well below the last price.
	o, ledger := newTestOrchestrator(t, cfg, gw, 2)
	_, err := ledger.ExecuteBuy("main", "BTC/USDT", 1, 100, 0, 0)
	require.NoError(t, err)

	require.NoError(t, o.Cycle(context.Background()))

	orders := gw.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.SideSell, orders[0].Side)
	assert.InDelta(t, 1.0, orders[0].Quantity, 1e-9)

	_, ok := ledger.Position("BTC/USDT")
	assert.False(t, ok)
}

func TestCycle_StopLossForcesSell(t *testing.T) {
	cfg := testConfig()
	last := buySeriesLastPrice()
	gw := &fakeGateway{
		candles:   map[string][]types.Candle{"BTC/USDT": buySeries()},
		fillPrice: last,
	}
	o, ledger := newTestOrchestrator(t, cfg, gw, 0)
	// Entry at 200 with the stop at 150, well above the market.
	_, err := ledger.ExecuteBuy("main", "BTC/USDT", 1, 200, 0, 150)
	require.NoError(t, err)

	require.NoError(t, o.Cycle(context.Background()))

	// The breached stop sells even though the indicators say BUY.
	orders := gw.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, exchange.SideSell, orders[0].Side)
	assert.InDelta(t, 1.0, orders[0].Quantity, 1e-9)

	_, ok := ledger.Position("BTC/USDT")
	assert.False(t, ok)
}

func TestCycle_BuyPlacesProtectiveStop(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.TrailingStopPercent = 3
	last := buySeriesLastPrice()
	gw := &fakeGateway{
		candles:   map[string][]types.Candle{"BTC/USDT": buySeries()},
		fillPrice: last,
	}
	o, _ := newTestOrchestrator(t, cfg, gw, 0)

	require.NoError(t, o.Cycle(context.Background()))

	stops := gw.placedStops()
	require.Len(t, stops, 1)
	assert.Equal(t, exchange.SideSell, stops[0].Side)
	assert.InDelta(t, 50.0/last, stops[0].Quantity, 1e-9)
	// The signal's stop target, 5% under the last price.
	assert.InDelta(t, last*0.95, stops[0].StopPrice, 1e-9)
}

func TestForceBuy_TrailingStopDistance(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.StopLossPercent = 0
	cfg.Trading.TrailingStopPercent = 4
	gw := &fakeGateway{fillPrice: 100}
	o, _ := newTestOrchestrator(t, cfg, gw, 0)

	trade, err := o.ForceBuy(context.Background(), "BTC/USDT", 200)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, trade.Quantity, 1e-9)

	// No stop target from the signal path, so the stop rests at the
	// configured trailing distance under the fill.
	stops := gw.placedStops()
	require.Len(t, stops, 1)
	assert.InDelta(t, 96.0, stops[0].StopPrice, 1e-9)
	assert.InDelta(t, 2.0, stops[0].Quantity, 1e-9)
}

func TestCycle_PairNotPermittedBlacklists(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{
		candleErrs: map[string]error{
			"BTC/USDT": errors.E(errors.KindPairNotPermitted, "exchange.FetchCandles", "BTC/USDT", nil),
		},
	}
	o, _ := newTestOrchestrator(t, cfg, gw, 0)

	require.NoError(t, o.Cycle(context.Background()))

	assert.True(t, o.Blacklist.Contains("BTC/USDT"))
	assert.Empty(t, gw.placedOrders())

	// The next cycle skips the pair entirely.
	gw.candleErrs = nil
	gw.candles = map[string][]types.Candle{"BTC/USDT": buySeries()}
	require.NoError(t, o.Cycle(context.Background()))
	assert.Empty(t, gw.placedOrders())
}

func TestCycle_CooldownSuppressesBuy(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{
		candles:   map[string][]types.Candle{"BTC/USDT": buySeries()},
		fillPrice: buySeriesLastPrice(),
	}
	o, _ := newTestOrchestrator(t, cfg, gw, 0)
	o.Cooldown.RecordSale("BTC/USDT", time.Now())

	require.NoError(t, o.Cycle(context.Background()))

	assert.Empty(t, gw.placedOrders())
}

func TestCycle_ReconcilesBalances(t *testing.T) {
	cfg := testConfig()
	gw := &fakeGateway{
		// Too short to evaluate, so the cycle only reconciles.
		candles:  map[string][]types.Candle{"BTC/USDT": candleSeries([]float64{1, 2})},
		balances: map[string]float64{"USDT": 600, "BTC": 0.5},
		tickers: []types.Ticker{
			{Symbol: "BTC/USDT", Price: 100},
		},
	}
	o, ledger := newTestOrchestrator(t, cfg, gw, 0)
	o.Reconciler = portfolio.NewReconciler(ledger, o.Cache, "USDT", 1000)

	require.NoError(t, o.Cycle(context.Background()))

	snap := ledger.Snapshot()
	assert.InDelta(t, 0.5, snap.Assets["BTC"], 1e-9)
	// 600 liquid + 0.5 BTC at the reconciled price of 100.
	assert.InDelta(t, 650.0, snap.InitialValue, 1e-9)
}

func TestCycle_DynamicSelectionExpandsWatchlist(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.DynamicSelection = config.DynamicSelectionConfig{
		Enabled:        true,
		TopN:           1,
		MinQuoteVolume: 100,
	}
	gw := &fakeGateway{
		candles: map[string][]types.Candle{
			"BTC/USDT": candleSeries([]float64{1, 2}), // too short, holds
			"SOL/USDT": buySeries(),
		},
		tickers: []types.Ticker{
			{Symbol: "SOL/USDT", QuoteVolume: 5000, ChangePct24h: 12},
			{Symbol: "DOGE/USDT", QuoteVolume: 50, ChangePct24h: 40}, // below volume floor
		},
		fillPrice: buySeriesLastPrice(),
	}
	o, _ := newTestOrchestrator(t, cfg, gw, 0)

	require.NoError(t, o.Cycle(context.Background()))

	orders := gw.placedOrders()
	require.Len(t, orders, 1)
	assert.Equal(t, "SOL/USDT", orders[0].Pair)
}

func TestStartStop(t *testing.T) {
	cfg := testConfig()
	cfg.Trading.CycleSeconds = 1
	gw := &fakeGateway{
		candles:   map[string][]types.Candle{"BTC/USDT": buySeries()},
		fillPrice: buySeriesLastPrice(),
	}
	o, _ := newTestOrchestrator(t, cfg, gw, 0)

	o.Start(context.Background())
	assert.True(t, o.Running())

	assert.Eventually(t, func() bool {
		return len(gw.placedOrders()) >= 1
	}, 2*time.Second, 10*time.Millisecond)

	o.Stop()
	assert.False(t, o.Running())
}
