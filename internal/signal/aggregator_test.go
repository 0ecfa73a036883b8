package signal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/errors"
	"github.com/gpreviti/cryptomind/pkg/types"
)

type fakeSource struct {
	byTimeframe map[string][]types.Candle
	errs        map[string]error
}

func (f *fakeSource) Candles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error) {
	if err, ok := f.errs[timeframe]; ok {
		return nil, err
	}
	return f.byTimeframe[timeframe], nil
}

func multiTimeframeConfig() config.SignalConfig {
	cfg := testSignalConfig()
	cfg.Timeframes = []string{"1h", "4h", "1d"}
	cfg.Weights = []float64{0.2, 0.3, 0.5}
	return cfg
}

func tradingConfig() config.TradingConfig {
	return config.TradingConfig{StopLossPercent: 5.0}
}

func TestAggregator_SingleSurvivorRenormalizes(t *testing.T) {
	source := &fakeSource{byTimeframe: map[string][]types.Candle{
		"1h": buyLeaningSeries(),
		"4h": candleSeries([]float64{1, 2, 3}), // too short
		"1d": nil,                              // no data
	}}
	agg := NewAggregator(multiTimeframeConfig(), tradingConfig(), source)

	result, err := agg.Analyze(context.Background(), "BTC/USDT")
	require.NoError(t, err)

	// The one surviving timeframe's weight renormalizes to 1.0, so the
	// weighted scores equal its raw scores.
	assert.True(t, result.DataIsReal)
	assert.InDelta(t, 2.0, result.WeightedBuyScore, 1e-9)
	assert.InDelta(t, 1.0, result.WeightedSellScore, 1e-9)
	assert.Equal(t, DecisionBuy, result.Decision)
	assert.Len(t, result.Timeframes, 1)
}

func TestAggregator_BuySetsStopLoss(t *testing.T) {
	source := &fakeSource{byTimeframe: map[string][]types.Candle{
		"1h": buyLeaningSeries(),
	}}
	cfg := testSignalConfig()
	agg := NewAggregator(cfg, tradingConfig(), source)

	result, err := agg.Analyze(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Equal(t, DecisionBuy, result.Decision)

	assert.InDelta(t, result.LastPrice*0.95, result.StopLossPrice, 1e-9)
}

func TestAggregator_NoSurvivorsHoldsWithoutData(t *testing.T) {
	source := &fakeSource{byTimeframe: map[string][]types.Candle{
		"1h": candleSeries([]float64{1}),
		"4h": nil,
		"1d": nil,
	}}
	agg := NewAggregator(multiTimeframeConfig(), tradingConfig(), source)

	result, err := agg.Analyze(context.Background(), "BTC/USDT")
	require.NoError(t, err)

	assert.Equal(t, DecisionHold, result.Decision)
	assert.False(t, result.DataIsReal)
	assert.Zero(t, result.WeightedBuyScore)
	assert.Zero(t, result.WeightedSellScore)
}

func TestAggregator_OpposingTimeframesHold(t *testing.T) {
	cfg := testSignalConfig()
	cfg.Timeframes = []string{"1h", "4h"}
	cfg.Weights = []float64{0.5, 0.5}
	source := &fakeSource{byTimeframe: map[string][]types.Candle{
		"1h": buyLeaningSeries(),  // scores 2/1
		"4h": sellLeaningSeries(), // scores 1/2
	}}
	agg := NewAggregator(cfg, tradingConfig(), source)

	result, err := agg.Analyze(context.Background(), "BTC/USDT")
	require.NoError(t, err)

	assert.InDelta(t, 1.5, result.WeightedBuyScore, 1e-9)
	assert.InDelta(t, 1.5, result.WeightedSellScore, 1e-9)
	assert.Equal(t, DecisionHold, result.Decision)
	assert.Zero(t, result.StopLossPrice)
}

func TestAggregator_ExchangeErrorPropagates(t *testing.T) {
	source := &fakeSource{
		byTimeframe: map[string][]types.Candle{"4h": buyLeaningSeries(), "1d": buyLeaningSeries()},
		errs: map[string]error{
			"1h": errors.E(errors.KindPairNotPermitted, "exchange.FetchCandles", "XYZ/USDT", nil),
		},
	}
	agg := NewAggregator(multiTimeframeConfig(), tradingConfig(), source)

	_, err := agg.Analyze(context.Background(), "XYZ/USDT")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindPairNotPermitted))
}

func TestAggregator_DataErrorDegrades(t *testing.T) {
	source := &fakeSource{
		byTimeframe: map[string][]types.Candle{"4h": buyLeaningSeries(), "1d": buyLeaningSeries()},
		errs: map[string]error{
			"1h": errors.E(errors.KindDataInsufficient, "store.Candles", "BTC/USDT", nil),
		},
	}
	agg := NewAggregator(multiTimeframeConfig(), tradingConfig(), source)

	result, err := agg.Analyze(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, result.DataIsReal)
	assert.Len(t, result.Timeframes, 2)
}

func TestAggregator_WeightMismatchFallsBack(t *testing.T) {
	cfg := testSignalConfig()
	cfg.Timeframes = []string{"1h", "4h"}
	cfg.Weights = []float64{0.2, 0.3, 0.5}
	source := &fakeSource{byTimeframe: map[string][]types.Candle{
		"1h": buyLeaningSeries(),
		"4h": sellLeaningSeries(),
	}}
	agg := NewAggregator(cfg, tradingConfig(), source)

	result, err := agg.Analyze(context.Background(), "BTC/USDT")
	require.NoError(t, err)

	// Only the first timeframe participates after the fallback.
	assert.Len(t, result.Timeframes, 1)
	assert.Contains(t, result.Timeframes, "1h")
	assert.Equal(t, DecisionBuy, result.Decision)
}

func TestAggregator_EmptyTimeframesUsesDefault(t *testing.T) {
	cfg := testSignalConfig()
	cfg.Timeframes = nil
	cfg.Weights = []float64{0.2, 0.3, 0.5}
	source := &fakeSource{byTimeframe: map[string][]types.Candle{
		defaultTimeframe: buyLeaningSeries(),
	}}
	agg := NewAggregator(cfg, tradingConfig(), source)

	result, err := agg.Analyze(context.Background(), "BTC/USDT")
	require.NoError(t, err)

	assert.True(t, result.DataIsReal)
	assert.Len(t, result.Timeframes, 1)
	assert.Contains(t, result.Timeframes, defaultTimeframe)
}
