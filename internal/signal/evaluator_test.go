package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/pkg/types"
)

func testSignalConfig() config.SignalConfig {
	return config.SignalConfig{
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
	}
}

func candleSeries(closes []float64) []types.Candle {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Candle, len(closes))
	for i, c := range closes {
		out[i] = types.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      c,
			High:      c + 1,
			Low:       c - 1,
			Close:     c,
			Volume:    1000,
		}
	}
	return out
}

// 20 bars declining by 0.5, then 10 bars rallying by 2. Price ends above
// the SMA and the MACD line above its signal, while the rally pushes RSI
// over 70.
func buyLeaningSeries() []types.Candle {
	closes := make([]float64, 30)
	for i := 0; i < 20; i++ {
		closes[i] = 100 - 0.5*float64(i)
	}
	for i := 20; i < 30; i++ {
		closes[i] = 90.5 + 2*float64(i-19)
	}
	return candleSeries(closes)
}

// Mirror image: rally then slide. Price below SMA, MACD below signal,
// RSI under 30.
func sellLeaningSeries() []types.Candle {
	closes := make([]float64, 30)
	for i := 0; i < 20; i++ {
		closes[i] = 100 + 0.5*float64(i)
	}
	for i := 20; i < 30; i++ {
		closes[i] = 109.5 - 2*float64(i-19)
	}
	return candleSeries(closes)
}

func TestEvaluator_TooShortReturnsNil(t *testing.T) {
	e := NewEvaluator(testSignalConfig())

	sig := e.Evaluate("1h", candleSeries([]float64{1, 2, 3}))
	assert.Nil(t, sig)
}

func TestEvaluator_UndefinedRSIReturnsNil(t *testing.T) {
	e := NewEvaluator(testSignalConfig())

	// Strictly increasing closes leave the RSI loss average at zero, so
	// the indicator set is incomplete and the timeframe yields nothing.
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	sig := e.Evaluate("1h", candleSeries(closes))
	assert.Nil(t, sig)
}

func TestEvaluator_BuyLeaningScores(t *testing.T) {
	e := NewEvaluator(testSignalConfig())

	sig := e.Evaluate("1h", buyLeaningSeries())
	require.NotNil(t, sig)

	// Price above SMA and MACD above signal vote buy; the sharp rally
	// puts RSI above 70, voting sell.
	assert.Equal(t, 2, sig.BuyScore)
	assert.Equal(t, 1, sig.SellScore)
	assert.Greater(t, sig.LastPrice, sig.Snapshot.SMA)
	assert.Greater(t, sig.Snapshot.RSI, 70.0)
	assert.Greater(t, sig.Snapshot.MACDLine, sig.Snapshot.MACDSignal)
}

func TestEvaluator_SellLeaningScores(t *testing.T) {
	e := NewEvaluator(testSignalConfig())

	sig := e.Evaluate("1h", sellLeaningSeries())
	require.NotNil(t, sig)

	assert.Equal(t, 1, sig.BuyScore)
	assert.Equal(t, 2, sig.SellScore)
	assert.Less(t, sig.LastPrice, sig.Snapshot.SMA)
	assert.Less(t, sig.Snapshot.RSI, 30.0)
	assert.Less(t, sig.Snapshot.MACDLine, sig.Snapshot.MACDSignal)
}

func TestEvaluator_SnapshotCarriesDiagnostics(t *testing.T) {
	e := NewEvaluator(testSignalConfig())

	sig := e.Evaluate("1h", buyLeaningSeries())
	require.NotNil(t, sig)

	assert.Greater(t, sig.Snapshot.BollingerUpper, sig.Snapshot.BollingerLower)
	assert.NotEmpty(t, sig.Snapshot.Pattern.Label)
	assert.NotEmpty(t, sig.Snapshot.Trend.Direction)
}
