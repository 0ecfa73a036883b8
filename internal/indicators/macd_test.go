package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMASeries_RecursiveConvention(t *testing.T) {
	// span 3 -> alpha 0.5; seeded with the first value.
	series := EMASeries([]float64{1, 2}, 3)
	assert.InDelta(t, 1.0, series[0], 1e-12)
	assert.InDelta(t, 1.5, series[1], 1e-12)
}

func TestEMASeries_FlatInput(t *testing.T) {
	series := EMASeries(flatCloses(10, 42), 5)
	for _, v := range series {
		assert.InDelta(t, 42.0, v, 1e-12)
	}
}

func TestEMA_Calculate_Empty(t *testing.T) {
	ema := NewEMA(9)

	_, err := ema.Calculate(nil)
	assert.Error(t, err)
}

func TestMACD_Calculate_FlatSeries(t *testing.T) {
	macd := NewMACD(12, 26, 9)

	line, signal, hist, err := macd.Calculate(flatCloses(50, 100))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, line, 1e-12)
	assert.InDelta(t, 0.0, signal, 1e-12)
	assert.InDelta(t, 0.0, hist, 1e-12)
}

func TestMACD_SignalIsEMAOfLineHistory(t *testing.T) {
	// fast span 1 copies the input, slow span 3 lags it, so the line is
	// {0, 0.5}. Signal span 3 smooths the line history: {0, 0.25}.
	macd := NewMACD(1, 3, 3)

	line, signal, hist, err := macd.Calculate([]float64{1, 2})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, line, 1e-12)
	assert.InDelta(t, 0.25, signal, 1e-12)
	assert.InDelta(t, 0.25, hist, 1e-12)
}

func TestMACD_RisingSeries_PositiveLine(t *testing.T) {
	macd := NewMACD(12, 26, 9)

	line, _, _, err := macd.Calculate(sequentialCloses(60))
	require.NoError(t, err)
	assert.Greater(t, line, 0.0)
}

func TestMACD_Calculate_Empty(t *testing.T) {
	macd := NewMACD(12, 26, 9)

	_, _, _, err := macd.Calculate(nil)
	assert.Error(t, err)
}

func BenchmarkMACD_Calculate(b *testing.B) {
	macd := NewMACD(12, 26, 9)
	closes := sequentialCloses(200)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _, _ = macd.Calculate(closes)
	}
}
