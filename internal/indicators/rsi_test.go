package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSI_Calculate_InsufficientData(t *testing.T) {
	rsi := NewRSI(14)

	_, err := rsi.Calculate(sequentialCloses(14))
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient data")
}

func TestRSI_Calculate_AllGains_Undefined(t *testing.T) {
	rsi := NewRSI(14)

	// No losses in the window: the gain/loss ratio divides by zero and
	// the value is undefined, not 100.
	value, err := rsi.Calculate(sequentialCloses(20))
	require.NoError(t, err)
	assert.True(t, IsUndefined(value))
}

func TestRSI_Calculate_AllLosses_Zero(t *testing.T) {
	rsi := NewRSI(14)

	value, err := rsi.Calculate(decliningCloses(20))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, value, 1e-12)
}

func TestRSI_Series_BalancedMoves(t *testing.T) {
	rsi := NewRSI(2)

	// Deltas +1, -1, +1: every window holds one gain and one loss.
	series := rsi.Series([]float64{10, 11, 10, 11})
	assert.True(t, IsUndefined(series[0]))
	assert.True(t, IsUndefined(series[1]))
	assert.InDelta(t, 50.0, series[2], 1e-12)
	assert.InDelta(t, 50.0, series[3], 1e-12)
}

func TestRSI_Calculate_DecliningBelowThreshold(t *testing.T) {
	rsi := NewRSI(14)

	value, err := rsi.Calculate(decliningCloses(20))
	require.NoError(t, err)
	assert.Less(t, value, 30.0)
}

func BenchmarkRSI_Calculate(b *testing.B) {
	rsi := NewRSI(14)
	closes := decliningCloses(200)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = rsi.Calculate(closes)
	}
}
