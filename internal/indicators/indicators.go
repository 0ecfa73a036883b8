// Package indicators computes technical indicators over candle series.
// All functions are deterministic and side-effect free. Smoothing follows
// the recursive EMA convention (alpha = 2/(span+1), each step is
// alpha*value + (1-alpha)*prev, seeded with the first value), and rolling
// windows leave the head of the series undefined. Undefined values are
// NaN; callers check with IsUndefined instead of comparing to zero.
package indicators

import (
	"errors"
	"math"
)

// ErrInsufficientData is returned when a series is shorter than the
// indicator's minimum window.
var ErrInsufficientData = errors.New("insufficient data")

// IsUndefined reports whether an indicator value is undefined.
func IsUndefined(v float64) bool {
	return math.IsNaN(v)
}

func undefinedPrefix(out []float64, n int) {
	for i := 0; i < n && i < len(out); i++ {
		out[i] = math.NaN()
	}
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return math.NaN()
	}
	return series[len(series)-1]
}
