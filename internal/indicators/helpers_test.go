package indicators

import (
	"time"

	"github.com/gpreviti/cryptomind/pkg/types"
)

func sequentialCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100.0 + float64(i)
	}
	return out
}

func decliningCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100.0 - float64(i)
	}
	return out
}

func flatCloses(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func candlesFromCloses(closes []float64) []types.Candle {
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
