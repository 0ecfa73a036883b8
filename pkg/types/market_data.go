package types

import "time"

// Candle is one OHLCV bar of a (exchange, pair, timeframe) series.
// Series are ordered by Timestamp ascending with no duplicate timestamps.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

type Ticker struct {
	Symbol       string
	Price        float64
	QuoteVolume  float64
	ChangePct24h float64
	Timestamp    time.Time
}

type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// Closes extracts the close series from a candle window.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}
