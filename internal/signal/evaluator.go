// Package signal turns candle series into per-timeframe scores and
// aggregates them into a BUY/SELL/HOLD decision.
package signal

import (
	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/indicators"
	"github.com/gpreviti/cryptomind/internal/patterns"
	"github.com/gpreviti/cryptomind/pkg/types"
)

// Snapshot carries the indicator values behind one timeframe's score.
// Diagnostic fields (Bollinger, ADX, pattern, trend) may be undefined
// without invalidating the signal.
type Snapshot struct {
	SMA             float64
	RSI             float64
	MACDLine        float64
	MACDSignal      float64
	MACDHist        float64
	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64
	ADX             float64
	Pattern         patterns.Pattern
	Trend           patterns.Projection
}

// TimeframeSignal is one timeframe's buy/sell vote. Scores are integers
// in [0, 3]: one point each from price-vs-SMA, RSI thresholds and
// MACD-vs-signal.
type TimeframeSignal struct {
	Timeframe string
	LastPrice float64
	BuyScore  int
	SellScore int
	Snapshot  Snapshot
}

// Evaluator scores a single (pair, timeframe) candle series.
type Evaluator struct {
	cfg config.SignalConfig

	sma  *indicators.SMA
	rsi  *indicators.RSI
	macd *indicators.MACD
	boll *indicators.Bollinger
	adx  *indicators.ADX
}

func NewEvaluator(cfg config.SignalConfig) *Evaluator {
	return &Evaluator{
		cfg:  cfg,
		sma:  indicators.NewSMA(cfg.SMAPeriod),
		rsi:  indicators.NewRSI(cfg.RSIPeriod),
		macd: indicators.NewMACD(cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal),
		boll: indicators.NewBollinger(cfg.BollingerPeriod, cfg.BollingerK),
		adx:  indicators.NewADX(cfg.ADXPeriod),
	}
}

// Evaluate returns the timeframe's signal, or nil when the series is too
// short or any scoring indicator is undefined. A nil result degrades the
// timeframe; it is never an error.
func (e *Evaluator) Evaluate(timeframe string, candles []types.Candle) *TimeframeSignal {
	if len(candles) < e.cfg.SMAPeriod {
		return nil
	}

	closes := types.Closes(candles)
	lastPrice := closes[len(closes)-1]

	sma, err := e.sma.Calculate(closes)
	if err != nil {
		return nil
	}
	rsi, err := e.rsi.Calculate(closes)
	if err != nil {
		return nil
	}
	macdLine, macdSignal, macdHist, err := e.macd.Calculate(closes)
	if err != nil {
		return nil
	}
	if indicators.IsUndefined(sma) || indicators.IsUndefined(rsi) ||
		indicators.IsUndefined(macdLine) || indicators.IsUndefined(macdSignal) {
		return nil
	}

	sig := &TimeframeSignal{
		Timeframe: timeframe,
		LastPrice: lastPrice,
		Snapshot: Snapshot{
			SMA:        sma,
			RSI:        rsi,
			MACDLine:   macdLine,
			MACDSignal: macdSignal,
			MACDHist:   macdHist,
			Pattern:    patterns.Recognize(candles),
			Trend:      patterns.ProjectTrend(candles),
		},
	}

	// Diagnostic indicators tolerate their own data requirements.
	if up, mid, low, err := e.boll.Calculate(closes); err == nil {
		sig.Snapshot.BollingerUpper = up
		sig.Snapshot.BollingerMiddle = mid
		sig.Snapshot.BollingerLower = low
	}
	if adx, err := e.adx.Calculate(candles); err == nil {
		sig.Snapshot.ADX = adx
	}

	// Thresholds are strict on both sides: RSI exactly 30 or 70 scores
	// nothing, price exactly on the SMA scores nothing.
	if lastPrice > sma {
		sig.BuyScore++
	} else if lastPrice < sma {
		sig.SellScore++
	}
	if rsi < 30 {
		sig.BuyScore++
	} else if rsi > 70 {
		sig.SellScore++
	}
	if macdLine > macdSignal {
		sig.BuyScore++
	} else if macdLine < macdSignal {
		sig.SellScore++
	}

	return sig
}
