package signal

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/gpreviti/cryptomind/internal/config"
	"github.com/gpreviti/cryptomind/internal/errors"
	"github.com/gpreviti/cryptomind/pkg/logger"
	"github.com/gpreviti/cryptomind/pkg/types"
)

type Decision string

const (
	DecisionBuy  Decision = "BUY"
	DecisionSell Decision = "SELL"
	DecisionHold Decision = "HOLD"
)

// decisionMargin is how far the weighted buy score must exceed the
// weighted sell score (or vice versa) to leave HOLD.
const decisionMargin = 0.5

// defaultTimeframe backs an aggregator constructed with no timeframes.
const defaultTimeframe = "1h"

// AggregatedSignal is the pair-level decision across timeframes.
type AggregatedSignal struct {
	Pair              string
	Decision          Decision
	LastPrice         float64
	StopLossPrice     float64 // 0 when not set
	WeightedBuyScore  float64
	WeightedSellScore float64
	Timeframes        map[string]*TimeframeSignal
	DataIsReal        bool
}

// CandleSource supplies the candle window for one (pair, timeframe).
type CandleSource interface {
	Candles(ctx context.Context, pair, timeframe string, limit int) ([]types.Candle, error)
}

// Aggregator fans the evaluator out across configured timeframes and
// resolves the final decision.
type Aggregator struct {
	evaluator   *Evaluator
	source      CandleSource
	timeframes  []string
	weights     []float64
	candleLimit int
	stopLossPct float64
}

func NewAggregator(sigCfg config.SignalConfig, trdCfg config.TradingConfig, source CandleSource) *Aggregator {
	timeframes := sigCfg.Timeframes
	weights := sigCfg.Weights

	if len(timeframes) == 0 {
		timeframes = []string{defaultTimeframe}
		weights = []float64{1.0}
	} else if len(timeframes) != len(weights) {
		logger.Warn("timeframe/weight length mismatch, falling back to single timeframe",
			zap.Strings("timeframes", timeframes),
			zap.Float64s("weights", weights))
		timeframes = timeframes[:1]
		weights = []float64{1.0}
	}

	return &Aggregator{
		evaluator:   NewEvaluator(sigCfg),
		source:      source,
		timeframes:  timeframes,
		weights:     weights,
		candleLimit: sigCfg.CandleLimit,
		stopLossPct: trdCfg.StopLossPercent,
	}
}

// Analyze computes the aggregated signal for a pair. Exchange-level
// failures (pair rejection, auth, network) abort the aggregation and
// propagate; per-timeframe data problems only degrade that timeframe.
func (a *Aggregator) Analyze(ctx context.Context, pair string) (*AggregatedSignal, error) {
	results := make([]*TimeframeSignal, len(a.timeframes))
	fatals := make([]error, len(a.timeframes))

	var wg sync.WaitGroup
	for i, tf := range a.timeframes {
		wg.Add(1)
		go func(i int, tf string) {
			defer wg.Done()
			candles, err := a.source.Candles(ctx, pair, tf, a.candleLimit)
			if err != nil {
				switch errors.KindOf(err) {
				case errors.KindDataInsufficient, errors.KindInternal:
					logger.Debug("timeframe degraded",
						zap.String("pair", pair), zap.String("timeframe", tf), zap.Error(err))
				default:
					fatals[i] = err
				}
				return
			}
			results[i] = a.evaluator.Evaluate(tf, candles)
		}(i, tf)
	}
	wg.Wait()

	for _, err := range fatals {
		if err != nil {
			return nil, err
		}
	}

	agg := &AggregatedSignal{
		Pair:       pair,
		Decision:   DecisionHold,
		Timeframes: make(map[string]*TimeframeSignal),
	}

	var weightSum float64
	for i, sig := range results {
		if sig == nil {
			continue
		}
		agg.Timeframes[sig.Timeframe] = sig
		weightSum += a.weights[i]
		if agg.LastPrice == 0 {
			agg.LastPrice = sig.LastPrice
		}
	}

	if weightSum == 0 {
		// No timeframe produced data: HOLD without pretending otherwise.
		return agg, nil
	}
	agg.DataIsReal = true

	for i, sig := range results {
		if sig == nil {
			continue
		}
		w := a.weights[i] / weightSum
		agg.WeightedBuyScore += w * float64(sig.BuyScore)
		agg.WeightedSellScore += w * float64(sig.SellScore)
	}

	switch {
	case agg.WeightedBuyScore > agg.WeightedSellScore+decisionMargin:
		agg.Decision = DecisionBuy
		if a.stopLossPct > 0 {
			agg.StopLossPrice = agg.LastPrice * (1 - a.stopLossPct/100)
		}
	case agg.WeightedSellScore > agg.WeightedBuyScore+decisionMargin:
		agg.Decision = DecisionSell
	}

	return agg, nil
}
