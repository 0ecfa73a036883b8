// Package patterns classifies candle shapes and projects short-horizon
// trends. Results are diagnostic: they annotate signal snapshots and
// contribute no score to the decision.
package patterns

import (
	"fmt"
	"math"

	"github.com/gpreviti/cryptomind/pkg/types"
)

type Label string

const (
	LabelNone             Label = "none"
	LabelDoji             Label = "doji"
	LabelHammer           Label = "hammer"
	LabelHangingMan       Label = "hanging_man"
	LabelBullishEngulfing Label = "bullish_engulfing"
	LabelBearishEngulfing Label = "bearish_engulfing"
)

// Pattern is a recognized candle shape with a human-readable rationale.
type Pattern struct {
	Label     Label
	Rationale string
}

// Recognize inspects the last one or two candles of the series.
// Two-candle patterns take precedence over single-candle ones.
func Recognize(candles []types.Candle) Pattern {
	if len(candles) == 0 {
		return Pattern{Label: LabelNone, Rationale: "no candles"}
	}

	if len(candles) >= 2 {
		if p, ok := engulfing(candles[len(candles)-2], candles[len(candles)-1]); ok {
			return p
		}
	}
	return single(candles[len(candles)-1])
}

func single(c types.Candle) Pattern {
	rng := c.High - c.Low
	if rng <= 0 {
		return Pattern{Label: LabelNone, Rationale: "degenerate candle with no range"}
	}

	body := math.Abs(c.Close - c.Open)
	if body <= 0.1*rng {
		return Pattern{
			Label:     LabelDoji,
			Rationale: fmt.Sprintf("open and close within 10%% of range (body %.4g, range %.4g)", body, rng),
		}
	}

	lowerWick := math.Min(c.Open, c.Close) - c.Low
	upperWick := c.High - math.Max(c.Open, c.Close)
	if lowerWick > 2*body && upperWick < body {
		if c.Close > c.Open {
			return Pattern{
				Label:     LabelHammer,
				Rationale: "long lower wick with small bullish body",
			}
		}
		return Pattern{
			Label:     LabelHangingMan,
			Rationale: "long lower wick with small bearish body",
		}
	}

	return Pattern{Label: LabelNone, Rationale: "no recognized shape"}
}

func engulfing(first, second types.Candle) (Pattern, bool) {
	firstBull := first.Close > first.Open
	secondBull := second.Close > second.Open
	if firstBull == secondBull {
		return Pattern{}, false
	}

	firstTop := math.Max(first.Open, first.Close)
	firstBottom := math.Min(first.Open, first.Close)
	secondTop := math.Max(second.Open, second.Close)
	secondBottom := math.Min(second.Open, second.Close)

	if secondBottom <= firstBottom && secondTop >= firstTop && secondTop-secondBottom > firstTop-firstBottom {
		if secondBull {
			return Pattern{
				Label:     LabelBullishEngulfing,
				Rationale: "bullish body engulfs prior bearish body",
			}, true
		}
		return Pattern{
			Label:     LabelBearishEngulfing,
			Rationale: "bearish body engulfs prior bullish body",
		}, true
	}
	return Pattern{}, false
}

type Direction string

const (
	DirectionRising  Direction = "rising"
	DirectionFalling Direction = "falling"
	DirectionFlat    Direction = "flat"
)

// Projection is a least-squares extrapolation of recent closes.
type Projection struct {
	Direction Direction
	Slope     float64 // absolute price change per bar
	NextClose float64 // last close plus one slope step
}

// trendWindow is the number of trailing closes the projection fits.
const trendWindow = 10

// flatSlopeThreshold is the relative per-bar slope below which the trend
// is considered flat.
const flatSlopeThreshold = 0.001

// ProjectTrend fits a line through the last closes and classifies the
// slope relative to the last price.
func ProjectTrend(candles []types.Candle) Projection {
	if len(candles) < 2 {
		return Projection{Direction: DirectionFlat}
	}

	window := candles
	if len(window) > trendWindow {
		window = window[len(window)-trendWindow:]
	}

	n := float64(len(window))
	var sumX, sumY, sumXY, sumXX float64
	for i, c := range window {
		x := float64(i)
		sumX += x
		sumY += c.Close
		sumXY += x * c.Close
		sumXX += x * x
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return Projection{Direction: DirectionFlat}
	}
	slope := (n*sumXY - sumX*sumY) / denom

	lastClose := window[len(window)-1].Close
	proj := Projection{Slope: slope, NextClose: lastClose + slope}

	relative := 0.0
	if lastClose != 0 {
		relative = slope / lastClose
	}
	switch {
	case relative > flatSlopeThreshold:
		proj.Direction = DirectionRising
	case relative < -flatSlopeThreshold:
		proj.Direction = DirectionFalling
	default:
		proj.Direction = DirectionFlat
	}
	return proj
}
