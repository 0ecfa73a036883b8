package indicators

import (
	"fmt"
	"math"
)

// RSI is the relative strength index over rolling mean gains and losses.
// When the average loss over the window is zero the ratio is undefined
// and the value is NaN; callers treat that as "no signal".
type RSI struct {
	period int
}

func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Period() int { return r.period }

// Series returns the RSI aligned to closes; entries before index period
// are undefined.
func (r *RSI) Series(closes []float64) []float64 {
	out := make([]float64, len(closes))
	undefinedPrefix(out, len(closes))
	if len(closes) <= r.period {
		return out
	}

	gains := make([]float64, len(closes)-1)
	losses := make([]float64, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i-1] = delta
		} else {
			losses[i-1] = -delta
		}
	}

	var gainSum, lossSum float64
	for i := range gains {
		gainSum += gains[i]
		lossSum += losses[i]
		if i >= r.period {
			gainSum -= gains[i-r.period]
			lossSum -= losses[i-r.period]
		}
		if i >= r.period-1 {
			avgGain := gainSum / float64(r.period)
			avgLoss := lossSum / float64(r.period)
			if avgLoss == 0 {
				out[i+1] = math.NaN()
				continue
			}
			rs := avgGain / avgLoss
			out[i+1] = 100 - 100/(1+rs)
		}
	}
	return out
}

// Calculate returns the latest RSI value. The value may be NaN when the
// window has no losses.
func (r *RSI) Calculate(closes []float64) (float64, error) {
	if len(closes) <= r.period {
		return 0, fmt.Errorf("%w: RSI needs %d closes, have %d", ErrInsufficientData, r.period+1, len(closes))
	}
	return last(r.Series(closes)), nil
}
