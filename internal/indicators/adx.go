package indicators

import (
	"fmt"
	"math"

	"github.com/gpreviti/cryptomind/pkg/types"
)

// ADX measures trend strength from smoothed directional movement.
// True range and the directional movements are smoothed with EMA(period),
// and ADX is the EMA(period) of the DX series.
type ADX struct {
	period int
}

func NewADX(period int) *ADX {
	return &ADX{period: period}
}

// Calculate returns the latest ADX value over the candle window.
func (a *ADX) Calculate(candles []types.Candle) (float64, error) {
	// One bar is lost to the diff, and the DX series needs a window of
	// its own before its smoothing is meaningful.
	if len(candles) < 2*a.period {
		return 0, fmt.Errorf("%w: ADX needs %d candles, have %d", ErrInsufficientData, 2*a.period, len(candles))
	}

	n := len(candles) - 1
	tr := make([]float64, n)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)

	for i := 1; i < len(candles); i++ {
		cur, prev := candles[i], candles[i-1]

		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prev.Close)
		lc := math.Abs(cur.Low - prev.Close)
		tr[i-1] = math.Max(hl, math.Max(hc, lc))

		up := cur.High - prev.High
		down := prev.Low - cur.Low
		if up > down && up > 0 {
			plusDM[i-1] = up
		}
		if down > up && down > 0 {
			minusDM[i-1] = down
		}
	}

	trS := EMASeries(tr, a.period)
	plusS := EMASeries(plusDM, a.period)
	minusS := EMASeries(minusDM, a.period)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if trS[i] == 0 {
			dx[i] = 0
			continue
		}
		plusDI := 100 * plusS[i] / trS[i]
		minusDI := 100 * minusS[i] / trS[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
	}

	return last(EMASeries(dx, a.period)), nil
}
