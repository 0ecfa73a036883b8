package indicators

import (
	"fmt"
	"math"
)

// Bollinger computes SMA(period) +- k * rolling sample standard
// deviation of the close series.
type Bollinger struct {
	period int
	k      float64
}

func NewBollinger(period int, k float64) *Bollinger {
	return &Bollinger{period: period, k: k}
}

// Calculate returns the latest upper, middle and lower band.
func (b *Bollinger) Calculate(closes []float64) (upper, middle, lower float64, err error) {
	if len(closes) < b.period {
		return 0, 0, 0, fmt.Errorf("%w: Bollinger needs %d closes, have %d", ErrInsufficientData, b.period, len(closes))
	}
	window := closes[len(closes)-b.period:]

	var sum float64
	for _, v := range window {
		sum += v
	}
	mean := sum / float64(b.period)

	// Sample variance (n-1 divisor) to match the reference rolling std.
	var sq float64
	for _, v := range window {
		d := v - mean
		sq += d * d
	}
	std := 0.0
	if b.period > 1 {
		std = math.Sqrt(sq / float64(b.period-1))
	}

	return mean + b.k*std, mean, mean - b.k*std, nil
}
