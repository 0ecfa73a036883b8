package indicators

import "fmt"

// SMA is a simple moving average over a trailing window.
type SMA struct {
	period int
}

func NewSMA(period int) *SMA {
	return &SMA{period: period}
}

func (s *SMA) Period() int { return s.period }

// Series returns the rolling mean of closes; the first period-1 entries
// are undefined.
func (s *SMA) Series(closes []float64) []float64 {
	out := make([]float64, len(closes))
	undefinedPrefix(out, s.period-1)
	if len(closes) < s.period {
		return out
	}
	var sum float64
	for i, v := range closes {
		sum += v
		if i >= s.period {
			sum -= closes[i-s.period]
		}
		if i >= s.period-1 {
			out[i] = sum / float64(s.period)
		}
	}
	return out
}

// Calculate returns the latest SMA value.
func (s *SMA) Calculate(closes []float64) (float64, error) {
	if len(closes) < s.period {
		return 0, fmt.Errorf("%w: SMA needs %d closes, have %d", ErrInsufficientData, s.period, len(closes))
	}
	return last(s.Series(closes)), nil
}
