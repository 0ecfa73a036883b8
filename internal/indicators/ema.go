package indicators

// EMASeries computes the exponential moving average of values with
// alpha = 2/(span+1). The first output equals the first input; every
// later step is alpha*value + (1-alpha)*prev.
func EMASeries(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// EMA holds the span for a reusable exponential moving average.
type EMA struct {
	span int
}

func NewEMA(span int) *EMA {
	return &EMA{span: span}
}

// Calculate returns the latest EMA of the close series.
func (e *EMA) Calculate(closes []float64) (float64, error) {
	if len(closes) == 0 {
		return 0, ErrInsufficientData
	}
	return last(EMASeries(closes, e.span)), nil
}
