package indicators

// MACD computes the moving average convergence divergence line, its
// signal line and the histogram. The signal line is the EMA of the full
// MACD line history, not a shortcut over the last value.
type MACD struct {
	fast   int
	slow   int
	signal int
}

func NewMACD(fast, slow, signal int) *MACD {
	return &MACD{fast: fast, slow: slow, signal: signal}
}

// Series returns the MACD line, signal line and histogram series, all
// aligned to closes and defined from the first element.
func (m *MACD) Series(closes []float64) (line, signal, hist []float64) {
	emaFast := EMASeries(closes, m.fast)
	emaSlow := EMASeries(closes, m.slow)

	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	signal = EMASeries(line, m.signal)

	hist = make([]float64, len(closes))
	for i := range closes {
		hist[i] = line[i] - signal[i]
	}
	return line, signal, hist
}

// Calculate returns the latest MACD line, signal line and histogram.
func (m *MACD) Calculate(closes []float64) (line, signal, hist float64, err error) {
	if len(closes) == 0 {
		return 0, 0, 0, ErrInsufficientData
	}
	lineS, signalS, histS := m.Series(closes)
	return last(lineS), last(signalS), last(histS), nil
}
