package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Trading metrics
	tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptomind_trades_total",
			Help: "Total number of executed trades",
		},
		[]string{"pair", "side"},
	)

	cyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptomind_cycles_total",
			Help: "Total number of completed decision cycles",
		},
	)

	blacklistInsertionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptomind_blacklist_insertions_total",
			Help: "Total number of pairs blacklisted",
		},
	)

	// Portfolio metrics
	portfolioLiquidValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptomind_portfolio_liquid_value",
			Help: "Liquid quote balance",
		},
	)

	portfolioTotalValue = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptomind_portfolio_total_value",
			Help: "Total portfolio value in quote currency",
		},
	)

	openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptomind_open_positions",
			Help: "Number of open positions",
		},
	)

	lastPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryptomind_last_price",
			Help: "Last observed price per pair",
		},
		[]string{"pair"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cryptomind_errors_total",
			Help: "Total number of errors by kind",
		},
		[]string{"kind"},
	)

	// Timing metrics
	cycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cryptomind_cycle_duration_seconds",
			Help:    "Decision cycle wall time",
			Buckets: prometheus.DefBuckets,
		},
	)

	signalEvaluation = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cryptomind_signal_evaluation_seconds",
			Help:    "Per-pair signal aggregation time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pair"},
	)
)

func init() {
	prometheus.MustRegister(tradesTotal)
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(blacklistInsertionsTotal)
	prometheus.MustRegister(portfolioLiquidValue)
	prometheus.MustRegister(portfolioTotalValue)
	prometheus.MustRegister(openPositions)
	prometheus.MustRegister(lastPrice)
	prometheus.MustRegister(errorsTotal)
	prometheus.MustRegister(cycleDuration)
	prometheus.MustRegister(signalEvaluation)
}

// Handler serves the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordTrade records an executed trade.
func RecordTrade(pair, side string) {
	tradesTotal.WithLabelValues(pair, side).Inc()
}

// RecordCycle records a completed decision cycle and its duration.
func RecordCycle(d time.Duration) {
	cyclesTotal.Inc()
	cycleDuration.Observe(d.Seconds())
}

// RecordBlacklistInsertion records a pair being blacklisted.
func RecordBlacklistInsertion() {
	blacklistInsertionsTotal.Inc()
}

// UpdatePortfolio updates the portfolio gauges.
func UpdatePortfolio(liquid, total float64, positions int) {
	portfolioLiquidValue.Set(liquid)
	portfolioTotalValue.Set(total)
	openPositions.Set(float64(positions))
}

// UpdatePrice updates the last price gauge for a pair.
func UpdatePrice(pair string, price float64) {
	lastPrice.WithLabelValues(pair).Set(price)
}

// RecordError records an error by taxonomy kind.
func RecordError(kind string) {
	errorsTotal.WithLabelValues(kind).Inc()
}

// RecordSignalEvaluation records a per-pair aggregation duration.
func RecordSignalEvaluation(pair string, d time.Duration) {
	signalEvaluation.WithLabelValues(pair).Observe(d.Seconds())
}
