package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Execution metrics
	intentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_bot_intents_total",
			Help: "Total number of intents submitted for execution",
		},
		[]string{"kind", "strategy"},
	)

	ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_bot_orders_total",
			Help: "Total number of orders placed",
		},
		[]string{"symbol", "kind"},
	)

	// Risk metrics
	strikesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_bot_strikes_total",
			Help: "Total number of stop-loss strikes counted by the risk guard",
		},
		[]string{"symbol"},
	)

	haltsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strike_bot_halts_total",
			Help: "Total number of account-wide halts",
		},
	)

	unprotectedPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strike_bot_unprotected_positions",
			Help: "Number of open positions currently without protective orders",
		},
	)

	// Market data metrics
	currentPrice = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strike_bot_current_price",
			Help: "Last observed price per instrument",
		},
		[]string{"symbol"},
	)

	openPositionQty = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "strike_bot_open_position_qty",
			Help: "Open position quantity per instrument (0 when flat)",
		},
		[]string{"symbol"},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strike_bot_errors_total",
			Help: "Total number of errors by category",
		},
		[]string{"category"},
	)
)

func init() {
	prometheus.MustRegister(intentsTotal)
	prometheus.MustRegister(ordersTotal)
	prometheus.MustRegister(strikesTotal)
	prometheus.MustRegister(haltsTotal)
	prometheus.MustRegister(unprotectedPositions)
	prometheus.MustRegister(currentPrice)
	prometheus.MustRegister(openPositionQty)
	prometheus.MustRegister(errorsTotal)
}

// MetricsHandler handles Prometheus metrics endpoint
type MetricsHandler struct{}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// ServeHTTP serves the Prometheus metrics endpoint
func (m *MetricsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// RecordIntent records a submitted intent
func RecordIntent(kind, strategy string) {
	intentsTotal.WithLabelValues(kind, strategy).Inc()
}

// RecordOrder records a placed order
func RecordOrder(symbol, kind string) {
	ordersTotal.WithLabelValues(symbol, kind).Inc()
}

// RecordStrike records a counted stop-loss strike
func RecordStrike(symbol string) {
	strikesTotal.WithLabelValues(symbol).Inc()
}

// RecordHalt records an account-wide halt
func RecordHalt() {
	haltsTotal.Inc()
}

// SetUnprotected updates the unprotected-position gauge
func SetUnprotected(count int) {
	unprotectedPositions.Set(float64(count))
}

// UpdatePrice updates the current price metric
func UpdatePrice(symbol string, price float64) {
	currentPrice.WithLabelValues(symbol).Set(price)
}

// UpdatePosition updates the open position gauge
func UpdatePosition(symbol string, qty float64) {
	openPositionQty.WithLabelValues(symbol).Set(qty)
}

// RecordError records an error metric
func RecordError(category string) {
	errorsTotal.WithLabelValues(category).Inc()
}
