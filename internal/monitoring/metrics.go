package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Order pipeline metrics
	ordersPreviewedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fno_bot_orders_previewed_total",
			Help: "Total number of order previews created",
		},
		[]string{"status"},
	)

	ordersExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fno_bot_orders_executed_total",
			Help: "Total number of orders executed",
		},
		[]string{"symbol", "side"},
	)

	ordersBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fno_bot_orders_blocked_total",
			Help: "Total number of orders blocked, by first reason",
		},
		[]string{"reason"},
	)

	orderValue = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fno_bot_order_value",
			Help:    "Distribution of order notional values",
			Buckets: prometheus.ExponentialBuckets(1000, 2.5, 10),
		},
		[]string{"symbol"},
	)

	// Risk metrics
	circuitBreakerStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fno_bot_circuit_breaker_status",
			Help: "Circuit breaker status (0=NORMAL 1=CAUTION 2=WARNING 3=TRIGGERED 4=EMERGENCY 5=OVERRIDDEN)",
		},
	)

	portfolioHeat = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fno_bot_portfolio_heat_percent",
			Help: "Aggregate at-risk capital as percent of account equity",
		},
	)

	dailyLossPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fno_bot_daily_loss_percent_of_limit",
			Help: "Loss today as percent of the daily loss limit",
		},
	)

	drawdownPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fno_bot_drawdown_percent",
			Help: "Current peak-to-trough drawdown percent",
		},
	)

	stopLossesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fno_bot_stop_losses_active",
			Help: "Number of active protective stop orders",
		},
	)

	// Error metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fno_bot_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(ordersPreviewedTotal)
	prometheus.MustRegister(ordersExecutedTotal)
	prometheus.MustRegister(ordersBlockedTotal)
	prometheus.MustRegister(orderValue)
	prometheus.MustRegister(circuitBreakerStatus)
	prometheus.MustRegister(portfolioHeat)
	prometheus.MustRegister(dailyLossPercent)
	prometheus.MustRegister(drawdownPercent)
	prometheus.MustRegister(stopLossesActive)
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

// RecordPreview records a preview outcome.
func RecordPreview(status string) {
	ordersPreviewedTotal.WithLabelValues(status).Inc()
}

// RecordExecution records a confirmed order execution.
func RecordExecution(symbol, side string, value float64) {
	ordersExecutedTotal.WithLabelValues(symbol, side).Inc()
	orderValue.WithLabelValues(symbol).Observe(value)
}

// RecordBlocked records a blocked order by its first block reason.
func RecordBlocked(reason string) {
	ordersBlockedTotal.WithLabelValues(reason).Inc()
}

// UpdateBreakerStatus updates the circuit breaker gauge.
func UpdateBreakerStatus(status int) {
	circuitBreakerStatus.Set(float64(status))
}

// UpdateHeat updates the portfolio heat gauge.
func UpdateHeat(heat float64) {
	portfolioHeat.Set(heat)
}

// UpdateDailyLoss updates today's loss as percent of the limit.
func UpdateDailyLoss(percentOfLimit float64) {
	dailyLossPercent.Set(percentOfLimit)
}

// UpdateDrawdown updates the drawdown gauge.
func UpdateDrawdown(ddPercent float64) {
	drawdownPercent.Set(ddPercent)
}

// UpdateActiveStops updates the active stop-loss gauge.
func UpdateActiveStops(count int) {
	stopLossesActive.Set(float64(count))
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
