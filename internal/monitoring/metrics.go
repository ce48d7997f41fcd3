package monitoring

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsService records the operational metrics of the exchange.
type MetricsService interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)
	RecordOperation(operation, status string, duration time.Duration)
	RecordBotCommand(command, status string)
	RecordPriceLookup(currency string, cacheHit bool)
}

type prometheusMetrics struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	botCommandsTotal  *prometheus.CounterVec
	priceLookupsTotal *prometheus.CounterVec
}

func NewPrometheusMetrics() MetricsService {
	m := &prometheusMetrics{}

	m.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	m.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	m.operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_ledger_operations_total",
			Help: "Total number of ledger operations",
		},
		[]string{"operation", "status"},
	)

	m.operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "exchange_ledger_operation_duration_seconds",
			Help:    "Ledger operation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"operation"},
	)

	m.botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_bot_commands_total",
			Help: "Total number of bot commands handled",
		},
		[]string{"command", "status"},
	)

	m.priceLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_price_lookups_total",
			Help: "Total number of price lookups",
		},
		[]string{"currency", "result"},
	)

	return m
}

func (m *prometheusMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, fmt.Sprintf("%d", statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordOperation(operation, status string, duration time.Duration) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *prometheusMetrics) RecordBotCommand(command, status string) {
	m.botCommandsTotal.WithLabelValues(command, status).Inc()
}

func (m *prometheusMetrics) RecordPriceLookup(currency string, cacheHit bool) {
	result := "miss"
	if cacheHit {
		result = "hit"
	}
	m.priceLookupsTotal.WithLabelValues(currency, result).Inc()
}
