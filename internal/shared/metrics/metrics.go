package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Conversion metrics
	StrategyAttemptsTotal *prometheus.CounterVec
	StrategyDuration      *prometheus.HistogramVec
	ConversionsTotal      *prometheus.CounterVec
	ActiveConversions     prometheus.Gauge

	// Merge metrics
	MergesTotal   *prometheus.CounterVec
	MergeDuration *prometheus.HistogramVec

	// Sweeper metrics
	SweepRunsTotal      prometheus.Counter
	SweepDeletedFiles   *prometheus.CounterVec
	SweepReclaimedBytes *prometheus.CounterVec
	SweepErrorsTotal    *prometheus.CounterVec

	// WebSocket metrics
	WebSocketConnections   prometheus.Gauge
	WebSocketMessagesTotal *prometheus.CounterVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latencies in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPResponseSize: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path", "status"},
		),

		// Conversion metrics
		StrategyAttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversion_strategy_attempts_total",
				Help: "Total number of conversion strategy attempts",
			},
			[]string{"strategy", "status"},
		),
		StrategyDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conversion_strategy_duration_seconds",
				Help:    "Conversion strategy duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		),
		ConversionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conversions_total",
				Help: "Total number of file conversions",
			},
			[]string{"status"},
		),
		ActiveConversions: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_conversions",
				Help: "Number of conversions currently in flight",
			},
		),

		// Merge metrics
		MergesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "merges_total",
				Help: "Total number of merge operations",
			},
			[]string{"method", "status"},
		),
		MergeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "merge_duration_seconds",
				Help:    "Merge duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"method"},
		),

		// Sweeper metrics
		SweepRunsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "cleanup_sweeps_total",
				Help: "Total number of cleanup sweeps",
			},
		),
		SweepDeletedFiles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cleanup_deleted_files_total",
				Help: "Total number of stale files deleted",
			},
			[]string{"dir"},
		),
		SweepReclaimedBytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cleanup_reclaimed_bytes_total",
				Help: "Total bytes reclaimed by cleanup",
			},
			[]string{"dir"},
		),
		SweepErrorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cleanup_errors_total",
				Help: "Total number of cleanup errors",
			},
			[]string{"dir"},
		),

		// WebSocket metrics
		WebSocketConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WebSocketMessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "websocket_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"type"},
		),
	}

	return m
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration, responseSize int64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)

	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	if responseSize > 0 {
		m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
	}
}

// RecordStrategyAttempt records one conversion strategy attempt
func (m *Metrics) RecordStrategyAttempt(strategy string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.StrategyAttemptsTotal.WithLabelValues(strategy, successLabel(success)).Inc()
	m.StrategyDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordConversionStarted marks a conversion as in flight
func (m *Metrics) RecordConversionStarted() {
	if m == nil {
		return
	}
	m.ActiveConversions.Inc()
}

// RecordConversionCompleted records the final outcome of one file
func (m *Metrics) RecordConversionCompleted(success bool) {
	if m == nil {
		return
	}
	m.ActiveConversions.Dec()
	m.ConversionsTotal.WithLabelValues(successLabel(success)).Inc()
}

// RecordMerge records a merge attempt
func (m *Metrics) RecordMerge(method string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(method, successLabel(success)).Inc()
	m.MergeDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordSweep records a completed sweep
func (m *Metrics) RecordSweep() {
	if m == nil {
		return
	}
	m.SweepRunsTotal.Inc()
}

// RecordSweepDeletion records a deleted file
func (m *Metrics) RecordSweepDeletion(dir string, bytes int64) {
	if m == nil {
		return
	}
	m.SweepDeletedFiles.WithLabelValues(dir).Inc()
	m.SweepReclaimedBytes.WithLabelValues(dir).Add(float64(bytes))
}

// RecordSweepError records a directory scan or delete failure
func (m *Metrics) RecordSweepError(dir string) {
	if m == nil {
		return
	}
	m.SweepErrorsTotal.WithLabelValues(dir).Inc()
}

// RecordWebSocketConnection records WebSocket connection change
func (m *Metrics) RecordWebSocketConnection(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.WebSocketConnections.Inc()
	} else {
		m.WebSocketConnections.Dec()
	}
}

// RecordWebSocketMessage records WebSocket message
func (m *Metrics) RecordWebSocketMessage(messageType string) {
	if m == nil {
		return
	}
	m.WebSocketMessagesTotal.WithLabelValues(messageType).Inc()
}

func successLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// statusCodeToString converts HTTP status code to category string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
