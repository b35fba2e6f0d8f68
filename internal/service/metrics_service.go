package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and
// registration workflows.
type MetricsService struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	enrollmentOutcomes *prometheus.CounterVec
	txAttempts         *prometheus.HistogramVec
	counterDrift       prometheus.Counter

	requestCount uint64
	driftCount   uint64
}

// MetricsSnapshot is a lightweight in-process summary.
type MetricsSnapshot struct {
	RequestsTotal      uint64    `json:"requests_total"`
	CounterCorrections uint64    `json:"counter_corrections"`
	Goroutines         int       `json:"goroutines"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	enrollmentOutcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_operations_total",
		Help: "Registration operations by outcome",
	}, []string{"operation", "outcome"})

	txAttempts := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registration_tx_attempts",
		Help:    "Transaction attempts needed per registration operation",
		Buckets: []float64{1, 2, 3, 5, 8, 13},
	}, []string{"operation"})

	counterDrift := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "session_counter_corrections_total",
		Help: "Session counters repaired by reconciliation",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, enrollmentOutcomes, txAttempts, counterDrift, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		enrollmentOutcomes: enrollmentOutcomes,
		txAttempts:         txAttempts,
		counterDrift:       counterDrift,
	}
}

// Registry exposes the underlying registry for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// RecordEnrollmentOutcome counts one finished registration operation.
func (m *MetricsService) RecordEnrollmentOutcome(operation, outcome string) {
	if m == nil {
		return
	}
	m.enrollmentOutcomes.WithLabelValues(operation, outcome).Inc()
}

// ObserveTxAttempts records how many transaction attempts an operation used.
func (m *MetricsService) ObserveTxAttempts(operation string, attempts int) {
	if m == nil {
		return
	}
	m.txAttempts.WithLabelValues(operation).Observe(float64(attempts))
}

// RecordCounterDrift counts a repaired session counter. The session id is
// left out of the labels to keep cardinality bounded.
func (m *MetricsService) RecordCounterDrift(_ string, delta int) {
	if m == nil || delta == 0 {
		return
	}
	m.counterDrift.Inc()
	atomic.AddUint64(&m.driftCount, 1)
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		RequestsTotal:      atomic.LoadUint64(&m.requestCount),
		CounterCorrections: atomic.LoadUint64(&m.driftCount),
		Goroutines:         runtime.NumGoroutine(),
		GeneratedAt:        time.Now().UTC(),
	}
}
