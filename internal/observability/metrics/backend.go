package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BackendMetrics contains Prometheus metrics for the service HTTP clients
type BackendMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cacheTotal      *prometheus.CounterVec
}

// NewBackendMetrics creates and registers backend client metrics
func NewBackendMetrics(registry prometheus.Registerer) (*BackendMetrics, error) {
	m := &BackendMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *BackendMetrics) initMetrics() {
	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_backend_requests_total",
			Help: "Requests sent to backing services",
		},
		[]string{"service", "method", "status_code"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmdash_backend_request_duration_seconds",
			Help:    "Round-trip time of backing service requests",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		},
		[]string{"service"},
	)

	m.cacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_backend_cache_total",
			Help: "Client-side response cache lookups by result (hit, miss)",
		},
		[]string{"service", "result"},
	)
}

// Describe implements prometheus.Collector
func (m *BackendMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.requestsTotal.Describe(ch)
	m.requestDuration.Describe(ch)
	m.cacheTotal.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *BackendMetrics) Collect(ch chan<- prometheus.Metric) {
	m.requestsTotal.Collect(ch)
	m.requestDuration.Collect(ch)
	m.cacheTotal.Collect(ch)
}

// RecordRequest records a completed backend request. statusCode is "error" on transport failure.
func (m *BackendMetrics) RecordRequest(service, method, statusCode string, seconds float64) {
	m.requestsTotal.WithLabelValues(service, method, statusCode).Inc()
	m.requestDuration.WithLabelValues(service).Observe(seconds)
}

// RecordCache records a client-side cache lookup
func (m *BackendMetrics) RecordCache(service, result string) {
	m.cacheTotal.WithLabelValues(service, result).Inc()
}
