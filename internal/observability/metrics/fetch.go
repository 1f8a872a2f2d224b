package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FetchMetrics contains Prometheus metrics for staleness-gated fetchers
type FetchMetrics struct {
	fetchesTotal       *prometheus.CounterVec
	fetchDuration      *prometheus.HistogramVec
	forcedLogoutsTotal prometheus.Counter
	actionsTotal       *prometheus.CounterVec
}

// NewFetchMetrics creates and registers fetch metrics
func NewFetchMetrics(registry prometheus.Registerer) (*FetchMetrics, error) {
	m := &FetchMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *FetchMetrics) initMetrics() {
	m.fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_fetches_total",
			Help: "Fetch calls by collection and result (cache_hit, network, shared, error)",
		},
		[]string{"collection", "result"},
	)

	m.fetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmdash_fetch_duration_seconds",
			Help:    "Time spent in network-backed fetches",
			Buckets: prometheus.ExponentialBuckets(BucketStart10ms, BucketFactor2, BucketCount12),
		},
		[]string{"collection"},
	)

	m.forcedLogoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "farmdash_forced_logouts_total",
			Help: "Sessions cleared because the backend rejected the token",
		},
	)

	m.actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_actions_total",
			Help: "User actions (create crop, submit diagnosis, ...) by outcome",
		},
		[]string{"action", "status"},
	)
}

// Describe implements prometheus.Collector
func (m *FetchMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.fetchesTotal.Describe(ch)
	m.fetchDuration.Describe(ch)
	m.forcedLogoutsTotal.Describe(ch)
	m.actionsTotal.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *FetchMetrics) Collect(ch chan<- prometheus.Metric) {
	m.fetchesTotal.Collect(ch)
	m.fetchDuration.Collect(ch)
	m.forcedLogoutsTotal.Collect(ch)
	m.actionsTotal.Collect(ch)
}

// RecordFetch records the outcome of a fetch call
func (m *FetchMetrics) RecordFetch(collection, result string) {
	m.fetchesTotal.WithLabelValues(collection, result).Inc()
}

// RecordFetchDuration records the duration of a network-backed fetch
func (m *FetchMetrics) RecordFetchDuration(collection string, seconds float64) {
	m.fetchDuration.WithLabelValues(collection).Observe(seconds)
}

// RecordForcedLogout records a logout triggered by an authentication failure
func (m *FetchMetrics) RecordForcedLogout() {
	m.forcedLogoutsTotal.Inc()
}

// RecordAction records a mutating user action
func (m *FetchMetrics) RecordAction(action, status string) {
	m.actionsTotal.WithLabelValues(action, status).Inc()
}
