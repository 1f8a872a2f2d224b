package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StoreMetrics contains Prometheus metrics for the entity store
type StoreMetrics struct {
	mutationsTotal       *prometheus.CounterVec
	staleDiscardedTotal  *prometheus.CounterVec
	snapshotSavesTotal   *prometheus.CounterVec
	snapshotSaveDuration *prometheus.HistogramVec
	collectionItems      *prometheus.GaugeVec
	subscriberDropsTotal prometheus.Counter
}

// NewStoreMetrics creates and registers store metrics
func NewStoreMetrics(registry prometheus.Registerer) (*StoreMetrics, error) {
	m := &StoreMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *StoreMetrics) initMetrics() {
	m.mutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_store_mutations_total",
			Help: "Total number of store mutations by collection and operation",
		},
		[]string{"collection", "op"},
	)

	m.staleDiscardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_store_stale_responses_discarded_total",
			Help: "Fetch responses dropped because a newer response was already committed",
		},
		[]string{"collection"},
	)

	m.snapshotSavesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_snapshot_saves_total",
			Help: "Total number of snapshot persistence attempts",
		},
		[]string{"status"},
	)

	m.snapshotSaveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "farmdash_snapshot_save_duration_seconds",
			Help:    "Time taken to persist a snapshot",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount10),
		},
		[]string{"status"},
	)

	m.collectionItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "farmdash_store_collection_items",
			Help: "Number of items currently cached per collection",
		},
		[]string{"collection"},
	)

	m.subscriberDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "farmdash_store_subscriber_drops_total",
			Help: "Change events dropped because a subscriber buffer was full",
		},
	)
}

// Describe implements prometheus.Collector
func (m *StoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.mutationsTotal.Describe(ch)
	m.staleDiscardedTotal.Describe(ch)
	m.snapshotSavesTotal.Describe(ch)
	m.snapshotSaveDuration.Describe(ch)
	m.collectionItems.Describe(ch)
	m.subscriberDropsTotal.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *StoreMetrics) Collect(ch chan<- prometheus.Metric) {
	m.mutationsTotal.Collect(ch)
	m.staleDiscardedTotal.Collect(ch)
	m.snapshotSavesTotal.Collect(ch)
	m.snapshotSaveDuration.Collect(ch)
	m.collectionItems.Collect(ch)
	m.subscriberDropsTotal.Collect(ch)
}

// RecordMutation records a store mutation and the resulting collection size
func (m *StoreMetrics) RecordMutation(collection, op string, items int) {
	m.mutationsTotal.WithLabelValues(collection, op).Inc()
	m.collectionItems.WithLabelValues(collection).Set(float64(items))
}

// RecordStaleDiscard records a dropped out-of-order fetch response
func (m *StoreMetrics) RecordStaleDiscard(collection string) {
	m.staleDiscardedTotal.WithLabelValues(collection).Inc()
}

// RecordSnapshotSave records a snapshot save attempt
func (m *StoreMetrics) RecordSnapshotSave(status string, seconds float64) {
	m.snapshotSavesTotal.WithLabelValues(status).Inc()
	m.snapshotSaveDuration.WithLabelValues(status).Observe(seconds)
}

// RecordSubscriberDrop records a change event that could not be delivered
func (m *StoreMetrics) RecordSubscriberDrop() {
	m.subscriberDropsTotal.Inc()
}
