package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MQTTMetrics contains Prometheus metrics for the change publisher
type MQTTMetrics struct {
	connectionStatus  prometheus.Gauge
	messagesDelivered *prometheus.CounterVec
	errorsTotal       prometheus.Counter
	reconnectAttempts prometheus.Counter
	publishDuration   prometheus.Histogram
	messageSize       prometheus.Histogram
}

// NewMQTTMetrics creates and registers MQTT metrics
func NewMQTTMetrics(registry prometheus.Registerer) (*MQTTMetrics, error) {
	m := &MQTTMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MQTTMetrics) initMetrics() {
	m.connectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "farmdash_mqtt_connection_status",
		Help: "Current MQTT connection status (1 for connected, 0 for disconnected)",
	})

	m.messagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "farmdash_mqtt_messages_delivered_total",
			Help: "Messages published to the broker by topic kind",
		},
		[]string{"kind"},
	)

	m.errorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "farmdash_mqtt_errors_total",
		Help: "Connection and publish errors",
	})

	m.reconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "farmdash_mqtt_reconnect_attempts_total",
		Help: "Reconnection attempts after a lost connection",
	})

	m.publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "farmdash_mqtt_publish_duration_seconds",
		Help:    "Time taken to publish a message",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
	})

	m.messageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "farmdash_mqtt_message_size_bytes",
		Help:    "Size of published payloads",
		Buckets: prometheus.ExponentialBuckets(64, BucketFactor2, BucketCount10),
	})
}

// Describe implements prometheus.Collector
func (m *MQTTMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.connectionStatus.Describe(ch)
	m.messagesDelivered.Describe(ch)
	m.errorsTotal.Describe(ch)
	m.reconnectAttempts.Describe(ch)
	m.publishDuration.Describe(ch)
	m.messageSize.Describe(ch)
}

// Collect implements prometheus.Collector
func (m *MQTTMetrics) Collect(ch chan<- prometheus.Metric) {
	m.connectionStatus.Collect(ch)
	m.messagesDelivered.Collect(ch)
	m.errorsTotal.Collect(ch)
	m.reconnectAttempts.Collect(ch)
	m.publishDuration.Collect(ch)
	m.messageSize.Collect(ch)
}

// UpdateConnectionStatus sets the connection gauge
func (m *MQTTMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.connectionStatus.Set(1)
	} else {
		m.connectionStatus.Set(0)
	}
}

// RecordPublish records a delivered message
func (m *MQTTMetrics) RecordPublish(kind string, size int, d time.Duration) {
	m.messagesDelivered.WithLabelValues(kind).Inc()
	m.messageSize.Observe(float64(size))
	m.publishDuration.Observe(d.Seconds())
}

// IncrementErrors counts a connection or publish error
func (m *MQTTMetrics) IncrementErrors() {
	m.errorsTotal.Inc()
}

// IncrementReconnectAttempts counts a reconnection attempt
func (m *MQTTMetrics) IncrementReconnectAttempts() {
	m.reconnectAttempts.Inc()
}
