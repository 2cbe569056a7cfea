// Package metrics provides custom Prometheus metrics for the upstream ingestion path.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains all Prometheus metrics related to the upstream producer link.
type IngestMetrics struct {
	ConnectionStatus   *prometheus.GaugeVec
	LastConnectTime    prometheus.Gauge
	ReconnectAttempts  *prometheus.CounterVec
	ConnectionErrors   *prometheus.CounterVec
	MessagesReceived   *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	FramesDropped      prometheus.Counter
	DetectionsDropped  *prometheus.CounterVec
	QueueOverflows     prometheus.Counter
	MessageSize        prometheus.Histogram
	registry           *prometheus.Registry
}

// NewIngestMetrics creates a new instance of IngestMetrics.
// It returns an error if metric registration fails.
func NewIngestMetrics(registry *prometheus.Registry) (*IngestMetrics, error) {
	m := &IngestMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ingest metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for IngestMetrics.
func (m *IngestMetrics) initMetrics() {
	m.ConnectionStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ingest_upstream_connection_status",
		Help: "Current upstream connection status (1 for connected, 0 for disconnected)",
	}, []string{"transport"})

	m.LastConnectTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_upstream_last_connect_time_seconds",
		Help: "Timestamp of the last successful upstream connection",
	})

	m.ReconnectAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_upstream_reconnect_attempts_total",
		Help: "Total number of upstream reconnection attempts",
	}, []string{"transport"})

	m.ConnectionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_upstream_errors_total",
		Help: "Total number of upstream connection errors",
	}, []string{"transport"})

	m.MessagesReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_messages_received_total",
		Help: "Upstream messages decoded by event kind",
	}, []string{"kind"})

	m.ValidationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_validation_failures_total",
		Help: "Upstream messages rejected as malformed",
	}, []string{"kind"})

	m.FramesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_frames_dropped_total",
		Help: "Frames dropped because the payload was empty",
	})

	m.DetectionsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_detections_dropped_total",
		Help: "Valid detections dropped because the store rejected them",
	}, []string{"reason"})

	m.QueueOverflows = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ingest_queue_overflows_total",
		Help: "Decoded frames discarded because the pipeline queue was full",
	})

	m.MessageSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "ingest_message_size_bytes",
		Help:    "Size of raw upstream messages in bytes",
		Buckets: prometheus.ExponentialBuckets(BucketStart64B, BucketFactor2, BucketCount15),
	})
}

// UpdateConnectionStatus updates the connection status and last connect time.
func (m *IngestMetrics) UpdateConnectionStatus(transport string, connected bool) {
	if connected {
		m.ConnectionStatus.WithLabelValues(transport).Set(1)
		m.LastConnectTime.SetToCurrentTime()
	} else {
		m.ConnectionStatus.WithLabelValues(transport).Set(0)
	}
}

// IncrementReconnectAttempts increments the count of reconnection attempts.
func (m *IngestMetrics) IncrementReconnectAttempts(transport string) {
	m.ReconnectAttempts.WithLabelValues(transport).Inc()
}

// IncrementErrors increments the count of connection errors.
func (m *IngestMetrics) IncrementErrors(transport string) {
	m.ConnectionErrors.WithLabelValues(transport).Inc()
}

// IncrementMessagesReceived counts a decoded message.
func (m *IngestMetrics) IncrementMessagesReceived(kind string) {
	m.MessagesReceived.WithLabelValues(kind).Inc()
}

// IncrementValidationFailures counts a rejected message.
func (m *IngestMetrics) IncrementValidationFailures(kind string) {
	m.ValidationFailures.WithLabelValues(kind).Inc()
}

// IncrementFramesDropped counts an empty frame.
func (m *IngestMetrics) IncrementFramesDropped() {
	m.FramesDropped.Inc()
}

// IncrementDetectionsDropped counts a detection lost to a store failure.
func (m *IngestMetrics) IncrementDetectionsDropped(reason string) {
	m.DetectionsDropped.WithLabelValues(reason).Inc()
}

// IncrementQueueOverflows counts a frame discarded on a full queue.
func (m *IngestMetrics) IncrementQueueOverflows() {
	m.QueueOverflows.Inc()
}

// ObserveMessageSize records the size of a raw upstream message.
func (m *IngestMetrics) ObserveMessageSize(sizeBytes int) {
	m.MessageSize.Observe(float64(sizeBytes))
}

// Collect implements the prometheus.Collector interface.
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ConnectionStatus.Collect(ch)
	ch <- m.LastConnectTime
	m.ReconnectAttempts.Collect(ch)
	m.ConnectionErrors.Collect(ch)
	m.MessagesReceived.Collect(ch)
	m.ValidationFailures.Collect(ch)
	ch <- m.FramesDropped
	m.DetectionsDropped.Collect(ch)
	ch <- m.QueueOverflows
	ch <- m.MessageSize
}

// Describe implements the prometheus.Collector interface.
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ConnectionStatus.Describe(ch)
	ch <- m.LastConnectTime.Desc()
	m.ReconnectAttempts.Describe(ch)
	m.ConnectionErrors.Describe(ch)
	m.MessagesReceived.Describe(ch)
	m.ValidationFailures.Describe(ch)
	ch <- m.FramesDropped.Desc()
	m.DetectionsDropped.Describe(ch)
	ch <- m.QueueOverflows.Desc()
	ch <- m.MessageSize.Desc()
}
