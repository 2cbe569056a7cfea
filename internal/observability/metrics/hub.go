package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HubMetrics contains Prometheus metrics for subscriber fan-out.
type HubMetrics struct {
	Subscribers       prometheus.Gauge
	Registrations     prometheus.Counter
	MessagesSent      *prometheus.CounterVec
	Evictions         prometheus.Counter
	BroadcastDuration *prometheus.HistogramVec
	SnapshotsComputed prometheus.Counter
	SnapshotFailures  prometheus.Counter
	RequestsReceived  *prometheus.CounterVec
	registry          *prometheus.Registry
}

// NewHubMetrics creates and registers subscriber hub metrics.
func NewHubMetrics(registry *prometheus.Registry) (*HubMetrics, error) {
	m := &HubMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register hub metrics: %w", err)
	}
	return m, nil
}

func (m *HubMetrics) initMetrics() {
	m.Subscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hub_subscribers",
		Help: "Number of currently registered subscribers",
	})

	m.Registrations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_registrations_total",
		Help: "Total number of subscriber registrations",
	})

	m.MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_messages_sent_total",
		Help: "Messages queued to subscribers by type",
	}, []string{"type"})

	m.Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_evictions_total",
		Help: "Subscribers unregistered because a send timed out",
	})

	m.BroadcastDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hub_broadcast_duration_seconds",
		Help:    "Time for a broadcast to reach every subscriber",
		Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15),
	}, []string{"kind"})

	m.SnapshotsComputed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_snapshots_computed_total",
		Help: "Snapshots composed from the event store",
	})

	m.SnapshotFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hub_snapshot_failures_total",
		Help: "Snapshot compositions that failed",
	})

	m.RequestsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hub_requests_total",
		Help: "Subscriber requests by type and status",
	}, []string{"type", "status"})
}

// SetSubscribers sets the current subscriber count.
func (m *HubMetrics) SetSubscribers(n int) {
	m.Subscribers.Set(float64(n))
}

// IncrementRegistrations counts a new subscriber.
func (m *HubMetrics) IncrementRegistrations() {
	m.Registrations.Inc()
}

// IncrementMessagesSent counts a message queued for one subscriber.
func (m *HubMetrics) IncrementMessagesSent(msgType string) {
	m.MessagesSent.WithLabelValues(msgType).Inc()
}

// IncrementEvictions counts a slow subscriber removal.
func (m *HubMetrics) IncrementEvictions() {
	m.Evictions.Inc()
}

// ObserveBroadcast records how long one broadcast took.
func (m *HubMetrics) ObserveBroadcast(kind string, d time.Duration) {
	m.BroadcastDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordSnapshot counts a snapshot composition.
func (m *HubMetrics) RecordSnapshot(err error) {
	if err != nil {
		m.SnapshotFailures.Inc()
		return
	}
	m.SnapshotsComputed.Inc()
}

// RecordRequest counts a subscriber request.
func (m *HubMetrics) RecordRequest(msgType, status string) {
	m.RequestsReceived.WithLabelValues(msgType, status).Inc()
}

// Collect implements the prometheus.Collector interface.
func (m *HubMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Subscribers.Collect(ch)
	m.Registrations.Collect(ch)
	m.MessagesSent.Collect(ch)
	m.Evictions.Collect(ch)
	m.BroadcastDuration.Collect(ch)
	m.SnapshotsComputed.Collect(ch)
	m.SnapshotFailures.Collect(ch)
	m.RequestsReceived.Collect(ch)
}

// Describe implements the prometheus.Collector interface.
func (m *HubMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Subscribers.Describe(ch)
	m.Registrations.Describe(ch)
	m.MessagesSent.Describe(ch)
	m.Evictions.Describe(ch)
	m.BroadcastDuration.Describe(ch)
	m.SnapshotsComputed.Describe(ch)
	m.SnapshotFailures.Describe(ch)
	m.RequestsReceived.Describe(ch)
}
