// Package metrics provides datastore metrics for observability
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for event store operations
type DatastoreMetrics struct {
	registry *prometheus.Registry

	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	resultSize        *prometheus.HistogramVec
	eventsStored      prometheus.Counter
	birdsStored       prometheus.Counter

	// collectors is a slice of all collectors for easier iteration
	collectors []prometheus.Collector
}

// NewDatastoreMetrics creates and registers new datastore metrics
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// initMetrics initializes all Prometheus metrics
func (m *DatastoreMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_operations_total",
			Help: "Total number of event store operations",
		},
		[]string{"operation", "status"}, // status: success, error
	)

	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_operation_duration_seconds",
			Help:    "Time taken for event store operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart100us, BucketFactor2, BucketCount15), // 0.1ms to ~1.6s
		},
		[]string{"operation"},
	)

	m.errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datastore_operation_errors_total",
			Help: "Total number of event store errors by category",
		},
		[]string{"operation", "error_type"},
	)

	m.resultSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_query_result_size_rows",
			Help:    "Number of rows returned by event store queries",
			Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000, 10000},
		},
		[]string{"operation"},
	)

	m.eventsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datastore_detection_events_stored_total",
		Help: "Total number of detection events appended",
	})

	m.birdsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "datastore_birds_stored_total",
		Help: "Sum of bird counts across appended detection events",
	})

	m.collectors = []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.errorsTotal,
		m.resultSize,
		m.eventsStored,
		m.birdsStored,
	}
}

// Describe implements the prometheus.Collector interface
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the prometheus.Collector interface
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordOperation implements Recorder.
func (m *DatastoreMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *DatastoreMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *DatastoreMetrics) RecordError(operation, errorType string) {
	m.errorsTotal.WithLabelValues(operation, errorType).Inc()
}

// RecordResultSize records the number of rows a query returned.
func (m *DatastoreMetrics) RecordResultSize(operation string, rows int) {
	m.resultSize.WithLabelValues(operation).Observe(float64(rows))
}

// RecordAppend counts a stored detection and its birds.
func (m *DatastoreMetrics) RecordAppend(birds int) {
	m.eventsStored.Inc()
	m.birdsStored.Add(float64(birds))
}
