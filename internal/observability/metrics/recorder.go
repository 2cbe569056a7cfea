// Package metrics provides custom Prometheus metrics for birdnet-relay.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on this rather than concrete metric types so tests can
// pass a NoOpRecorder or a fake.
type Recorder interface {
	// RecordOperation records an operation with its status ("success" or "error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its type.
	RecordError(operation, errorType string)
}

// NoOpRecorder discards every observation.
type NoOpRecorder struct{}

// RecordOperation implements Recorder.
func (NoOpRecorder) RecordOperation(string, string) {}

// RecordDuration implements Recorder.
func (NoOpRecorder) RecordDuration(string, float64) {}

// RecordError implements Recorder.
func (NoOpRecorder) RecordError(string, string) {}
