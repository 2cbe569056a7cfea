// Package observability provides Prometheus metrics functionality for monitoring birdnet-relay.
package observability

import (
	"sync"

	"github.com/tphakala/birdnet-relay/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the telemetry module logger.
// Uses sync.Once so the logger is resolved after the global logger is configured.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("telemetry")
	})
	return serviceLogger
}
