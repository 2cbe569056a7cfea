package ingest

import (
	"sync"

	"github.com/tphakala/birdnet-relay/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the ingest module logger.
// Uses sync.Once so the logger is resolved after the global logger is configured.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("ingest")
	})
	return serviceLogger
}
