package hub

import (
	"sync"

	"github.com/tphakala/birdnet-relay/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// GetLogger returns the hub module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("hub")
	})
	return serviceLogger
}
