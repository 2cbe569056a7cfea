// Package datastore provides the durable detection event log.
package datastore

import (
	"sync"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/birdnet-relay/internal/logger"
)

var (
	serviceLogger logger.Logger
	initOnce      sync.Once
)

// slowQueryThreshold is the duration above which gorm queries log at warn.
const slowQueryThreshold = 200 * time.Millisecond

// GetLogger returns the datastore module logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		serviceLogger = logger.Global().Module("datastore")
	})
	return serviceLogger
}

// createGormLogger routes gorm's SQL logging through the datastore logger.
func createGormLogger() gormlogger.Interface {
	return logger.NewGormLoggerAdapter(GetLogger().Module("sql"), slowQueryThreshold)
}
