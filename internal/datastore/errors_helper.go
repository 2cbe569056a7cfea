// Package datastore provides error handling helpers for database operations
package datastore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	"github.com/tphakala/birdnet-relay/internal/errors"
)

// MySQL server error numbers that mean the server cannot take work right now.
const (
	mysqlErrTooManyConnections = 1040
	mysqlErrAccessDenied       = 1045
	mysqlErrServerShutdown     = 1053
	mysqlErrLockWaitTimeout    = 1205
)

// dbError creates a properly categorized database error with context.
// Connectivity failures become StoreUnavailable, cancellations keep their
// own category, and everything else is a generic database failure.
func dbError(err error, operation string, context ...any) error {
	category := classify(err)

	builder := errors.New(err).
		Component("datastore").
		Category(category).
		Context("operation", operation)

	if category == errors.CategoryStoreUnavailable {
		builder = builder.Priority(errors.PriorityHigh)
	}

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}

	return builder.Build()
}

// errClosed is returned by every operation once the store has been closed.
func errClosed(operation string) error {
	return errors.Newf("event store is closed").
		Component("datastore").
		Category(errors.CategoryStoreUnavailable).
		Context("operation", operation).
		Build()
}

// classify maps a driver error to an error category.
func classify(err error) errors.ErrorCategory {
	switch {
	case err == nil:
		return errors.CategoryGeneric
	case errors.Is(err, context.Canceled):
		return errors.CategoryCancellation
	case errors.Is(err, context.DeadlineExceeded):
		return errors.CategoryTimeout
	case isUnavailable(err):
		return errors.CategoryStoreUnavailable
	default:
		return errors.CategoryDatabase
	}
}

// isUnavailable reports whether err means the store cannot be reached or is
// closed, as opposed to a failure of the statement itself.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen:
			return true
		}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrTooManyConnections, mysqlErrAccessDenied, mysqlErrServerShutdown, mysqlErrLockWaitTimeout:
			return true
		}
	}

	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}

	// database/sql does not export its closed-pool error
	return strings.Contains(err.Error(), "sql: database is closed")
}
