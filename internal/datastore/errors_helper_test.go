package datastore

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/errors"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		err  error
		want errors.ErrorCategory
	}{
		{"bad connection", fmt.Errorf("query: %w", driver.ErrBadConn), errors.CategoryStoreUnavailable},
		{"mysql invalid connection", mysql.ErrInvalidConn, errors.CategoryStoreUnavailable},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, errors.CategoryStoreUnavailable},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, errors.CategoryStoreUnavailable},
		{"sqlite cantopen", sqlite3.Error{Code: sqlite3.ErrCantOpen}, errors.CategoryStoreUnavailable},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, errors.CategoryDatabase},
		{"mysql too many connections", &mysql.MySQLError{Number: 1040}, errors.CategoryStoreUnavailable},
		{"mysql syntax", &mysql.MySQLError{Number: 1064}, errors.CategoryDatabase},
		{"connection refused", &net.OpError{Op: "dial", Err: fmt.Errorf("connection refused")}, errors.CategoryStoreUnavailable},
		{"pool closed", fmt.Errorf("sql: database is closed"), errors.CategoryStoreUnavailable},
		{"cancelled", context.Canceled, errors.CategoryCancellation},
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), errors.CategoryTimeout},
		{"other", fmt.Errorf("no such column: birds"), errors.CategoryDatabase},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestDBErrorCarriesContext(t *testing.T) {
	t.Parallel()

	err := dbError(sqlite3.Error{Code: sqlite3.ErrBusy}, "append", "observation_date", "2024-05-01")
	assert.True(t, errors.IsStoreUnavailable(err))

	var ee *errors.EnhancedError
	if assert.True(t, errors.As(err, &ee)) {
		assert.Equal(t, "datastore", ee.GetComponent())
		assert.Equal(t, errors.PriorityHigh, ee.Priority)
		assert.Equal(t, "append", ee.GetContext()["operation"])
		assert.Equal(t, "2024-05-01", ee.GetContext()["observation_date"])
	}
}

func TestMySQLDSN(t *testing.T) {
	t.Parallel()

	dsn := mysqlDSN(&conf.MySQLSettings{
		Username: "relay",
		Password: "p@ss:word",
		Database: "birds",
		Host:     "db.local",
		Port:     "3307",
	})

	cfg, err := mysql.ParseDSN(dsn)
	if assert.NoError(t, err) {
		assert.Equal(t, "relay", cfg.User)
		assert.Equal(t, "p@ss:word", cfg.Passwd)
		assert.Equal(t, "db.local:3307", cfg.Addr)
		assert.Equal(t, "birds", cfg.DBName)
		assert.True(t, cfg.ParseTime)
		assert.Equal(t, "UTC", cfg.Loc.String())
	}
}
