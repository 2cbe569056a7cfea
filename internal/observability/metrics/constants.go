// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Datastore operation label values.
const (
	// OpAppend is a detection insert.
	OpAppend = "append"
	// OpHistory is a date-scoped event listing.
	OpHistory = "history"
	// OpTotals is an all-time count and sum.
	OpTotals = "totals"
	// OpDailyTotals is a count and sum for one date.
	OpDailyTotals = "daily_totals"
	// OpSummary is the all-time and one-date totals in one statement.
	OpSummary = "summary"
	// OpAvailableDates is the distinct date listing.
	OpAvailableDates = "available_dates"
	// OpPing is a connectivity probe.
	OpPing = "ping"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Histogram bucket configuration constants.
const (
	// BucketStart100us is the starting bucket for 0.1ms histograms (0.1ms to ~400ms range).
	BucketStart100us = 0.0001
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount15 is 15 buckets for histograms.
	BucketCount15 = 15
)

// ShutdownTimeout is the timeout for graceful shutdown operations.
const ShutdownTimeout = 5 * time.Second
