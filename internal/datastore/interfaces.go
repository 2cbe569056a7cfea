// interfaces.go: this code defines the interface for the event store operations
package datastore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/logger"
	"github.com/tphakala/birdnet-relay/internal/observability/metrics"
)

// Interface is the durable, append-only detection log.
type Interface interface {
	Open() error
	Close() error
	// Append stores e and assigns its ID. Appends are serialized.
	Append(ctx context.Context, e *DetectionEvent) error
	// History returns the events of date, newest first, ties broken by id.
	// A limit <= 0 returns every event of the date.
	History(ctx context.Context, date string, limit int) ([]DetectionEvent, error)
	Totals(ctx context.Context) (Totals, error)
	DailyTotals(ctx context.Context, date string) (Totals, error)
	// Summary reads Totals and DailyTotals of date in one statement, so the
	// day can never exceed the whole.
	Summary(ctx context.Context, date string) (Summary, error)
	// AvailableDates returns distinct observation dates, newest first.
	AvailableDates(ctx context.Context) ([]string, error)
	// Revision increments after every successful Append.
	Revision() uint64
	Ping(ctx context.Context) error
}

// DataStore implements Interface on top of a GORM database.
type DataStore struct {
	DB *gorm.DB

	appendMu sync.Mutex
	closed   atomic.Bool
	revision atomic.Uint64

	metrics *metrics.DatastoreMetrics
}

// New creates the store selected by the settings. It does not open it.
func New(settings *conf.Settings) (Interface, error) {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{Settings: settings}, nil
	case settings.Output.MySQL.Enabled:
		return &MySQLStore{Settings: settings}, nil
	default:
		return nil, errors.Newf("no event store enabled, set output.sqlite.enabled or output.mysql.enabled").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// SetMetrics attaches Prometheus collectors. Safe to skip in tests.
func (ds *DataStore) SetMetrics(m *metrics.DatastoreMetrics) {
	ds.metrics = m
}

// observe records operation outcome and latency when metrics are attached.
func (ds *DataStore) observe(operation string, start time.Time, err error) {
	if ds.metrics == nil {
		return
	}
	ds.metrics.RecordDuration(operation, time.Since(start).Seconds())
	if err != nil {
		ds.metrics.RecordOperation(operation, metrics.StatusError)
		ds.metrics.RecordError(operation, string(classify(err)))
		return
	}
	ds.metrics.RecordOperation(operation, metrics.StatusSuccess)
}

// usable returns the StoreUnavailable error for a closed or unopened store.
func (ds *DataStore) usable(operation string) error {
	if ds.closed.Load() || ds.DB == nil {
		return errClosed(operation)
	}
	return nil
}

// Append stores a detection. The ID is assigned by the database.
func (ds *DataStore) Append(ctx context.Context, e *DetectionEvent) (err error) {
	start := time.Now()
	defer func() { ds.observe(metrics.OpAppend, start, err) }()

	if err := ds.usable(metrics.OpAppend); err != nil {
		return err
	}
	if e.Birds < 0 || e.DurationSeconds < 0 || e.ObservationDate == "" {
		return errors.Newf("detection event fails validation: birds=%d duration=%g date=%q",
			e.Birds, e.DurationSeconds, e.ObservationDate).
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}

	e.ID = 0
	e.OccurredAt = e.OccurredAt.UTC()

	ds.appendMu.Lock()
	defer ds.appendMu.Unlock()

	if err := ds.DB.WithContext(ctx).Create(e).Error; err != nil {
		return dbError(fmt.Errorf("append detection: %w", err), metrics.OpAppend,
			"observation_date", e.ObservationDate)
	}
	ds.revision.Add(1)

	if ds.metrics != nil {
		ds.metrics.RecordAppend(e.Birds)
	}
	GetLogger().Debug("detection stored",
		logger.Uint64("id", uint64(e.ID)),
		logger.Int("birds", e.Birds),
		logger.String("observation_date", e.ObservationDate))
	return nil
}

// History returns the events of a date ordered by occurred_at desc, id desc.
func (ds *DataStore) History(ctx context.Context, date string, limit int) (events []DetectionEvent, err error) {
	start := time.Now()
	defer func() { ds.observe(metrics.OpHistory, start, err) }()

	if err := ds.usable(metrics.OpHistory); err != nil {
		return nil, err
	}

	query := ds.DB.WithContext(ctx).
		Where("observation_date = ?", date).
		Order("occurred_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&events).Error; err != nil {
		return nil, dbError(fmt.Errorf("history for %s: %w", date, err), metrics.OpHistory,
			"date", date, "limit", limit)
	}
	if ds.metrics != nil {
		ds.metrics.RecordResultSize(metrics.OpHistory, len(events))
	}
	return events, nil
}

// totalsRow is the scan target for count and sum aggregates.
type totalsRow struct {
	Detections int64
	Birds      int64
}

// Totals returns the all-time detection count and bird sum.
func (ds *DataStore) Totals(ctx context.Context) (totals Totals, err error) {
	start := time.Now()
	defer func() { ds.observe(metrics.OpTotals, start, err) }()

	if err := ds.usable(metrics.OpTotals); err != nil {
		return Totals{}, err
	}

	var row totalsRow
	if err := ds.DB.WithContext(ctx).
		Model(&DetectionEvent{}).
		Select("COUNT(*) AS detections, COALESCE(SUM(birds), 0) AS birds").
		Scan(&row).Error; err != nil {
		return Totals{}, dbError(fmt.Errorf("totals: %w", err), metrics.OpTotals)
	}
	return Totals(row), nil
}

// DailyTotals returns the detection count and bird sum of one date.
func (ds *DataStore) DailyTotals(ctx context.Context, date string) (totals Totals, err error) {
	start := time.Now()
	defer func() { ds.observe(metrics.OpDailyTotals, start, err) }()

	if err := ds.usable(metrics.OpDailyTotals); err != nil {
		return Totals{}, err
	}

	var row totalsRow
	if err := ds.DB.WithContext(ctx).
		Model(&DetectionEvent{}).
		Select("COUNT(*) AS detections, COALESCE(SUM(birds), 0) AS birds").
		Where("observation_date = ?", date).
		Scan(&row).Error; err != nil {
		return Totals{}, dbError(fmt.Errorf("daily totals for %s: %w", date, err), metrics.OpDailyTotals,
			"date", date)
	}
	return Totals(row), nil
}

// summaryRow is the scan target for Summary.
type summaryRow struct {
	Detections    int64
	Birds         int64
	DayDetections int64
	DayBirds      int64
}

// Summary returns the all-time and per-date totals from a single aggregate.
func (ds *DataStore) Summary(ctx context.Context, date string) (summary Summary, err error) {
	start := time.Now()
	defer func() { ds.observe(metrics.OpSummary, start, err) }()

	if err := ds.usable(metrics.OpSummary); err != nil {
		return Summary{}, err
	}

	var row summaryRow
	if err := ds.DB.WithContext(ctx).
		Model(&DetectionEvent{}).
		Select(`COUNT(*) AS detections,
			COALESCE(SUM(birds), 0) AS birds,
			COALESCE(SUM(CASE WHEN observation_date = ? THEN 1 ELSE 0 END), 0) AS day_detections,
			COALESCE(SUM(CASE WHEN observation_date = ? THEN birds ELSE 0 END), 0) AS day_birds`, date, date).
		Scan(&row).Error; err != nil {
		return Summary{}, dbError(fmt.Errorf("summary for %s: %w", date, err), metrics.OpSummary,
			"date", date)
	}
	return Summary{
		All: Totals{Detections: row.Detections, Birds: row.Birds},
		Day: Totals{Detections: row.DayDetections, Birds: row.DayBirds},
	}, nil
}

// AvailableDates returns the distinct observation dates, newest first.
func (ds *DataStore) AvailableDates(ctx context.Context) (dates []string, err error) {
	start := time.Now()
	defer func() { ds.observe(metrics.OpAvailableDates, start, err) }()

	if err := ds.usable(metrics.OpAvailableDates); err != nil {
		return nil, err
	}

	if err := ds.DB.WithContext(ctx).
		Model(&DetectionEvent{}).
		Distinct("observation_date").
		Order("observation_date DESC").
		Pluck("observation_date", &dates).Error; err != nil {
		return nil, dbError(fmt.Errorf("available dates: %w", err), metrics.OpAvailableDates)
	}
	if ds.metrics != nil {
		ds.metrics.RecordResultSize(metrics.OpAvailableDates, len(dates))
	}
	return dates, nil
}

// Revision returns the append counter used to invalidate cached aggregates.
func (ds *DataStore) Revision() uint64 {
	return ds.revision.Load()
}

// Ping verifies the underlying connection.
func (ds *DataStore) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { ds.observe(metrics.OpPing, start, err) }()

	if err := ds.usable(metrics.OpPing); err != nil {
		return err
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, metrics.OpPing)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return dbError(fmt.Errorf("ping: %w", err), metrics.OpPing)
	}
	return nil
}

// closeDB marks the store closed and releases the connection pool. Later
// calls fail with StoreUnavailable. Closing twice is a no-op.
func (ds *DataStore) closeDB() error {
	if !ds.closed.CompareAndSwap(false, true) {
		return nil
	}
	if ds.DB == nil {
		return nil
	}

	// Wait for an in-flight append so it is not cut off mid-statement
	ds.appendMu.Lock()
	defer ds.appendMu.Unlock()

	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "close")
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(fmt.Errorf("close: %w", err), "close")
	}
	return nil
}

// performAutoMigration creates the detection_events table and its indexes.
func performAutoMigration(db *gorm.DB, dbType, connectionInfo string) error {
	migrationStart := time.Now()
	if err := db.AutoMigrate(&DetectionEvent{}); err != nil {
		return errors.New(fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("db_type", dbType).
			Build()
	}

	GetLogger().Info("database ready",
		logger.String("db_type", dbType),
		logger.String("location", connectionInfo),
		logger.Duration("migration_time", time.Since(migrationStart)))
	return nil
}
