package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/birdnet-relay/internal/datastore"
)

// Migrator copies detection events from the source to the target database.
type Migrator struct {
	cfg      Config
	sourceDB *gorm.DB
	targetDB *gorm.DB
	out      io.Writer
}

// MigrationStats tracks export statistics.
type MigrationStats struct {
	StartTime time.Time
	EndTime   time.Time
	Migrated  int64
	Skipped   int64
	Errors    int64
	BatchSize int
}

// Print outputs the export statistics.
func (s *MigrationStats) Print(w io.Writer) {
	fmt.Fprintln(w, "\n=== Export Summary ===")
	fmt.Fprintf(w, "Duration: %s\n\n", s.EndTime.Sub(s.StartTime).Round(time.Millisecond))
	fmt.Fprintf(w, "%-20s %10s %10s %10s\n", "Table", "Migrated", "Skipped", "Errors")
	fmt.Fprintln(w, strings.Repeat("-", 53))
	fmt.Fprintf(w, "%-20s %10d %10d %10d\n", datastore.DetectionEvent{}.TableName(), s.Migrated, s.Skipped, s.Errors)
}

// NewMigrator creates a Migrator over open, migrated databases.
func NewMigrator(cfg *Config, sourceDB, targetDB *gorm.DB, out io.Writer) *Migrator {
	return &Migrator{cfg: *cfg, sourceDB: sourceDB, targetDB: targetDB, out: out}
}

// Run executes the export. Rows already present in the target are skipped.
func (m *Migrator) Run() (*MigrationStats, error) {
	stats := &MigrationStats{
		StartTime: time.Now(),
		BatchSize: m.cfg.BatchSize,
	}

	if m.cfg.Clean {
		if err := m.cleanTarget(); err != nil {
			return nil, fmt.Errorf("failed to clean target: %w", err)
		}
	}

	var sourceCount int64
	if err := m.sourceDB.Model(&datastore.DetectionEvent{}).Count(&sourceCount).Error; err != nil {
		return nil, fmt.Errorf("failed to count source records: %w", err)
	}
	if sourceCount == 0 {
		fmt.Fprintln(m.out, "No detection events to export")
		stats.EndTime = time.Now()
		return stats, nil
	}

	var processed int64
	batchNum := 0
	var batch []datastore.DetectionEvent

	err := m.sourceDB.Model(&datastore.DetectionEvent{}).FindInBatches(&batch, m.cfg.BatchSize, func(tx *gorm.DB, _ int) error {
		batchNum++

		// Insert with ON CONFLICT DO NOTHING for idempotency
		result := m.targetDB.Clauses(clause.OnConflict{DoNothing: true}).Create(&batch)
		if result.Error != nil {
			stats.Errors += int64(len(batch))
			fmt.Fprintf(m.out, "  Batch %d error: %v\n", batchNum, result.Error)
			// Continue with next batch - don't fail entire export on batch error
			return nil //nolint:nilerr // intentional: continue export despite batch error
		}

		stats.Migrated += result.RowsAffected
		stats.Skipped += int64(len(batch)) - result.RowsAffected
		processed += int64(len(batch))

		if m.cfg.Verbose || batchNum%10 == 0 {
			fmt.Fprintf(m.out, "  %d/%d (%.1f%%)\n", processed, sourceCount,
				float64(processed)/float64(sourceCount)*100)
		}
		return nil
	}).Error
	if err != nil {
		return stats, err
	}

	stats.EndTime = time.Now()
	return stats, nil
}

// cleanTarget removes every row from the target table.
func (m *Migrator) cleanTarget() error {
	table := datastore.DetectionEvent{}.TableName()
	fmt.Fprintf(m.out, "Cleaning %s...\n", table)

	if err := m.targetDB.Exec("TRUNCATE TABLE " + table).Error; err != nil {
		// SQLite has no TRUNCATE
		if err := m.targetDB.Exec("DELETE FROM " + table).Error; err != nil {
			return err
		}
	}
	return nil
}
