package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/errors"
)

// SQLiteStore implements Interface for SQLite
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// sqliteDSN enables WAL so readers do not block the single writer, and a busy
// timeout so short write contention does not surface as SQLITE_BUSY.
func sqliteDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
}

// Open sets up the SQLite database connection and migrates the schema.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Output.SQLite.Path
	if path == "" {
		return errors.Newf("sqlite path is empty").
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving sqlite path %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return errors.New(fmt.Errorf("creating database directory: %w", err)).
			Component("datastore").
			Category(errors.CategoryStoreUnavailable).
			Context("path", absPath).
			Build()
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(absPath)), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return dbError(fmt.Errorf("failed to open SQLite database: %w", err), "open", "path", absPath)
	}

	store.DB = db
	return performAutoMigration(db, "SQLite", absPath)
}

// Close releases the SQLite connection pool.
func (store *SQLiteStore) Close() error {
	return store.closeDB()
}
