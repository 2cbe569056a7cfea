package datastore

import (
	"fmt"
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/birdnet-relay/internal/conf"
)

// MySQLStore implements Interface for MySQL
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

// mysqlDSN builds the connection string. Times are exchanged in UTC so
// occurred_at round-trips unchanged regardless of server zone.
func mysqlDSN(s *conf.MySQLSettings) string {
	cfg := mysqldriver.NewConfig()
	cfg.User = s.Username
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(s.Host, s.Port)
	cfg.DBName = s.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Open sets up the MySQL database connection and migrates the schema.
func (store *MySQLStore) Open() error {
	settings := &store.Settings.Output.MySQL
	location := fmt.Sprintf("%s/%s", net.JoinHostPort(settings.Host, settings.Port), settings.Database)

	db, err := gorm.Open(mysql.Open(mysqlDSN(settings)), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return dbError(fmt.Errorf("failed to open MySQL database: %w", err), "open", "location", location)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(fmt.Errorf("failed to get underlying database: %w", err), "open")
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	store.DB = db
	return performAutoMigration(db, "MySQL", location)
}

// Close releases the MySQL connection pool.
func (store *MySQLStore) Close() error {
	return store.closeDB()
}
