package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/birdnet-relay/internal/conf"
	"github.com/tphakala/birdnet-relay/internal/datastore"
)

func openSQLite(t *testing.T, name string) *datastore.SQLiteStore {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite = conf.SQLiteSettings{Enabled: true, Path: filepath.Join(t.TempDir(), name)}

	store := &datastore.SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seed(t *testing.T, store datastore.Interface) {
	t.Helper()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := range 25 {
		date := "2024-05-01"
		at := day.Add(time.Duration(i) * time.Minute)
		if i%3 == 0 {
			date = "2024-04-30"
			at = at.Add(-24 * time.Hour)
		}
		require.NoError(t, store.Append(context.Background(), &datastore.DetectionEvent{
			Birds:           i%4 + 1,
			OccurredAt:      at,
			DurationSeconds: float64(i) / 2,
			ObservationDate: date,
		}))
	}
}

func TestExportCopiesAndVerifies(t *testing.T) {
	source := openSQLite(t, "source.db")
	target := openSQLite(t, "target.db")
	seed(t, source)

	var out bytes.Buffer
	cfg := &Config{BatchSize: 7}
	stats, err := NewMigrator(cfg, source.DB, target.DB, &out).Run()
	require.NoError(t, err)
	assert.Equal(t, int64(25), stats.Migrated)
	assert.Zero(t, stats.Skipped)
	assert.Zero(t, stats.Errors)

	require.NoError(t, NewVerifier(source, target, &out).Verify(context.Background()))
}

func TestExportIsIdempotent(t *testing.T) {
	source := openSQLite(t, "source.db")
	target := openSQLite(t, "target.db")
	seed(t, source)

	var out bytes.Buffer
	cfg := &Config{BatchSize: 10}
	_, err := NewMigrator(cfg, source.DB, target.DB, &out).Run()
	require.NoError(t, err)

	stats, err := NewMigrator(cfg, source.DB, target.DB, &out).Run()
	require.NoError(t, err)
	assert.Zero(t, stats.Migrated)
	assert.Equal(t, int64(25), stats.Skipped)

	cfg.Clean = true
	stats, err = NewMigrator(cfg, source.DB, target.DB, &out).Run()
	require.NoError(t, err)
	assert.Equal(t, int64(25), stats.Migrated)
}

func TestVerifyDetectsMismatch(t *testing.T) {
	source := openSQLite(t, "source.db")
	target := openSQLite(t, "target.db")
	seed(t, source)

	var out bytes.Buffer
	_, err := NewMigrator(&Config{BatchSize: 100}, source.DB, target.DB, &out).Run()
	require.NoError(t, err)

	require.NoError(t, target.DB.Exec("UPDATE detection_events SET birds = birds + 1 WHERE id = 2").Error)
	assert.Error(t, NewVerifier(source, target, &out).Verify(context.Background()))
}

func TestConfigLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "relay.db")
	store := &datastore.SQLiteStore{Settings: (&Config{SQLitePath: dbPath}).SourceSettings()}
	require.NoError(t, store.Open())
	require.NoError(t, store.Close())

	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, writeFile(configPath, `
output:
  sqlite:
    path: `+dbPath+`
  mysql:
    enabled: true
    host: db.local
    username: relay
    password: secret
    database: relay
`))

	cfg := &Config{ConfigPath: configPath, BatchSize: 100}
	require.NoError(t, cfg.Load())
	assert.Equal(t, dbPath, cfg.SQLitePath)
	assert.Equal(t, "db.local", cfg.MySQL.Host)
	assert.Equal(t, "3306", cfg.MySQL.Port)
	assert.Equal(t, "relay:****@db.local:3306/relay", cfg.SanitizedTarget())
	assert.True(t, cfg.TargetSettings().Output.MySQL.Enabled)

	cfg = &Config{ConfigPath: configPath, BatchSize: 0}
	assert.Error(t, cfg.Load())
}
