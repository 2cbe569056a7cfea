package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/tphakala/birdnet-relay/internal/conf"
)

// Config holds the configuration for the export tool.
type Config struct {
	// Source database
	SQLitePath string

	// Target database
	MySQL conf.MySQLSettings

	// Export options
	BatchSize  int
	Clean      bool
	SkipVerify bool
	Verbose    bool

	// Config file path for fallback
	ConfigPath string
}

// Load validates the configuration, falling back to config.yaml for
// connection details not given as flags.
func (c *Config) Load() error {
	if c.SQLitePath == "" || c.MySQL.Host == "" {
		if err := c.loadFromConfigFile(); err != nil && c.SQLitePath == "" {
			return fmt.Errorf("--sqlite-path is required (or provide config.yaml): %w", err)
		}
	}

	if _, err := os.Stat(c.SQLitePath); os.IsNotExist(err) {
		return fmt.Errorf("SQLite database not found: %s", c.SQLitePath)
	}
	if c.MySQL.Host == "" || c.MySQL.Database == "" {
		return fmt.Errorf("MySQL host and database are required")
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("batch-size must be at least 1")
	}
	if c.BatchSize > 10000 {
		return fmt.Errorf("batch-size too large (max 10000)")
	}
	return nil
}

// loadFromConfigFile reads output.sqlite and output.mysql from config.yaml.
func (c *Config) loadFromConfigFile() error {
	v := viper.New()

	configPath := c.ConfigPath
	if configPath == "" {
		for _, dir := range conf.GetDefaultConfigPaths() {
			p := filepath.Join(dir, "config.yaml")
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}
	if configPath == "" {
		return fmt.Errorf("no config.yaml found")
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if c.SQLitePath == "" {
		c.SQLitePath = v.GetString("output.sqlite.path")
	}
	if c.MySQL.Host == "" && v.GetBool("output.mysql.enabled") {
		c.MySQL.Host = v.GetString("output.mysql.host")
		c.MySQL.Port = v.GetString("output.mysql.port")
		c.MySQL.Username = v.GetString("output.mysql.username")
		c.MySQL.Password = v.GetString("output.mysql.password")
		c.MySQL.Database = v.GetString("output.mysql.database")
	}
	if c.MySQL.Port == "" {
		c.MySQL.Port = "3306"
	}
	return nil
}

// SourceSettings returns settings selecting the SQLite backend.
func (c *Config) SourceSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Output.SQLite = conf.SQLiteSettings{Enabled: true, Path: c.SQLitePath}
	return settings
}

// TargetSettings returns settings selecting the MySQL backend.
func (c *Config) TargetSettings() *conf.Settings {
	settings := &conf.Settings{}
	settings.Output.MySQL = c.MySQL
	settings.Output.MySQL.Enabled = true
	return settings
}

// SanitizedTarget describes the target without its password.
func (c *Config) SanitizedTarget() string {
	return fmt.Sprintf("%s:****@%s/%s", c.MySQL.Username, net.JoinHostPort(c.MySQL.Host, c.MySQL.Port), c.MySQL.Database)
}
