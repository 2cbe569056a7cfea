// config.go: settings struct for birdnet-relay and the functions to load it.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/birdnet-relay/internal/errors"
	"github.com/tphakala/birdnet-relay/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// EnvPrefix is prepended to every environment override, BIRDNET_RELAY_WEBSERVER_PORT for example.
const EnvPrefix = "BIRDNET_RELAY"

// Upstream transports
const (
	TransportMQTT      = "mqtt"
	TransportWebsocket = "websocket"
)

// MainSettings contains identity and the reference time zone.
type MainSettings struct {
	Name     string // instance name, used in logs and the MQTT client id
	Timezone string // reference zone for observation dates, IANA name or "Local"
}

// ReconnectSettings bounds the upstream reconnect backoff.
type ReconnectSettings struct {
	InitialDelay time.Duration // first retry delay, doubled after each failure
	MaxDelay     time.Duration // backoff cap
}

// MQTTSettings configures the MQTT upstream source.
type MQTTSettings struct {
	Broker   string // tcp://host:1883, ssl://host:8883 or ws://host/mqtt
	ClientID string
	Username string
	Password string
	Topic    string // base topic, events arrive on <topic>/<event>
	QoS      byte
}

// WebsocketSettings configures the websocket upstream source.
type WebsocketSettings struct {
	URL              string
	HandshakeTimeout time.Duration
	PongWait         time.Duration // connection is considered lost after this long without a pong or message
	PingInterval     time.Duration // must be shorter than PongWait
}

// UpstreamSettings configures the producer connection.
type UpstreamSettings struct {
	Transport string // "mqtt" or "websocket"
	QueueSize int    // decoded events buffered between source and pipeline
	Reconnect ReconnectSettings
	MQTT      MQTTSettings
	Websocket WebsocketSettings
}

// SQLiteSettings configures the SQLite event store.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings configures the MySQL event store.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects the durable store.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// RateLimitSettings configures the HTTP rate limiter.
type RateLimitSettings struct {
	Enabled   bool
	Rate      float64       // requests per second per client
	Burst     int           // bucket size
	ExpiresIn time.Duration // idle visitor eviction
}

// WebServerSettings configures the HTTP and subscriber websocket surface.
type WebServerSettings struct {
	Enabled          bool
	Port             string
	Debug            bool
	SendTimeout      time.Duration // per-subscriber send bound before eviction
	SubscriberBuffer int           // outbound messages buffered per subscriber
	RateLimit        RateLimitSettings
	AllowedOrigins   []string // CORS and websocket origin allow list, empty allows all
}

// QuerySettings bounds history queries and the stats cache.
type QuerySettings struct {
	DefaultLimit  int
	MaxLimit      int
	StatsCacheTTL time.Duration // 0 disables the stats cache
}

// TelemetrySettings configures the Prometheus endpoint.
type TelemetrySettings struct {
	Enabled bool
	Listen  string
}

// SentrySettings configures optional error reporting.
type SentrySettings struct {
	Enabled bool
	DSN     string
}

// Settings contains all configuration options for birdnet-relay.
type Settings struct {
	Debug bool // true to enable debug logging

	Main      MainSettings
	Logging   logger.LoggingConfig
	Upstream  UpstreamSettings
	Output    OutputSettings
	WebServer WebServerSettings
	Query     QuerySettings
	Telemetry TelemetrySettings
	Sentry    SentrySettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into Settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(fmt.Errorf("error unmarshaling config into struct: %w", err)).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}
	if settings.Logging.Timezone == "" {
		settings.Logging.Timezone = settings.Main.Timezone
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper sets defaults, environment overrides and reads the configuration
// file. A missing file is not an error; the relay then runs on defaults.
func initViper() error {
	setDefaultConfig()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// --config sets the file explicitly, otherwise search the default paths
	if viper.ConfigFileUsed() == "" {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		for _, path := range GetDefaultConfigPaths() {
			viper.AddConfigPath(path)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.New(fmt.Errorf("fatal error reading config file: %w", err)).
			Component("configuration").
			Category(errors.CategoryConfiguration).
			Context("file", viper.ConfigFileUsed()).
			Build()
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".config", "birdnet-relay"))
	}
	return append(paths, "/etc/birdnet-relay")
}

// GetSettings returns the most recently loaded settings, or nil before Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultConfig returns the annotated default configuration file.
func DefaultConfig() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// WriteDefaultConfig writes the annotated default configuration to path,
// refusing to overwrite an existing file.
func WriteDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Newf("config file already exists: %s", path).
			Component("configuration").
			Category(errors.CategoryConflict).
			Build()
	}

	data, err := DefaultConfig()
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}
	return nil
}
