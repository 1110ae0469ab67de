package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported values for history.store.
const (
	StoreSQLite   = "sqlite"
	StoreInfluxDB = "influxdb"
	StoreTSDB     = "tsdb"
	StorePostgres = "postgres"
)

// Config is the root configuration structure for the history service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	Security SecurityConfig `yaml:"security"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	TSDB     TSDBConfig     `yaml:"tsdb"`
	Postgres PostgresConfig `yaml:"postgres"`
	Logging  LoggingConfig  `yaml:"logging"`
	Meter    MeterConfig    `yaml:"meter"`
	History  HistoryConfig  `yaml:"history"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings for the status event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings. An empty secret leaves the
// API open, which is only appropriate on a trusted LAN.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// TSDBConfig contains VictoriaMetrics connection settings.
type TSDBConfig struct {
	URL    string `yaml:"url"`
	Metric string `yaml:"metric"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MeterConfig contains the remote metering API settings.
type MeterConfig struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Timeout int    `yaml:"timeout"`
}

// HistoryConfig contains backfill scheduling settings.
type HistoryConfig struct {
	Store            string             `yaml:"store"`
	WindowDays       int                `yaml:"window_days"`
	IntervalMinutes  int                `yaml:"interval_minutes"`
	Concurrency      int                `yaml:"concurrency"`
	Retry            HistoryRetryConfig `yaml:"retry"`
	RunRetentionDays int                `yaml:"run_retention_days"`
	Channels         []HistoryChannel   `yaml:"channels"`
}

// HistoryRetryConfig bounds the backoff after communication errors.
type HistoryRetryConfig struct {
	InitialSeconds int `yaml:"initial_seconds"`
	MaxSeconds     int `yaml:"max_seconds"`
}

// HistoryChannel maps a remote resource to a local item.
type HistoryChannel struct {
	ResourceID string `yaml:"resource_id"`
	Item       string `yaml:"item"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_METER_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/history.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-history",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8091,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		InfluxDB: InfluxDBConfig{
			URL:         "http://localhost:8086",
			Measurement: "meter_history",
		},
		TSDB: TSDBConfig{
			URL:    "http://localhost:8428",
			Metric: "meter_history",
		},
		Postgres: PostgresConfig{
			MaxConns: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Meter: MeterConfig{
			Timeout: 30,
		},
		History: HistoryConfig{
			Store:           StoreSQLite,
			WindowDays:      365,
			IntervalMinutes: 60,
			Concurrency:     4,
			Retry: HistoryRetryConfig{
				InitialSeconds: 30,
				MaxSeconds:     900,
			},
			RunRetentionDays: 90,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Security - JWT secret
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Stores
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("GRAYLOGIC_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("GRAYLOGIC_HISTORY_STORE"); v != "" {
		cfg.History.Store = v
	}

	// Meter - the token should never live in the config file
	if v := os.Getenv("GRAYLOGIC_METER_URL"); v != "" {
		cfg.Meter.URL = v
	}
	if v := os.Getenv("GRAYLOGIC_METER_TOKEN"); v != "" {
		cfg.Meter.Token = v
	}
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if ws := c.API.WebSocket; ws.MaxMessageSize < 1 || ws.PingInterval < 1 || ws.PongTimeout < 1 {
		errs = append(errs, "api.websocket values must be positive")
	}

	if c.Meter.URL == "" {
		errs = append(errs, "meter.url is required (set GRAYLOGIC_METER_URL environment variable)")
	} else if u, err := url.Parse(c.Meter.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "meter.url must be an absolute URL")
	}
	if c.Meter.Token == "" {
		errs = append(errs, "meter.token is required (set GRAYLOGIC_METER_TOKEN environment variable)")
	}

	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateHistory()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.History.Store {
	case StoreSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite store")
		}
	case StoreInfluxDB:
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, influxdb.org and influxdb.bucket are required for the influxdb store")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required (set GRAYLOGIC_INFLUXDB_TOKEN environment variable)")
		}
	case StoreTSDB:
		if c.TSDB.URL == "" {
			errs = append(errs, "tsdb.url is required for the tsdb store")
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, "postgres.dsn is required (set GRAYLOGIC_POSTGRES_DSN environment variable)")
		}
	default:
		errs = append(errs, fmt.Sprintf("history.store must be one of %s, %s, %s, %s",
			StoreSQLite, StoreInfluxDB, StoreTSDB, StorePostgres))
	}
	return errs
}

func (c *Config) validateHistory() []string {
	var errs []string
	h := c.History

	if h.WindowDays < 1 {
		errs = append(errs, "history.window_days must be at least 1")
	}
	if h.IntervalMinutes < 1 {
		errs = append(errs, "history.interval_minutes must be at least 1")
	}
	if h.Concurrency < 1 {
		errs = append(errs, "history.concurrency must be at least 1")
	}
	if h.Retry.InitialSeconds < 1 || h.Retry.MaxSeconds < h.Retry.InitialSeconds {
		errs = append(errs, "history.retry requires 1 <= initial_seconds <= max_seconds")
	}
	if h.RunRetentionDays < 1 {
		errs = append(errs, "history.run_retention_days must be at least 1")
	}

	if len(h.Channels) == 0 {
		errs = append(errs, "history.channels must list at least one channel")
	}
	var seen []string
	for i, ch := range h.Channels {
		if ch.ResourceID == "" || ch.Item == "" {
			errs = append(errs, fmt.Sprintf("history.channels[%d] requires resource_id and item", i))
			continue
		}
		if slices.Contains(seen, ch.ResourceID) {
			errs = append(errs, fmt.Sprintf("history.channels[%d]: duplicate resource_id %q", i, ch.ResourceID))
		}
		seen = append(seen, ch.ResourceID)
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetMeterTimeout returns the remote API request timeout as a Duration.
func (c *Config) GetMeterTimeout() time.Duration {
	return time.Duration(c.Meter.Timeout) * time.Second
}

// GetHistoryWindow returns the rolling window kept complete.
func (c *Config) GetHistoryWindow() time.Duration {
	return time.Duration(c.History.WindowDays) * 24 * time.Hour
}

// GetHistoryInterval returns the delay between scheduled runs.
func (c *Config) GetHistoryInterval() time.Duration {
	return time.Duration(c.History.IntervalMinutes) * time.Minute
}

// GetRetryInitial returns the first backoff delay after a communication error.
func (c *Config) GetRetryInitial() time.Duration {
	return time.Duration(c.History.Retry.InitialSeconds) * time.Second
}

// GetRetryMax returns the longest backoff delay after communication errors.
func (c *Config) GetRetryMax() time.Duration {
	return time.Duration(c.History.Retry.MaxSeconds) * time.Second
}

// GetRunRetention returns how long finished runs are kept in the run log.
func (c *Config) GetRunRetention() time.Duration {
	return time.Duration(c.History.RunRetentionDays) * 24 * time.Hour
}
