package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the public SweTrack REST API root.
const DefaultBaseURL = "https://api.cloudappapi.com/publicapi/v1"

// MinScanInterval is the shortest poll interval accepted, in seconds.
// Each cycle costs one roster call plus two calls per device when
// extended telemetry is enabled, so very short intervals exhaust
// typical daily quotas within hours.
const MinScanInterval = 30

// Config is the root configuration structure for swetrack-sync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	SweTrack  SweTrackConfig  `yaml:"swetrack"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// SweTrackConfig contains the upstream account and polling options.
type SweTrackConfig struct {
	// Token is the bearer token issued by the SweTrack portal.
	// The account allows a single active external token; issuing a new
	// one in the portal invalidates this value.
	Token   string `yaml:"token"`
	BaseURL string `yaml:"base_url"`

	// ScanInterval is the poll period in seconds.
	ScanInterval int `yaml:"scan_interval"`

	// FetchExtended enables the per-device position/voltage calls.
	FetchExtended bool `yaml:"fetch_extended"`

	// RequestTimeout bounds each HTTP call, in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// EnrichWorkers bounds concurrent enrichment requests. 1 is sequential.
	EnrichWorkers int `yaml:"enrich_workers"`

	// ExtendedPageSize is the number of rows requested per extended call.
	ExtendedPageSize int `yaml:"extended_page_size"`

	// ExtendedLookback restricts extended rows to the trailing window,
	// in seconds. 0 sends no time window.
	ExtendedLookback int `yaml:"extended_lookback"`

	// UnavailableAfter is the number of consecutive roster failures after
	// which the integration is reported offline.
	UnavailableAfter int `yaml:"unavailable_after"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryLimit caps the number of sync cycles kept in the cycle log.
	HistoryLimit int `yaml:"history_limit"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings for the read API.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT validation settings.
// An empty secret leaves the API unauthenticated (local deployments).
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// AlertsConfig contains operator alert settings.
type AlertsConfig struct {
	Enabled    bool       `yaml:"enabled"`
	SMTP       SMTPConfig `yaml:"smtp"`
	Recipients []string   `yaml:"recipients"`
}

// SMTPConfig contains the mail relay used for alerts.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SWETRACK_SECTION_KEY
// For example: SWETRACK_TOKEN, SWETRACK_DATABASE_PATH
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

// LoadFromEnv builds a configuration from defaults and environment variables
// only. Used by the one-shot CLI commands when no config file exists.
func LoadFromEnv() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		SweTrack: SweTrackConfig{
			BaseURL:          DefaultBaseURL,
			ScanInterval:     300,
			FetchExtended:    true,
			RequestTimeout:   20,
			EnrichWorkers:    4,
			ExtendedPageSize: 1,
			UnavailableAfter: 3,
		},
		Database: DatabaseConfig{
			Path:         "./data/swetrack.db",
			WALMode:      true,
			BusyTimeout:  5,
			HistoryLimit: 10000,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "swetrack-sync",
			},
			QoS:         1,
			TopicPrefix: "swetrack",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Alerts: AlertsConfig{
			SMTP: SMTPConfig{Port: 587},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SWETRACK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Upstream account
	if v := os.Getenv("SWETRACK_TOKEN"); v != "" {
		cfg.SweTrack.Token = strings.TrimSpace(v)
	}
	if v := os.Getenv("SWETRACK_BASE_URL"); v != "" {
		cfg.SweTrack.BaseURL = v
	}
	if v := os.Getenv("SWETRACK_SCAN_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SweTrack.ScanInterval = n
		}
	}
	if v := os.Getenv("SWETRACK_FETCH_EXTENDED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SweTrack.FetchExtended = b
		}
	}

	// Database
	if v := os.Getenv("SWETRACK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SWETRACK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SWETRACK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SWETRACK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SWETRACK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SWETRACK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Secrets
	if v := os.Getenv("SWETRACK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("SWETRACK_SMTP_PASSWORD"); v != "" {
		cfg.Alerts.SMTP.Password = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Upstream account
	if strings.TrimSpace(c.SweTrack.Token) == "" {
		errs = append(errs, "swetrack.token is required (set SWETRACK_TOKEN environment variable)")
	}
	if u, err := url.Parse(c.SweTrack.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "swetrack.base_url must be an absolute URL")
	}
	if c.SweTrack.ScanInterval < MinScanInterval {
		errs = append(errs, fmt.Sprintf("swetrack.scan_interval must be at least %d seconds", MinScanInterval))
	}
	if c.SweTrack.RequestTimeout <= 0 {
		errs = append(errs, "swetrack.request_timeout must be positive")
	}
	if c.SweTrack.EnrichWorkers < 1 {
		errs = append(errs, "swetrack.enrich_workers must be at least 1")
	}
	if c.SweTrack.ExtendedPageSize < 1 {
		errs = append(errs, "swetrack.extended_page_size must be at least 1")
	}
	if c.SweTrack.ExtendedLookback < 0 {
		errs = append(errs, "swetrack.extended_lookback cannot be negative")
	}
	if c.SweTrack.UnavailableAfter < 1 {
		errs = append(errs, "swetrack.unavailable_after must be at least 1")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// An empty secret disables API authentication; a set one must be strong.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	// Alerts
	if c.Alerts.Enabled {
		if c.Alerts.SMTP.Host == "" {
			errs = append(errs, "alerts.smtp.host is required when alerts are enabled")
		}
		if len(c.Alerts.Recipients) == 0 {
			errs = append(errs, "alerts.recipients must list at least one address")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetScanInterval returns the poll interval as a Duration.
func (c *Config) GetScanInterval() time.Duration {
	return time.Duration(c.SweTrack.ScanInterval) * time.Second
}

// GetRequestTimeout returns the per-call upstream timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.SweTrack.RequestTimeout) * time.Second
}

// GetExtendedLookback returns the extended telemetry window as a Duration.
func (c *Config) GetExtendedLookback() time.Duration {
	return time.Duration(c.SweTrack.ExtendedLookback) * time.Second
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
