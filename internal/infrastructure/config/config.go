package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. INSTRUMENTSTATION_TRANSPORT_PORT.
const EnvPrefix = "INSTRUMENTSTATION_"

// Config is the root configuration structure for the instrument station.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Station   StationConfig   `yaml:"station"`
	Transport TransportConfig `yaml:"transport"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Client    ClientConfig    `yaml:"client"`
}

// StationConfig identifies this station.
type StationConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// TransportConfig contains the request channel (WebSocket) settings.
type TransportConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	ReadTimeout    int    `yaml:"read_timeout"`
	WriteTimeout   int    `yaml:"write_timeout"`
	IdleTimeout    int    `yaml:"idle_timeout"`
}

// BroadcastConfig contains the publish channel settings.
type BroadcastConfig struct {
	TopicPrefix string `yaml:"topic_prefix"`
	QueueSize   int    `yaml:"queue_size"`
	QoS         int    `yaml:"qos"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite settings for the change journal.
// HistoryRetention is in hours; 0 keeps everything.
type DatabaseConfig struct {
	Path             string `yaml:"path"`
	WALMode          bool   `yaml:"wal_mode"`
	BusyTimeout      int    `yaml:"busy_timeout"`
	HistoryEnabled   bool   `yaml:"history_enabled"`
	HistoryRetention int    `yaml:"history_retention"`
}

// InfluxDBConfig contains InfluxDB connection settings for parameter telemetry.
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer token settings. An empty secret disables
// authentication on the request channel. TokenTTL is in minutes.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	TokenTTL int    `yaml:"token_ttl"`
}

// ClientConfig contains defaults for programs connecting to a station.
type ClientConfig struct {
	URL               string   `yaml:"url"`
	Token             string   `yaml:"token"`
	TimeoutMS         int      `yaml:"timeout_ms"`
	RaiseErrors       bool     `yaml:"raise_errors"`
	SubscribePrefixes []string `yaml:"subscribe_prefixes"`
	PollIntervalMS    int      `yaml:"poll_interval_ms"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern INSTRUMENTSTATION_SECTION_KEY,
// for example INSTRUMENTSTATION_DATABASE_PATH or INSTRUMENTSTATION_TRANSPORT_PORT.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Station: StationConfig{
			ID:   "station-001",
			Name: "Instrument Station",
		},
		Transport: TransportConfig{
			Host:           "0.0.0.0",
			Port:           5555,
			Path:           "/ws",
			MaxMessageSize: 1 << 20,
			PingInterval:   30,
			PongTimeout:    10,
			ReadTimeout:    30,
			WriteTimeout:   30,
			IdleTimeout:    60,
		},
		Broadcast: BroadcastConfig{
			TopicPrefix: "station/events",
			QueueSize:   256,
			QoS:         1,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "instrument-station",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:           "./data/station.db",
			WALMode:        true,
			BusyTimeout:    5,
			HistoryEnabled: true,
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
		Security: SecurityConfig{
			JWT: JWTConfig{TokenTTL: 60},
		},
		Client: ClientConfig{
			URL:            "ws://localhost:5555/ws",
			TimeoutMS:      5000,
			RaiseErrors:    true,
			PollIntervalMS: 100,
		},
	}
}

// applyEnvOverrides applies INSTRUMENTSTATION_* environment variables.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"STATION_ID":             &cfg.Station.ID,
		"TRANSPORT_HOST":         &cfg.Transport.Host,
		"BROADCAST_TOPIC_PREFIX": &cfg.Broadcast.TopicPrefix,
		"MQTT_HOST":              &cfg.MQTT.Broker.Host,
		"MQTT_USERNAME":          &cfg.MQTT.Auth.Username,
		"MQTT_PASSWORD":          &cfg.MQTT.Auth.Password,
		"DATABASE_PATH":          &cfg.Database.Path,
		"INFLUXDB_URL":           &cfg.InfluxDB.URL,
		"INFLUXDB_TOKEN":         &cfg.InfluxDB.Token,
		"LOGGING_LEVEL":          &cfg.Logging.Level,
		"JWT_SECRET":             &cfg.Security.JWT.Secret,
		"CLIENT_URL":             &cfg.Client.URL,
		"CLIENT_TOKEN":           &cfg.Client.Token,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"TRANSPORT_PORT": &cfg.Transport.Port,
		"MQTT_PORT":      &cfg.MQTT.Broker.Port,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"MQTT_ENABLED":     &cfg.MQTT.Enabled,
		"INFLUXDB_ENABLED": &cfg.InfluxDB.Enabled,
	}
	for key, dst := range bools {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Station.ID == "" {
		errs = append(errs, "station.id is required")
	}
	if c.Transport.Port < 1 || c.Transport.Port > 65535 {
		errs = append(errs, "transport.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(c.Transport.Path, "/") {
		errs = append(errs, "transport.path must start with /")
	}
	if c.Transport.MaxMessageSize <= 0 {
		errs = append(errs, "transport.max_message_size must be positive")
	}
	if c.Broadcast.TopicPrefix == "" || strings.ContainsAny(c.Broadcast.TopicPrefix, "#+") {
		errs = append(errs, "broadcast.topic_prefix must be non-empty and free of MQTT wildcards")
	}
	if c.Broadcast.QoS < 0 || c.Broadcast.QoS > 2 {
		errs = append(errs, "broadcast.qos must be 0, 1, or 2")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.Database.HistoryEnabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// Authentication is optional, but a configured secret must resist brute force.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Addr returns the host:port the transport listens on.
func (t TransportConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// PingPeriod returns the WebSocket keepalive interval.
func (t TransportConfig) PingPeriod() time.Duration {
	return time.Duration(t.PingInterval) * time.Second
}

// PongWait returns how long to wait for a pong before dropping a connection.
func (t TransportConfig) PongWait() time.Duration {
	return time.Duration(t.PongTimeout) * time.Second
}

// Timeout returns the client call timeout.
func (c ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// PollInterval returns the subscriber poll interval.
func (c ClientConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// TTL returns the bearer token lifetime.
func (j JWTConfig) TTL() time.Duration {
	return time.Duration(j.TokenTTL) * time.Minute
}
