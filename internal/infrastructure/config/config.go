package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Neewer control daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Lights    []LightConfig   `yaml:"lights"`
	BLE       BLEConfig       `yaml:"ble"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LightConfig identifies one managed light. The set of lights is fixed for
// the process lifetime; lights absent at startup are retried forever.
type LightConfig struct {
	// MAC is the stable hardware address of the light (case-insensitive).
	MAC string `yaml:"mac"`

	// Name is the human-readable display name used in status snapshots.
	Name string `yaml:"name"`
}

// BLEConfig contains radio and orchestration tunables.
type BLEConfig struct {
	// ScanWindow is how long a discovery scan runs before giving up on
	// targets that have not advertised. Default: 8s.
	ScanWindow time.Duration `yaml:"scan_window"`

	// ConnectTimeout bounds a single GATT connect and setup sequence.
	// Default: 20s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ProbeTimeout bounds a single liveness probe read. Default: 3s.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// MaxConcurrentConnects is the admission gate capacity: how many
	// connect sequences may run against the adapter at once. Default: 2.
	MaxConcurrentConnects int `yaml:"max_concurrent_connects"`

	// ReconnectInterval is the delay before retrying a disconnected light.
	// Default: 10s. Lower values recover faster at the cost of radio load.
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`

	// PollInterval is how often connected lights are liveness-probed.
	// Default: 5s.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SweepInterval is the backstop sweep that re-arms reconnects for every
	// light that is neither connected nor busy, in case a timer was lost
	// (e.g. the host resumed from sleep). Default: 1h.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// StartupStagger is the per-light jitter applied before each initial
	// connect attempt queues on the admission gate. Default: 150ms.
	StartupStagger time.Duration `yaml:"startup_stagger"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// MQTTConfig contains optional MQTT broker settings. When disabled, the
// daemon runs without MQTT and serves status over the WebSocket API only.
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NEEWER_SECTION_KEY
// For example: NEEWER_API_PORT, NEEWER_MQTT_HOST
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
		BLE: BLEConfig{
			ScanWindow:            8 * time.Second,
			ConnectTimeout:        20 * time.Second,
			ProbeTimeout:          3 * time.Second,
			MaxConcurrentConnects: 2,
			ReconnectInterval:     10 * time.Second,
			PollInterval:          5 * time.Second,
			SweepInterval:         time.Hour,
			StartupStagger:        150 * time.Millisecond,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8655,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    10,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "neewerctl",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NEEWER_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("NEEWER_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("NEEWER_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("NEEWER_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("NEEWER_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("NEEWER_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Logging
	if v := os.Getenv("NEEWER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if len(c.Lights) == 0 {
		errs = append(errs, "at least one light must be configured")
	}

	seen := make(map[string]bool, len(c.Lights))
	for i, l := range c.Lights {
		if l.MAC == "" {
			errs = append(errs, fmt.Sprintf("lights[%d].mac is required", i))
			continue
		}
		key := strings.ToLower(l.MAC)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("lights[%d].mac %q is duplicated", i, l.MAC))
		}
		seen[key] = true
	}

	if c.BLE.MaxConcurrentConnects < 1 {
		errs = append(errs, "ble.max_concurrent_connects must be at least 1")
	}
	if c.BLE.ScanWindow <= 0 {
		errs = append(errs, "ble.scan_window must be positive")
	}
	if c.BLE.PollInterval <= 0 {
		errs = append(errs, "ble.poll_interval must be positive")
	}
	if c.BLE.ReconnectInterval <= 0 {
		errs = append(errs, "ble.reconnect_interval must be positive")
	}
	if c.BLE.SweepInterval <= 0 {
		errs = append(errs, "ble.sweep_interval must be positive")
	}
	if c.BLE.ConnectTimeout <= 0 {
		errs = append(errs, "ble.connect_timeout must be positive")
	}
	if c.BLE.ProbeTimeout <= 0 {
		errs = append(errs, "ble.probe_timeout must be positive")
	}
	if c.BLE.StartupStagger < 0 {
		errs = append(errs, "ble.startup_stagger must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled {
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if c.MQTT.Broker.Host == "" {
			errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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
