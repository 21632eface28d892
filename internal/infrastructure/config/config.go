package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for cookerd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Device  DeviceConfig  `yaml:"device"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Logging LoggingConfig `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// AvailabilityTopic carries the bridge's online/offline marker. The
	// broker-side last will is registered on it, so it lives with the
	// connection settings rather than the bridge topics.
	AvailabilityTopic string `yaml:"availability_topic"`
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

// DeviceConfig contains appliance identity and protocol settings.
type DeviceConfig struct {
	// Address is the appliance's Bluetooth address (AA:BB:CC:DD:EE:FF).
	Address string `yaml:"address"`

	// AuthKey is the 8-byte pairing key as a hex string (16 hex digits).
	AuthKey string `yaml:"auth_key"`

	// WriteUUID is the GATT characteristic UUID commands are written to.
	WriteUUID string `yaml:"write_uuid"`

	// NotifyUUID is the GATT characteristic UUID notifications arrive on.
	NotifyUUID string `yaml:"notify_uuid"`

	// DiscoveryAttempts is how many passes one discovery makes over the
	// adapter's known devices before giving up.
	DiscoveryAttempts int `yaml:"discovery_attempts"`

	// ScanMinIntervalSeconds rate-limits how often a Bluetooth scan is
	// started.
	ScanMinIntervalSeconds int `yaml:"scan_min_interval_seconds"`

	// OffCommand is the command byte sent for turn-off. Some firmware
	// revisions use a different opcode.
	OffCommand int `yaml:"off_command"`
}

// BridgeConfig contains bridge scheduling and topic settings.
type BridgeConfig struct {
	// StateTopic receives the serialized appliance status, retained.
	StateTopic string `yaml:"state_topic"`

	// OffTopic is watched for turn-off triggers.
	OffTopic string `yaml:"off_topic"`

	// HealthTopic receives periodic health reports, retained.
	HealthTopic string `yaml:"health_topic"`

	// PollIntervalMs is the recurring poll cadence in milliseconds.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// IdleCeilingMinutes bounds implied session activity before the
	// watchdog forces a disconnect.
	IdleCeilingMinutes int `yaml:"idle_ceiling_minutes"`

	// HealthIntervalSeconds is the health report cadence. Zero disables
	// health reporting.
	HealthIntervalSeconds int `yaml:"health_interval_seconds"`
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
// Environment variables follow the pattern: COOKERD_SECTION_KEY
// For example: COOKERD_MQTT_HOST, COOKERD_DEVICE_ADDRESS
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cookerd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			AvailabilityTopic: "home/m223s/bridge",
		},
		Device: DeviceConfig{
			Address:                "F9:DA:73:71:23:4A",
			AuthKey:                "a43b64b0a3fbaecb",
			WriteUUID:              "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
			NotifyUUID:             "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
			DiscoveryAttempts:      5,
			ScanMinIntervalSeconds: 60,
			OffCommand:             0x04,
		},
		Bridge: BridgeConfig{
			StateTopic:            "home/m223s/state",
			OffTopic:              "home/m223s/off",
			HealthTopic:           "home/m223s/health",
			PollIntervalMs:        7500,
			IdleCeilingMinutes:    10,
			HealthIntervalSeconds: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: COOKERD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("COOKERD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("COOKERD_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("COOKERD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("COOKERD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Device
	if v := os.Getenv("COOKERD_DEVICE_ADDRESS"); v != "" {
		cfg.Device.Address = v
	}
	if v := os.Getenv("COOKERD_DEVICE_AUTH_KEY"); v != "" {
		cfg.Device.AuthKey = v
	}

	// Logging
	if v := os.Getenv("COOKERD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}

	// Device validation
	if c.Device.Address == "" {
		errs = append(errs, "device.address is required (set COOKERD_DEVICE_ADDRESS environment variable)")
	}
	if c.Device.AuthKey == "" {
		errs = append(errs, "device.auth_key is required (set COOKERD_DEVICE_AUTH_KEY environment variable)")
	} else if _, err := c.Device.AuthKeyBytes(); err != nil {
		errs = append(errs, fmt.Sprintf("device.auth_key: %v", err))
	}
	if c.Device.OffCommand < 0 || c.Device.OffCommand > 0xff {
		errs = append(errs, "device.off_command must fit in one byte")
	}

	// Bridge validation
	if c.Bridge.StateTopic == "" {
		errs = append(errs, "bridge.state_topic is required")
	}
	if c.Bridge.OffTopic == "" {
		errs = append(errs, "bridge.off_topic is required")
	}
	if c.Bridge.PollIntervalMs < 1 {
		errs = append(errs, "bridge.poll_interval_ms must be positive")
	}
	if c.Bridge.IdleCeilingMinutes < 1 {
		errs = append(errs, "bridge.idle_ceiling_minutes must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// AuthKeyBytes decodes the pairing key from its hex representation.
func (d *DeviceConfig) AuthKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(d.AuthKey)
	if err != nil {
		return nil, fmt.Errorf("must be a hex string: %w", err)
	}
	if len(key) != 8 {
		return nil, fmt.Errorf("must be 8 bytes, got %d", len(key))
	}
	return key, nil
}

// GetPollInterval returns the poll cadence as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Bridge.PollIntervalMs) * time.Millisecond
}

// GetIdleCeiling returns the idle-disconnect ceiling as a Duration.
func (c *Config) GetIdleCeiling() time.Duration {
	return time.Duration(c.Bridge.IdleCeilingMinutes) * time.Minute
}

// GetHealthInterval returns the health report cadence as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthIntervalSeconds) * time.Second
}

// GetScanMinInterval returns the discovery scan rate limit as a Duration.
func (c *Config) GetScanMinInterval() time.Duration {
	return time.Duration(c.Device.ScanMinIntervalSeconds) * time.Second
}
