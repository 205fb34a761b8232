// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig `yaml:"device"`
	MQTT     MQTTConfig   `yaml:"mqtt"`
	LogLevel string       `yaml:"log_level"`
}

// DeviceConfig identifies the light and tunes link supervision.
type DeviceConfig struct {
	Address               string `yaml:"address"` // BLE address, e.g. AA:BB:CC:DD:EE:FF
	Name                  string `yaml:"name"`
	ReconnectDelaySeconds int    `yaml:"reconnect_delay_seconds"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds"`
}

// MQTTConfig holds broker settings for state publishing.
type MQTTConfig struct {
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // default: surplight/<address>
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "surplight")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values. The device
// address has no default; it must come from the config file or flags.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:                  "Surplife Light",
			ReconnectDelaySeconds: 5,
			ConnectTimeoutSeconds: 10,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "surplight",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Address == "" {
		return fmt.Errorf("device.address must not be empty")
	}

	if c.Device.ReconnectDelaySeconds <= 0 {
		return fmt.Errorf("device.reconnect_delay_seconds must be > 0, got %d", c.Device.ReconnectDelaySeconds)
	}

	if c.Device.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("device.connect_timeout_seconds must be > 0, got %d", c.Device.ConnectTimeoutSeconds)
	}

	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker must not be empty")
	}

	if c.MQTT.ClientID == "" {
		return fmt.Errorf("mqtt.client_id must not be empty")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// EffectiveTopicPrefix returns the configured topic prefix, defaulting
// to surplight/<address>.
func (c *Config) EffectiveTopicPrefix() string {
	if c.MQTT.TopicPrefix != "" {
		return c.MQTT.TopicPrefix
	}
	return "surplight/" + c.Device.Address
}
