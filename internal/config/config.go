// Package config loads YAML configuration with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the signaged server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Sync    SyncConfig    `yaml:"sync"`
	Pairing PairingConfig `yaml:"pairing"`
	NATS    NATSConfig    `yaml:"nats"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig holds the HTTP/websocket listener settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ShutdownTimeout int      `yaml:"shutdown_timeout_seconds"`
}

// SyncConfig holds sync group coordinator settings.
type SyncConfig struct {
	// TickIntervalMS is the broadcast cadence for playing groups.
	TickIntervalMS int `yaml:"tick_interval_ms"`
}

// PairingConfig holds pairing broker settings.
type PairingConfig struct {
	CodeLength    int `yaml:"code_length"`
	ExpirySeconds int `yaml:"expiry_seconds"`
}

// NATSConfig holds the domain-event bridge settings. An empty URL
// disables the bridge (single-box deployments).
type NATSConfig struct {
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream_name"`
	ConsumerName  string `yaml:"consumer_name"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 10,
		},
		Sync: SyncConfig{
			TickIntervalMS: 1000,
		},
		Pairing: PairingConfig{
			CodeLength:    6,
			ExpirySeconds: 300,
		},
		NATS: NATSConfig{
			StreamName:    "SIGNAGE_EVENTS",
			ConsumerName:  "signage-core",
			SubjectPrefix: "signage",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path (if it exists) and applies
// environment overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.Server.Port = getEnvAsInt("PORT", cfg.Server.Port)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	if cfg.Sync.TickIntervalMS <= 0 {
		return nil, fmt.Errorf("sync.tick_interval_ms must be positive, got %d", cfg.Sync.TickIntervalMS)
	}
	if cfg.Pairing.ExpirySeconds <= 0 {
		return nil, fmt.Errorf("pairing.expiry_seconds must be positive, got %d", cfg.Pairing.ExpirySeconds)
	}
	return cfg, nil
}

// TickInterval returns the tick cadence as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Sync.TickIntervalMS) * time.Millisecond
}

// PairingExpiry returns the pairing code TTL as a duration.
func (c *Config) PairingExpiry() time.Duration {
	return time.Duration(c.Pairing.ExpirySeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
