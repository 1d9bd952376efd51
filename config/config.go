// Package config loads flowchain configuration from an optional YAML file
// and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Broker   BrokerConfig   `koanf:"broker"`
	Flow     FlowConfig     `koanf:"flow"`
	Log      LogConfig      `koanf:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Driver   string `koanf:"driver"` // postgres or memory
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// BrokerConfig selects the realtime transport.
type BrokerConfig struct {
	Driver         string        `koanf:"driver"` // nats, redis or none
	NATSURL        string        `koanf:"nats_url"`
	RedisURL       string        `koanf:"redis_url"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`
}

// FlowConfig bounds flow chain traversal.
type FlowConfig struct {
	MaxNodes int `koanf:"max_nodes"`
	MaxDepth int `koanf:"max_depth"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Load reads configuration with this precedence (highest first):
//  1. Environment variables (SERVER_PORT, DATABASE_URL, BROKER_NATS_URL, ...)
//  2. The YAML file at path, if path is not empty
//  3. Defaults
//
// Environment variables map onto keys by splitting on the first underscore,
// and empty ones count as unset:
//
//	DATABASE_URL        -> database.url
//	BROKER_NATS_URL     -> broker.nats_url
//	SERVER_SHUTDOWN_TIMEOUT -> server.shutdown_timeout
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

var sections = map[string]bool{
	"server": true, "database": true, "broker": true, "flow": true, "log": true,
}

// envKey maps SECTION_FIELD_NAME to section.field_name. Variables outside the
// known sections are ignored.
func envKey(s string) string {
	parts := strings.SplitN(strings.ToLower(s), "_", 2)
	if len(parts) != 2 || !sections[parts[0]] {
		return ""
	}
	return parts[0] + "." + parts[1]
}

// envValue skips empty variables so they do not clobber file values.
func envValue(key, value string) (string, interface{}) {
	if value == "" {
		return "", nil
	}
	return envKey(key), value
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.Broker.Driver == "" {
		cfg.Broker.Driver = "nats"
	}
	if cfg.Broker.NATSURL == "" {
		cfg.Broker.NATSURL = "nats://localhost:4222"
	}
	if cfg.Broker.RedisURL == "" {
		cfg.Broker.RedisURL = "redis://localhost:6379"
	}
	if cfg.Broker.PublishTimeout == 0 {
		cfg.Broker.PublishTimeout = 2 * time.Second
	}
	if cfg.Flow.MaxNodes == 0 {
		cfg.Flow.MaxNodes = 500
	}
	if cfg.Flow.MaxDepth == 0 {
		cfg.Flow.MaxDepth = 16
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for the postgres driver (set DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be 'postgres' or 'memory', got %q", c.Database.Driver)
	}
	switch c.Broker.Driver {
	case "nats", "redis", "none":
	default:
		return fmt.Errorf("broker.driver must be 'nats', 'redis' or 'none', got %q", c.Broker.Driver)
	}
	if c.Broker.PublishTimeout < 0 {
		return fmt.Errorf("broker.publish_timeout must not be negative")
	}
	if c.Flow.MaxNodes < 1 || c.Flow.MaxDepth < 1 {
		return fmt.Errorf("flow.max_nodes and flow.max_depth must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log.format must be 'json' or 'console', got %q", c.Log.Format)
	}
	return nil
}

// Addr is the host:port the HTTP server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
