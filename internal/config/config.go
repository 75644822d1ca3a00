// Package config loads settings for the chat server and client. Values are
// layered: built-in defaults, then a YAML file, then CHATROOM_* environment
// variables (a .env file is loaded into the environment first). Command
// line flags are applied by the caller before Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHATROOM_"

// Config is the full configuration for both binaries.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures cmd/server.
type ServerConfig struct {
	Address        string          `yaml:"address"`
	TCPAddress     string          `yaml:"tcp_address"`
	MetricsPath    string          `yaml:"metrics_path"`
	MaxConnections int64           `yaml:"max_connections"`
	MaxFrameBytes  SizeBytes       `yaml:"max_frame_bytes"`
	OutboxLimit    int             `yaml:"outbox_limit"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	ConnectTimeout Duration        `yaml:"connect_timeout"`
}

// RateLimitConfig limits inbound frames per connection. RPS of zero
// disables the limit.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ClientConfig configures cmd/client.
type ClientConfig struct {
	URL              string    `yaml:"url"`
	Name             string    `yaml:"name"`
	Backoff          Duration  `yaml:"backoff"`
	HandshakeTimeout Duration  `yaml:"handshake_timeout"`
	QueueSize        int       `yaml:"queue_size"`
	MaxFrameBytes    SizeBytes `yaml:"max_frame_bytes"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        "127.0.0.1:2233",
			MetricsPath:    "/metrics",
			MaxFrameBytes:  64 * 1024,
			OutboxLimit:    1024,
			RateLimit:      RateLimitConfig{Burst: 1},
			ConnectTimeout: Duration(defaultConnectTimeout),
		},
		Client: ClientConfig{
			URL:              "ws://127.0.0.1:2233",
			Backoff:          Duration(defaultBackoff),
			HandshakeTimeout: Duration(defaultHandshakeTimeout),
			QueueSize:        10,
			MaxFrameBytes:    defaultClientMaxFrame,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped
// when path is empty) and the environment. envFile names a dotenv file;
// a missing one is ignored. The result is not validated.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := parseYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseYAML decodes data over cfg, rejecting unknown keys.
func parseYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
