// Package config loads settings for the go-robotstate commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-robotstate/internal/log"
	"github.com/teslashibe/go-robotstate/pkg/robotstate"
	"github.com/teslashibe/go-robotstate/pkg/tf"
)

// Default service configuration.
const (
	DefaultPort     = "8090"
	DefaultLogLevel = "info"
)

// Environment variables read by ApplyEnv.
const (
	EnvConfig   = "ROBOT_STATE_CONFIG"
	EnvPort     = "ROBOT_STATE_PORT"
	EnvLogLevel = "ROBOT_STATE_LOG_LEVEL"
)

// ErrUnsupportedFormat is returned by Load for files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("config: unsupported file format")

// Config is the robot-state service configuration.
type Config struct {
	Port     string `yaml:"port" toml:"port"`
	LogLevel string `yaml:"log_level" toml:"log_level"`

	// TFCacheTime bounds how long a dynamic transform stays usable.
	TFCacheTime time.Duration `yaml:"tf_cache_time" toml:"tf_cache_time"`

	Node robotstate.Config `yaml:"node" toml:"node"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:        DefaultPort,
		LogLevel:    DefaultLogLevel,
		TFCacheTime: tf.DefaultCacheTime,
		Node:        robotstate.DefaultConfig(),
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yaml, .yml or .toml. Keys missing from the file keep their default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		_, err = toml.Decode(string(data), &cfg)
	default:
		return cfg, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv loads the file named by ROBOT_STATE_CONFIG when set, falling back
// to the defaults, then applies the remaining environment overrides.
func FromEnv() (Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvConfig); path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides settings from ROBOT_STATE_PORT and ROBOT_STATE_LOG_LEVEL.
func (c *Config) ApplyEnv() {
	c.Port = envOr(EnvPort, c.Port)
	c.LogLevel = envOr(EnvLogLevel, c.LogLevel)
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Port == "" {
		return errors.New("config: port is required")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.TFCacheTime <= 0 {
		return errors.New("config: tf_cache_time must be positive")
	}
	if err := c.Node.Validate(); err != nil {
		return err
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
