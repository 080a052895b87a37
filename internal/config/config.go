package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up in the working directory.
const DefaultPath = "pergola.yaml"

// EncryptionKeyEnv holds the hex-encoded AES-256 key enabling checkpoint encryption.
const EncryptionKeyEnv = "PERGOLA_ENCRYPTION_KEY"

// Store backends.
const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
)

// StoreConfig selects and configures the checkpoint store.
type StoreConfig struct {
	Type string `yaml:"type" json:"type"`
	// Path is the directory of the file store.
	Path string `yaml:"path" json:"path"`

	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" json:"redis_password"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db"`
	Prefix        string        `yaml:"prefix" json:"prefix"`
	TTL           time.Duration `yaml:"ttl" json:"ttl"`
	// Lock enables the distributed Redis lock around checkpoint commits.
	Lock bool `yaml:"lock" json:"lock"`
}

// LogConfig configures the application logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// EngineConfig holds executor limits and interrupts.
type EngineConfig struct {
	MaxConcurrency  int      `yaml:"max_concurrency" json:"max_concurrency"`
	RecursionLimit  int      `yaml:"recursion_limit" json:"recursion_limit"`
	HistoryLimit    *int     `yaml:"history_limit" json:"history_limit"`
	InterruptBefore []string `yaml:"interrupt_before" json:"interrupt_before"`
	InterruptAfter  []string `yaml:"interrupt_after" json:"interrupt_after"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr        string `yaml:"addr" json:"addr"`
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`
}

// Config is the structure of pergola.yaml.
type Config struct {
	// Graph names a built-in workflow. Ignored when Topology is set.
	Graph string `yaml:"graph" json:"graph"`
	// Topology is a directory of node documents loaded with Loam.
	Topology string `yaml:"topology" json:"topology"`
	// Processes is a YAML or JSON file of external commands registered as
	// node bodies. Commands run from the topology directory when set.
	Processes string `yaml:"processes" json:"processes"`

	Store  StoreConfig  `yaml:"store" json:"store"`
	Log    LogConfig    `yaml:"log" json:"log"`
	Engine EngineConfig `yaml:"engine" json:"engine"`
	Server ServerConfig `yaml:"server" json:"server"`

	// Redact lists patterns of state keys whose values are masked in the
	// persisted checkpoint history.
	Redact []string `yaml:"redact" json:"redact"`

	// EncryptionKey is decoded from EncryptionKeyEnv, never from the file.
	EncryptionKey []byte `yaml:"-" json:"-"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Graph: "report",
		Store: StoreConfig{
			Type:   StoreMemory,
			Path:   ".pergola/threads",
			Prefix: "pergola:",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsPath: "/metrics",
		},
	}
}

// Load reads a configuration file (YAML or JSON) over the defaults and
// applies environment overrides. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	default:
		if strings.ToLower(filepath.Ext(path)) == ".json" {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("PERGOLA_STORE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("PERGOLA_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("PERGOLA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(EncryptionKeyEnv); v != "" {
		key, err := hex.DecodeString(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid hex: %w", EncryptionKeyEnv, err)
		}
		c.EncryptionKey = key
	}
	return nil
}

// Validate checks the values that cannot be defaulted.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Type {
	case StoreMemory:
	case StoreFile:
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store.path is required for the file store"))
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store type %q", c.Store.Type))
	}
	if c.Store.Lock && c.Store.Type != StoreRedis {
		errs = append(errs, errors.New("store.lock requires the redis store"))
	}
	if c.EncryptionKey != nil && len(c.EncryptionKey) != 32 {
		errs = append(errs, fmt.Errorf("%s must decode to 32 bytes, got %d", EncryptionKeyEnv, len(c.EncryptionKey)))
	}
	if c.Engine.MaxConcurrency < 0 || c.Engine.RecursionLimit < 0 {
		errs = append(errs, errors.New("engine limits must not be negative"))
	}
	if c.Engine.HistoryLimit != nil && *c.Engine.HistoryLimit < 0 {
		errs = append(errs, errors.New("engine.history_limit must not be negative"))
	}
	for _, p := range c.Redact {
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("redact pattern %q: %w", p, err))
		}
	}
	return errors.Join(errs...)
}
