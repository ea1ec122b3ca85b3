package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/aretw0/bpmn/internal/logging"
	"github.com/aretw0/bpmn/internal/runtime"
	"github.com/aretw0/bpmn/pkg/lock"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreMemory = "memory"
	StoreBolt   = "bolt"
	StoreSQLite = "sqlite"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "bpmn.yaml"

// Config is the bpmn.yaml file of the bpmn command.
type Config struct {
	Log         LogConfig    `yaml:"log"`
	Store       StoreConfig  `yaml:"store"`
	Redis       RedisConfig  `yaml:"redis"`
	Engine      EngineConfig `yaml:"engine"`
	HTTP        HTTPConfig   `yaml:"http"`
	Definitions string       `yaml:"definitions"`
	// ServiceTasks is a tasks.yaml binding external commands to service tasks.
	ServiceTasks string `yaml:"service_tasks"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StoreConfig selects the durable store. Path is a file for bolt and a DSN
// for sqlite; memory ignores it.
//
// EncryptionKey (base64, 32 bytes) seals instance variables at rest;
// FallbackKeys still decrypt data written before a rotation. Redact lists
// variable name patterns masked in query results.
type StoreConfig struct {
	Driver        string   `yaml:"driver"`
	Path          string   `yaml:"path"`
	EncryptionKey string   `yaml:"encryption_key"`
	FallbackKeys  []string `yaml:"fallback_keys"`
	Redact        []string `yaml:"redact"`
}

// Keys decodes the encryption keys. A nil active key disables encryption.
func (c StoreConfig) Keys() ([]byte, [][]byte, error) {
	if c.EncryptionKey == "" {
		if len(c.FallbackKeys) > 0 {
			return nil, nil, fmt.Errorf("fallback_keys need an encryption_key")
		}
		return nil, nil, nil
	}
	active, err := decodeKey(c.EncryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("encryption_key: %w", err)
	}
	var fallback [][]byte
	for i, k := range c.FallbackKeys {
		key, err := decodeKey(k)
		if err != nil {
			return nil, nil, fmt.Errorf("fallback_keys[%d]: %w", i, err)
		}
		fallback = append(fallback, key)
	}
	return active, fallback, nil
}

func decodeKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("want 32 bytes, got %d", len(key))
	}
	return key, nil
}

// RedisConfig enables the distributed instance lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type EngineConfig struct {
	SignalMode string `yaml:"signal_mode"`
	MaxSteps   int    `yaml:"max_steps"`
}

type HTTPConfig struct {
	Addr    string `yaml:"addr"`
	Metrics bool   `yaml:"metrics"`
	Events  bool   `yaml:"events"`
}

// Default returns the configuration used for absent keys.
func Default() Config {
	return Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Store:  StoreConfig{Driver: StoreMemory},
		Redis:  RedisConfig{Prefix: "bpmn:lock:", LockTTL: lock.DefaultTTL},
		Engine: EngineConfig{SignalMode: string(runtime.SignalBroadcast), MaxSteps: runtime.DefaultMaxSteps},
		HTTP:   HTTPConfig{Addr: ":8080", Metrics: true, Events: true},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs error
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = multierr.Append(errs, err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreBolt, StoreSQLite:
		if c.Store.Path == "" {
			errs = multierr.Append(errs, fmt.Errorf("store %s needs a path", c.Store.Driver))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if _, _, err := c.Store.Keys(); err != nil {
		errs = multierr.Append(errs, err)
	}
	for _, p := range c.Store.Redact {
		if _, err := regexp.Compile(p); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("redact pattern %q: %w", p, err))
		}
	}
	if _, err := runtime.ParseSignalMode(c.Engine.SignalMode); err != nil {
		errs = multierr.Append(errs, err)
	}
	if c.Engine.MaxSteps < 0 {
		errs = multierr.Append(errs, fmt.Errorf("max_steps must not be negative"))
	}
	if c.Redis.LockTTL < 0 {
		errs = multierr.Append(errs, fmt.Errorf("redis lock_ttl must not be negative"))
	}
	return errs
}
