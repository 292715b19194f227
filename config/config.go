// Package config loads bus, store, and worker settings from TOML.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/praxislabs/agentbus/backoff"
	"github.com/praxislabs/agentbus/store"
)

// Duration wraps time.Duration for TOML decoding ("30s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config holds all tunable settings.
type Config struct {
	Store  StoreConfig  `toml:"store"`
	Bus    BusConfig    `toml:"bus"`
	Worker WorkerConfig `toml:"worker"`
}

// StoreConfig selects and locates the queue store backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "bolt".
	Driver string `toml:"driver"`

	// Path is the database file for sqlite and bolt.
	Path string `toml:"path"`
}

// BusConfig holds bus-level settings.
type BusConfig struct {
	// MaxAttempts is the default attempt budget per message.
	MaxAttempts int `toml:"max_attempts"`

	// ProcessingTimeout is how long a claim may sit in processing before
	// the reaper presumes the worker crashed.
	ProcessingTimeout Duration `toml:"processing_timeout"`

	// ReapInterval is how often the reaper sweeps.
	ReapInterval Duration `toml:"reap_interval"`

	Backoff BackoffConfig `toml:"backoff"`
}

// BackoffConfig selects the retry delay policy.
type BackoffConfig struct {
	// Policy is one of "exponential", "linear", "none".
	Policy string `toml:"policy"`

	// Base is the delay after the first failure.
	Base Duration `toml:"base"`

	// Cap bounds the delay.
	Cap Duration `toml:"cap"`
}

// WorkerConfig holds worker loop settings.
type WorkerConfig struct {
	// PollInterval is the sleep between polls.
	PollInterval Duration `toml:"poll_interval"`

	// BatchSize is how many messages one poll may claim.
	BatchSize int `toml:"batch_size"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver: "memory",
		},
		Bus: BusConfig{
			MaxAttempts:       3,
			ProcessingTimeout: Duration{60 * time.Second},
			ReapInterval:      Duration{30 * time.Second},
			Backoff: BackoffConfig{
				Policy: "exponential",
				Base:   Duration{backoff.DefaultBase},
				Cap:    Duration{backoff.DefaultCap},
			},
		},
		Worker: WorkerConfig{
			PollInterval: Duration{2 * time.Second},
			BatchSize:    10,
		},
	}
}

// Load reads a TOML file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "bolt":
		if c.Store.Path == "" {
			return fmt.Errorf("store driver %q requires a path", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Bus.MaxAttempts <= 0 {
		return fmt.Errorf("bus max_attempts must be positive")
	}
	if c.Bus.ProcessingTimeout.Duration <= 0 {
		return fmt.Errorf("bus processing_timeout must be positive")
	}
	if c.Worker.PollInterval.Duration <= 0 {
		return fmt.Errorf("worker poll_interval must be positive")
	}

	if _, err := c.BackoffPolicy(); err != nil {
		return fmt.Errorf("bus backoff policy %q: %w", c.Bus.Backoff.Policy, err)
	}
	return nil
}

// BackoffPolicy builds the configured retry policy.
func (c Config) BackoffPolicy() (backoff.Policy, error) {
	return backoff.Parse(c.Bus.Backoff.Policy, c.Bus.Backoff.Base.Duration, c.Bus.Backoff.Cap.Duration)
}

// OpenStore opens the configured queue store backend.
func (c Config) OpenStore() (store.QueueStore, error) {
	switch c.Store.Driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(c.Store.Path)
	case "bolt":
		return store.NewBoltStore(c.Store.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
}
