package pool

import (
	"fmt"
	"time"
)

// Config is the pool configuration. The pool copies it at construction.
//
// Zero durations disable the corresponding limit: MaxLifetime 0 keeps
// Channels forever, IdleTimeout 0 never retires idle ones,
// ConnectionTimeout 0 waits until the caller's context ends,
// ReapInterval 0 disables background maintenance.
type Config struct {
	Name string `yaml:"name"`

	// MaxSize caps open Channels: idle + leased + dials in flight.
	MaxSize int `yaml:"max_size"`

	// MinIdle is the number of warm idle Channels maintenance keeps.
	MinIdle int `yaml:"min_idle"`

	MaxLifetime       time.Duration `yaml:"max_lifetime"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	// MaxWaiters bounds the acquire queue; 0 means unbounded.
	MaxWaiters int `yaml:"max_waiters"`

	ReapInterval time.Duration `yaml:"reap_interval"`

	// TestOnCheckout pings an idle Channel before leasing it.
	TestOnCheckout bool `yaml:"test_on_checkout"`
}

// Validate checks the limits.
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return fmt.Errorf("max_size must be greater than 0, got %d", c.MaxSize)
	}
	if c.MinIdle < 0 {
		return fmt.Errorf("min_idle must be >= 0, got %d", c.MinIdle)
	}
	if c.MinIdle > c.MaxSize {
		return fmt.Errorf("min_idle (%d) must be <= max_size (%d)", c.MinIdle, c.MaxSize)
	}
	if c.MaxWaiters < 0 {
		return fmt.Errorf("max_waiters must be >= 0, got %d", c.MaxWaiters)
	}

	for name, d := range map[string]time.Duration{
		"max_lifetime":       c.MaxLifetime,
		"idle_timeout":       c.IdleTimeout,
		"connection_timeout": c.ConnectionTimeout,
		"reap_interval":      c.ReapInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must be >= 0, got %v", name, d)
		}
	}
	return nil
}

// DefaultConfig returns the general-purpose settings.
func DefaultConfig() Config {
	return Config{
		Name:              "default",
		MaxSize:           10,
		MinIdle:           2,
		MaxLifetime:       30 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		ConnectionTimeout: 30 * time.Second,
		ReapInterval:      30 * time.Second,
		TestOnCheckout:    true,
	}
}

func preset(name string, maxSize, minIdle int, lifetime, idle, timeout time.Duration) Config {
	c := DefaultConfig()
	c.Name = name
	c.MaxSize = maxSize
	c.MinIdle = minIdle
	c.MaxLifetime = lifetime
	c.IdleTimeout = idle
	c.ConnectionTimeout = timeout
	return c
}

// HighThroughput suits busy services with many concurrent callers.
func HighThroughput() Config {
	return preset("high-throughput", 50, 15, 30*time.Minute, 10*time.Minute, 30*time.Second)
}

// LowResource keeps few connections and drops them early.
func LowResource() Config {
	return preset("low-resource", 3, 1, 15*time.Minute, 5*time.Minute, 15*time.Second)
}

// Development is a small pool for local work.
func Development() Config {
	return preset("development", 5, 1, 10*time.Minute, 3*time.Minute, 10*time.Second)
}

// MaximumPerformance pre-warms a large pool with long-lived connections.
func MaximumPerformance() Config {
	return preset("maximum-performance", 100, 30, 2*time.Hour, 30*time.Minute, 10*time.Second)
}

// LoadTestWorker fits one worker process of a load test.
func LoadTestWorker() Config {
	return preset("load-test-worker", 12, 4, time.Hour, 10*time.Minute, 5*time.Second)
}

// UltraHighConcurrency is for hundreds of concurrent callers.
func UltraHighConcurrency() Config {
	return preset("ultra-high-concurrency", 200, 50, time.Hour, 15*time.Minute, 15*time.Second)
}

// Presets maps preset names, as used in YAML and on the command line,
// to their factories.
var Presets = map[string]func() Config{
	"default":                DefaultConfig,
	"high-throughput":        HighThroughput,
	"low-resource":           LowResource,
	"development":            Development,
	"maximum-performance":    MaximumPerformance,
	"load-test-worker":       LoadTestWorker,
	"ultra-high-concurrency": UltraHighConcurrency,
}

// Preset returns the named preset.
func Preset(name string) (Config, error) {
	f, ok := Presets[name]
	if !ok {
		return Config{}, fmt.Errorf("unknown pool preset %q", name)
	}
	return f(), nil
}
