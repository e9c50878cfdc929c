package fanout

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultBaseSize      = 5
	DefaultHardCap       = 50
	DefaultQueueCapacity = 100
	DefaultDrainTimeout  = 10 * time.Second
)

// Config sizes the depth-indexed pools.
type Config struct {
	// BaseSize is the worker count of the depth-0 pool.
	BaseSize int `yaml:"base_size"`

	// DynamicSizing doubles the pool size per depth level, up to HardCap. When
	// false every depth uses BaseSize. Deeper pools need the extra slack because
	// they host both blocked parents' children and genuinely new work.
	DynamicSizing bool `yaml:"dynamic_sizing"`

	// HardCap bounds the size of any single pool in dynamic mode.
	HardCap int `yaml:"hard_cap"`

	// QueueCapacity is how many submissions may wait on a full pool before
	// further ones fail fast with ErrPoolSaturated. Same for every depth.
	QueueCapacity int `yaml:"queue_capacity"`

	// DrainTimeout bounds how long Shutdown waits for in-flight work.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
}

// DefaultConfig returns the documented defaults: base size 5, dynamic sizing on,
// hard cap 50, queue capacity 100.
func DefaultConfig() Config {
	return Config{
		BaseSize:      DefaultBaseSize,
		DynamicSizing: true,
		HardCap:       DefaultHardCap,
		QueueCapacity: DefaultQueueCapacity,
		DrainTimeout:  DefaultDrainTimeout,
	}
}

// LoadConfig reads a yaml config file. Fields missing from the file keep the
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the sizing parameters.
func (c Config) Validate() error {
	if c.BaseSize <= 0 {
		return fmt.Errorf("base_size must be positive, got %d", c.BaseSize)
	}
	if c.HardCap < c.BaseSize {
		return fmt.Errorf("hard_cap %d is below base_size %d", c.HardCap, c.BaseSize)
	}
	if c.QueueCapacity < 0 {
		return fmt.Errorf("queue_capacity must not be negative, got %d", c.QueueCapacity)
	}
	return nil
}

// sizeFor computes the pool size for a depth: base×2^depth capped at HardCap in
// dynamic mode, flat base otherwise.
func (c Config) sizeFor(depth int) int {
	if !c.DynamicSizing {
		return c.BaseSize
	}
	size := c.BaseSize
	for i := 0; i < depth; i++ {
		size *= 2
		if size >= c.HardCap {
			return c.HardCap
		}
	}
	return size
}
