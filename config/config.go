// Package config holds the coordination layer's configuration surface.
// Configuration is loaded once at startup and treated as immutable
// afterwards; components receive it by value or pointer at construction.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WarmupStrategy selects how a cache is pre-populated.
type WarmupStrategy string

const (
	WarmupLazy      WarmupStrategy = "LAZY"
	WarmupEager     WarmupStrategy = "EAGER"
	WarmupScheduled WarmupStrategy = "SCHEDULED"
	WarmupOnDemand  WarmupStrategy = "ON_DEMAND"
)

// InvalidationStrategy selects how entries of a cache are invalidated.
type InvalidationStrategy string

const (
	InvalidationTTL    InvalidationStrategy = "TTL_BASED"
	InvalidationEvent  InvalidationStrategy = "EVENT_DRIVEN"
	InvalidationManual InvalidationStrategy = "MANUAL"
	InvalidationHybrid InvalidationStrategy = "HYBRID"
)

// SerializationFormat selects the codec used for a cache's values.
type SerializationFormat string

const (
	FormatJSON           SerializationFormat = "JSON"
	FormatBinary         SerializationFormat = "BINARY"
	FormatCompressedJSON SerializationFormat = "COMPRESSED_JSON"
)

// CacheConfig configures one logical cache.
type CacheConfig struct {
	TTL                  time.Duration        `mapstructure:"ttl"`
	KeyPrefix            string               `mapstructure:"key_prefix"`
	MaxSize              int                  `mapstructure:"max_size"` // advisory only
	WarmupEnabled        bool                 `mapstructure:"warmup_enabled"`
	WarmupStrategy       WarmupStrategy       `mapstructure:"warmup_strategy"`
	InvalidationStrategy InvalidationStrategy `mapstructure:"invalidation_strategy"`
	SerializationFormat  SerializationFormat  `mapstructure:"serialization_format"`
}

// ClusteringConfig configures the remote store connection topology.
type ClusteringConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Nodes         []string      `mapstructure:"nodes"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
}

// Pattern targets a key pattern inside one logical cache. Key may contain
// the {id} placeholder, substituted with the entity id of the triggering
// event.
type Pattern struct {
	Cache string `mapstructure:"cache"`
	Key   string `mapstructure:"key"`
}

// InvalidationConfig configures event-driven invalidation.
type InvalidationConfig struct {
	Enabled   bool                 `mapstructure:"enabled"`
	Patterns  map[string][]Pattern `mapstructure:"patterns"`  // event type -> patterns
	Relations map[string][]string  `mapstructure:"relations"` // event type -> dependent event types
	Cascade   bool                 `mapstructure:"cascade"`
	Async     bool                 `mapstructure:"async"`
	BatchSize int                  `mapstructure:"batch_size"`
}

// MonitoringConfig configures the metrics collector.
type MonitoringConfig struct {
	SlowOpThreshold   time.Duration `mapstructure:"slow_op_threshold"`
	MissRateThreshold float64       `mapstructure:"miss_rate_threshold"`
	SnapshotInterval  time.Duration `mapstructure:"snapshot_interval"`
	Retention         time.Duration `mapstructure:"retention"`
}

// Config is the root configuration of the coordination layer.
type Config struct {
	DefaultTTL   time.Duration          `mapstructure:"default_ttl"`
	KeyPrefix    string                 `mapstructure:"key_prefix"`
	Caches       map[string]CacheConfig `mapstructure:"caches"`
	Clustering   ClusteringConfig       `mapstructure:"clustering"`
	Invalidation InvalidationConfig     `mapstructure:"invalidation"`
	Monitoring   MonitoringConfig       `mapstructure:"monitoring"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		DefaultTTL: time.Hour,
		KeyPrefix:  "coord",
		Caches:     map[string]CacheConfig{},
		Clustering: ClusteringConfig{
			Nodes:         []string{"localhost:6379"},
			Timeout:       5 * time.Second,
			RetryAttempts: 3,
		},
		Invalidation: InvalidationConfig{
			Enabled:   true,
			Patterns:  map[string][]Pattern{},
			Relations: map[string][]string{},
			BatchSize: 100,
		},
		Monitoring: MonitoringConfig{
			SlowOpThreshold:   100 * time.Millisecond,
			MissRateThreshold: 0.5,
			SnapshotInterval:  time.Minute,
			Retention:         7 * 24 * time.Hour,
		},
	}
}

// Load reads configuration from the given file, layering environment
// variables with the COORD_ prefix on top, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("COORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Cache returns the configuration for the named cache, falling back to
// defaults derived from the global section for unknown names.
func (c *Config) Cache(name string) CacheConfig {
	if cc, ok := c.Caches[name]; ok {
		if cc.TTL <= 0 {
			cc.TTL = c.DefaultTTL
		}
		if cc.KeyPrefix == "" {
			cc.KeyPrefix = name
		}
		if cc.SerializationFormat == "" {
			cc.SerializationFormat = FormatJSON
		}
		return cc
	}
	return CacheConfig{
		TTL:                  c.DefaultTTL,
		KeyPrefix:            name,
		WarmupStrategy:       WarmupLazy,
		InvalidationStrategy: InvalidationTTL,
		SerializationFormat:  FormatJSON,
	}
}

// Validate checks invariants that would otherwise surface as runtime
// misbehavior.
func (c *Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return errors.New("config: default_ttl must be positive")
	}
	if c.KeyPrefix == "" {
		return errors.New("config: key_prefix cannot be empty")
	}
	if c.Invalidation.BatchSize <= 0 {
		return errors.New("config: invalidation.batch_size must be positive")
	}
	if c.Monitoring.SnapshotInterval <= 0 {
		return errors.New("config: monitoring.snapshot_interval must be positive")
	}
	if c.Monitoring.Retention <= 0 {
		return errors.New("config: monitoring.retention must be positive")
	}
	for name, cc := range c.Caches {
		switch cc.SerializationFormat {
		case "", FormatJSON, FormatBinary, FormatCompressedJSON:
		default:
			return fmt.Errorf("config: cache %q: unknown serialization_format %q", name, cc.SerializationFormat)
		}
		switch cc.WarmupStrategy {
		case "", WarmupLazy, WarmupEager, WarmupScheduled, WarmupOnDemand:
		default:
			return fmt.Errorf("config: cache %q: unknown warmup_strategy %q", name, cc.WarmupStrategy)
		}
		switch cc.InvalidationStrategy {
		case "", InvalidationTTL, InvalidationEvent, InvalidationManual, InvalidationHybrid:
		default:
			return fmt.Errorf("config: cache %q: unknown invalidation_strategy %q", name, cc.InvalidationStrategy)
		}
	}
	for event, patterns := range c.Invalidation.Patterns {
		for _, p := range patterns {
			if p.Cache == "" || p.Key == "" {
				return fmt.Errorf("config: invalidation pattern for %q: cache and key are required", event)
			}
		}
	}
	return nil
}
