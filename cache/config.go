package cache

import (
	"errors"
	"sort"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/dataserve/dataserve-sub000/internal/cacheinfra"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMemcache = "memcache"
	BackendNone     = "none"
)

// DefaultPrefix namespaces keys when no prefix is configured.
const DefaultPrefix = "dataserve"

// ConfigError represents a configuration validation error.
type ConfigError = cacheinfra.ConfigError

// Config exposes cache configuration options for consumers of the cache package.
type Config struct {
	Backend string        `mapstructure:"backend" json:"backend" yaml:"backend"`
	Prefix  string        `mapstructure:"prefix" json:"prefix" yaml:"prefix"`
	Codec   string        `mapstructure:"codec" json:"codec" yaml:"codec"`
	TTL     time.Duration `mapstructure:"ttl" json:"ttl" yaml:"ttl"`

	Memory   MemoryConfig   `mapstructure:"memory" json:"memory" yaml:"memory"`
	Redis    RedisConfig    `mapstructure:"redis" json:"redis" yaml:"redis"`
	Memcache MemcacheConfig `mapstructure:"memcache" json:"memcache" yaml:"memcache"`
}

// MemoryConfig sizes the in-process store.
type MemoryConfig struct {
	Capacity           int           `mapstructure:"capacity" json:"capacity" yaml:"capacity"`
	NumShards          int           `mapstructure:"shards" json:"shards" yaml:"shards"`
	EvictionPercentage int           `mapstructure:"eviction_percentage" json:"eviction_percentage" yaml:"eviction_percentage"`
	EvictionInterval   time.Duration `mapstructure:"eviction_interval" json:"eviction_interval" yaml:"eviction_interval"`
}

// RedisConfig locates a redis deployment.
type RedisConfig struct {
	Addrs      []string `mapstructure:"addrs" json:"addrs" yaml:"addrs"`
	Username   string   `mapstructure:"username" json:"username" yaml:"username"`
	Password   string   `mapstructure:"password" json:"password" yaml:"password"`
	DB         int      `mapstructure:"db" json:"db" yaml:"db"`
	MasterName string   `mapstructure:"master_name" json:"master_name" yaml:"master_name"`
}

// MemcacheConfig lists memcache servers.
type MemcacheConfig struct {
	Servers []string      `mapstructure:"servers" json:"servers" yaml:"servers"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() Config {
	mem := cacheinfra.DefaultMemoryConfig()
	return Config{
		Backend: BackendMemory,
		Prefix:  DefaultPrefix,
		Codec:   CodecJSON,
		TTL:     mem.TTL,
		Memory: MemoryConfig{
			Capacity:           mem.Capacity,
			NumShards:          mem.NumShards,
			EvictionPercentage: mem.EvictionPercentage,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if c.Prefix == "" {
		c.Prefix = def.Prefix
	}
	if c.Codec == "" {
		c.Codec = def.Codec
	}
	if c.TTL == 0 && c.Backend == BackendMemory {
		c.TTL = def.TTL
	}
	if c.Memory.Capacity == 0 {
		c.Memory.Capacity = def.Memory.Capacity
	}
	if c.Memory.NumShards == 0 {
		c.Memory.NumShards = def.Memory.NumShards
	}
	if c.Memory.EvictionPercentage == 0 {
		c.Memory.EvictionPercentage = def.Memory.EvictionPercentage
	}
	return c
}

// Enabled reports whether the configuration selects a backend.
func (c Config) Enabled() bool {
	return c.Backend != BackendNone
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(BackendMemory, BackendRedis, BackendMemcache, BackendNone)),
		validation.Field(&c.Prefix, validation.When(c.Enabled(), validation.Required)),
		validation.Field(&c.Codec, validation.In(CodecJSON, CodecMsgpack)),
		validation.Field(&c.TTL, validation.By(nonNegative)),
		validation.Field(&c.Redis, validation.When(c.Backend == BackendRedis, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Redis, validation.Field(&c.Redis.Addrs, validation.Required))
		}))),
		validation.Field(&c.Memcache, validation.When(c.Backend == BackendMemcache, validation.By(func(any) error {
			return validation.ValidateStruct(&c.Memcache, validation.Field(&c.Memcache.Servers, validation.Required))
		}))),
	)
	return asConfigError(err)
}

func nonNegative(v any) error {
	if d, ok := v.(time.Duration); ok && d < 0 {
		return errors.New("must be non-negative")
	}
	return nil
}

// asConfigError reports the first failing field in lexical order.
func asConfigError(err error) error {
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make([]string, 0, len(verrs))
	for field := range verrs {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if verrs[field] == nil {
			continue
		}
		return &ConfigError{Field: field, Message: verrs[field].Error()}
	}
	return nil
}

func (c Config) memoryConfig() cacheinfra.MemoryConfig {
	return cacheinfra.MemoryConfig{
		Capacity:           c.Memory.Capacity,
		NumShards:          c.Memory.NumShards,
		TTL:                c.TTL,
		EvictionPercentage: c.Memory.EvictionPercentage,
		EvictionInterval:   c.Memory.EvictionInterval,
	}
}
