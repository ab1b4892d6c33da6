// Package config loads the service configuration: logical databases with their
// pools, caches and table definitions, plus logging and locking settings.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/dataserve/dataserve-sub000/cache"
	"github.com/dataserve/dataserve-sub000/schema"
	"github.com/dataserve/dataserve-sub000/sqlstore"
)

// EnvPrefix is the prefix of environment overrides, e.g. DATASERVE_LOG_LEVEL.
const EnvPrefix = "DATASERVE"

// Config is the root configuration.
type Config struct {
	Databases map[string]Database `mapstructure:"databases" yaml:"databases"`
	Log       Log                 `mapstructure:"log" yaml:"log"`
	Lock      Lock                `mapstructure:"lock" yaml:"lock"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Lock configures the in-process lock manager.
type Lock struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Database is one logical database.
type Database struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Write  Pool   `mapstructure:"write" yaml:"write"`
	// Read defaults to the write pool when its DSN is empty.
	Read            Pool                       `mapstructure:"read" yaml:"read"`
	MultiStatements bool                       `mapstructure:"multi_statements" yaml:"multi_statements"`
	Cache           cache.Config               `mapstructure:"cache" yaml:"cache"`
	Tables          map[string]schema.TableDef `mapstructure:"tables" yaml:"tables"`
}

// Pool sizes one connection pool.
type Pool struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// HasRead reports whether a separate read pool is configured.
func (d Database) HasRead() bool { return d.Read.DSN != "" }

// PoolConfig converts a pool into the shape sqlstore.Open expects.
func (d Database) PoolConfig(p Pool) sqlstore.PoolConfig {
	return sqlstore.PoolConfig{
		Driver:          d.Driver,
		DSN:             p.DSN,
		MaxOpenConns:    p.MaxOpenConns,
		MaxIdleConns:    p.MaxIdleConns,
		ConnMaxLifetime: p.ConnMaxLifetime,
		MultiStatements: d.MultiStatements,
	}
}

func (p Pool) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.DSN, validation.Required),
		validation.Field(&p.MaxOpenConns, validation.Min(0)),
		validation.Field(&p.MaxIdleConns, validation.Min(0)),
	)
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required, validation.In(sqlstore.DriverMySQL, sqlstore.DriverSQLite)),
		validation.Field(&d.Write),
		validation.Field(&d.Read, validation.Skip.When(!d.HasRead())),
		validation.Field(&d.Tables, validation.Required),
	)
}

// Validate checks every database and the logging settings.
func (c *Config) Validate() error {
	if len(c.Databases) == 0 {
		return errors.New("config: no databases configured")
	}
	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := c.Databases[name].Validate(); err != nil {
			return fmt.Errorf("config: database %s: %w", name, err)
		}
	}
	return validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Log.Format, validation.In("text", "json")),
	)
}

// DatabaseNames returns the configured database names in lexical order.
func (c *Config) DatabaseNames() []string {
	names := make([]string, 0, len(c.Databases))
	for name := range c.Databases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("lock.timeout", 5*time.Second)
}

// Load reads a YAML or JSON file, applies DATASERVE_* environment overrides
// and validates the result. Viper folds keys to lower case, so table and field
// names must be lower case.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
