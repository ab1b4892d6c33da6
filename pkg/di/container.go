package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/uptrace/bun"

	"github.com/dataserve/dataserve-sub000/cache"
	"github.com/dataserve/dataserve-sub000/config"
	"github.com/dataserve/dataserve-sub000/hooks"
	"github.com/dataserve/dataserve-sub000/lock"
	"github.com/dataserve/dataserve-sub000/model"
	"github.com/dataserve/dataserve-sub000/schema"
	"github.com/dataserve/dataserve-sub000/sqlstore"
)

// Container owns every long-lived resource of the service: connection pools,
// cache backends, the lock manager and the engine built on top of them.
type Container struct {
	config *config.Config
	logger *slog.Logger
	locks  *lock.Local
	engine *model.Engine

	pools   map[string]*bun.DB
	closers []io.Closer
}

// Option configures a Container.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	logOutput io.Writer
}

// WithLogger overrides the logger built from the log configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLogOutput sets where the configured logger writes; stderr by default.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// NewLogger builds a slog logger from the log configuration.
func NewLogger(cfg config.Log, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// NewContainer opens every configured database and wires the engine. On error
// the resources opened so far are released.
func NewContainer(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, errors.New("di: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logOutput: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = NewLogger(cfg.Log, o.logOutput)
	}

	c := &Container{
		config: cfg,
		logger: o.logger,
		locks:  lock.NewLocal(lock.WithTimeout(cfg.Lock.Timeout)),
		pools:  make(map[string]*bun.DB),
	}

	var dbs []*model.Database
	for _, name := range cfg.DatabaseNames() {
		db, err := c.openDatabase(ctx, name, cfg.Databases[name])
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("di: database %s: %w", name, err)
		}
		dbs = append(dbs, db)
	}

	engine, err := model.New(dbs, model.WithLogger(c.logger), model.WithLocks(c.locks))
	if err != nil {
		c.Close()
		return nil, err
	}
	c.engine = engine
	return c, nil
}

func (c *Container) openDatabase(ctx context.Context, name string, dc config.Database) (*model.Database, error) {
	registry, err := schema.Load(dc.Tables)
	if err != nil {
		return nil, err
	}
	ruleHooks, err := LoadRuleHooks(dc.Tables)
	if err != nil {
		return nil, err
	}

	write, err := sqlstore.Open(ctx, dc.PoolConfig(dc.Write))
	if err != nil {
		return nil, err
	}
	c.closers = append(c.closers, write)
	c.pools[name] = write

	var read *bun.DB
	if dc.HasRead() {
		if read, err = sqlstore.Open(ctx, dc.PoolConfig(dc.Read)); err != nil {
			return nil, err
		}
		c.closers = append(c.closers, read)
	}
	store, err := sqlstore.New(sqlstore.FromDB(write, read, dc.PoolConfig(dc.Write).SupportsMulti()))
	if err != nil {
		return nil, err
	}

	db := &model.Database{Name: name, Schemas: registry, Store: store, Hooks: ruleHooks}
	cacheCfg := dc.Cache
	if cacheCfg.Prefix == "" {
		cacheCfg.Prefix = name
	}
	if cacheCfg.WithDefaults().Enabled() {
		backend, err := cache.NewBackend(cacheCfg)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, backend)
		db.Cache = backend
	}

	c.logger.Info("database ready",
		slog.String("db", name),
		slog.String("driver", dc.Driver),
		slog.Bool("replica", read != nil),
		slog.String("cache", cacheCfg.WithDefaults().Backend),
		slog.Int("tables", len(registry.Tables())),
	)
	return db, nil
}

// LoadRuleHooks compiles the field rules of every table into a hook registry.
// Tables without rules get no hook.
func LoadRuleHooks(tables map[string]schema.TableDef) (*hooks.Registry, error) {
	registry := hooks.NewRegistry()
	for table, def := range tables {
		h, err := hooks.NewRuleHook(table, def)
		if err != nil {
			return nil, err
		}
		if h != nil {
			registry.Use(table, h)
		}
	}
	return registry, nil
}

// Engine returns the command engine.
func (c *Container) Engine() *model.Engine { return c.engine }

// Config returns the configuration the container was built from.
func (c *Container) Config() *config.Config { return c.config }

// Logger returns the container logger.
func (c *Container) Logger() *slog.Logger { return c.logger }

// Locks returns the lock manager shared by every database.
func (c *Container) Locks() lock.Manager { return c.locks }

// DB returns the write pool of a database.
func (c *Container) DB(name string) (*bun.DB, bool) {
	db, ok := c.pools[name]
	return db, ok
}

// Close releases pools and cache backends in reverse order of creation.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
