// Package model runs commands against the tables of one or more logical
// databases.
//
// Every command goes through the same pipeline: the payload is compiled
// against the table schema, reads probe the cache before the read pool and
// backfill what they fetched, writes reach the write pool and then evict the
// keys they touched. Cache backfill runs under a shared lock on the missing
// keys and eviction under an exclusive lock on the written keys, so a reader
// can never store a row that a concurrent writer already replaced.
//
//	engine, err := model.New([]*model.Database{db})
//	res := engine.Run(ctx, "app.users:get", map[string]any{"id": 1})
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dataserve/dataserve-sub000/cache"
	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/hooks"
	"github.com/dataserve/dataserve-sub000/lock"
	"github.com/dataserve/dataserve-sub000/query"
	"github.com/dataserve/dataserve-sub000/schema"
	"github.com/dataserve/dataserve-sub000/sqlstore"
)

// Database is a logical database: its schemas, its SQL pools and its cache.
type Database struct {
	Name    string
	Schemas *schema.Registry
	Store   *sqlstore.Store
	// Cache is nil when caching is disabled.
	Cache cache.Backend
	// Hooks is optional.
	Hooks *hooks.Registry
}

// Engine dispatches commands. It is safe for concurrent use.
type Engine struct {
	dbs    map[string]*Database
	locks  lock.Manager
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger; commands are logged at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLocks replaces the default in-process lock manager.
func WithLocks(m lock.Manager) Option {
	return func(e *Engine) {
		if m != nil {
			e.locks = m
		}
	}
}

// WithClock sets the clock used for timestamp columns.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New validates dbs and returns an Engine.
func New(dbs []*Database, opts ...Option) (*Engine, error) {
	e := &Engine{
		dbs:    make(map[string]*Database, len(dbs)),
		locks:  lock.NewLocal(),
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, db := range dbs {
		switch {
		case db == nil:
			return nil, errors.New("model: nil database")
		case db.Name == "":
			return nil, errors.New("model: database name is required")
		case db.Schemas == nil:
			return nil, fmt.Errorf("model: database %s has no schemas", db.Name)
		case db.Store == nil:
			return nil, fmt.Errorf("model: database %s has no store", db.Name)
		}
		if _, dup := e.dbs[db.Name]; dup {
			return nil, fmt.Errorf("model: duplicate database %s", db.Name)
		}
		e.dbs[db.Name] = db
	}
	return e, nil
}

// target is a resolved table.
type target struct {
	db  *Database
	sch *schema.Schema
}

func (t target) table() string { return t.sch.Table() }

// op is one command in flight.
type op struct {
	target
	q    *query.Query
	meta map[string]any
}

// Run executes "db.table:command" with input and always returns a Result.
// Admin commands (outputCache, flushCache) take "db:command".
func (e *Engine) Run(ctx context.Context, name string, input any) Result {
	start := time.Now()
	meta := make(map[string]any)
	value, err := e.run(ctx, name, input, meta)

	attrs := []slog.Attr{
		slog.String("request_id", uuid.NewString()),
		slog.String("command", name),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("status", err == nil),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()), slog.String("code", ErrorCode(err)))
	}
	e.logger.LogAttrs(ctx, slog.LevelDebug, "dataserve command", attrs...)

	if err != nil {
		return failure(err, meta)
	}
	return success(value, meta)
}

func (e *Engine) run(ctx context.Context, name string, input any, meta map[string]any) (any, error) {
	idx := strings.LastIndex(name, ":")
	if idx < 0 {
		return nil, dserr.New(dserr.InvalidCommand, fmt.Sprintf("malformed command %q, expected db.table:command", name))
	}
	cmd, ok := query.ParseCommand(name[idx+1:])
	if !ok {
		return nil, dserr.New(dserr.InvalidCommand, fmt.Sprintf("invalid command %q", name[idx+1:]))
	}
	dbName, table, _ := strings.Cut(name[:idx], ".")
	meta["dbName"] = dbName
	meta["tableName"] = table

	db, ok := e.dbs[dbName]
	if !ok {
		return nil, dserr.New(dserr.InvalidCommand, fmt.Sprintf("unknown database %q", dbName))
	}
	switch cmd {
	case query.OutputCache:
		return e.outputCache(ctx, db)
	case query.FlushCache:
		return e.flushCache(ctx, db)
	}

	sch, ok := db.Schemas.Get(table)
	if !ok {
		return nil, dserr.New(dserr.InvalidCommand, fmt.Sprintf("unknown table %q in %s", table, dbName))
	}
	q, err := query.Compile(sch, cmd, input)
	if err != nil {
		return nil, err
	}
	o := &op{target: target{db: db, sch: sch}, q: q, meta: meta}

	switch cmd {
	case query.Get:
		return e.get(ctx, o)
	case query.GetMany:
		return e.getMany(ctx, o)
	case query.Lookup:
		return e.lookup(ctx, o)
	case query.GetCount:
		return e.getCount(ctx, o)
	case query.Add:
		return e.write(ctx, o, e.add)
	case query.Set, query.Inc:
		return e.write(ctx, o, e.update)
	case query.Remove:
		return e.write(ctx, o, e.remove)
	}
	return nil, dserr.New(dserr.InvalidCommand, fmt.Sprintf("invalid command %q", cmd))
}

func (e *Engine) outputCache(ctx context.Context, db *Database) (any, error) {
	if db.Cache == nil {
		return map[string]any{}, nil
	}
	return db.Cache.GetAll(ctx)
}

func (e *Engine) flushCache(ctx context.Context, db *Database) (any, error) {
	if db.Cache == nil {
		return true, nil
	}
	if err := db.Cache.DelAll(ctx); err != nil {
		return nil, err
	}
	return true, nil
}

// lockKeys scopes locks to the exact (db, table, field, value) tuples touched.
func lockKeys(t target, field string, values []any) []string {
	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = fmt.Sprintf("%s.%s.%s:%s", t.db.Name, t.table(), field, query.KeyString(v))
	}
	return keys
}

func keyStrings(values []any) []string {
	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = query.KeyString(v)
	}
	return keys
}
