package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Supported drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// PoolConfig describes one connection pool.
type PoolConfig struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// MultiStatements enables semicolon-joined batches (MySQL only).
	MultiStatements bool
}

// SupportsMulti reports whether the pool can run joined statements.
func (c PoolConfig) SupportsMulti() bool {
	return c.Driver == DriverMySQL && c.MultiStatements
}

// Open creates a pool handle and checks connectivity.
func Open(ctx context.Context, cfg PoolConfig) (*bun.DB, error) {
	var (
		db  *bun.DB
		err error
	)
	switch cfg.Driver {
	case DriverMySQL:
		db, err = openMySQL(cfg)
	case DriverSQLite, "sqlite3":
		db, err = openSQLite(cfg)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

func openMySQL(cfg PoolConfig) (*bun.DB, error) {
	mc, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: parse mysql dsn: %w", err)
	}
	mc.MultiStatements = cfg.MultiStatements
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: mysql connector: %w", err)
	}
	return bun.NewDB(sql.OpenDB(connector), mysqldialect.New()), nil
}

func openSQLite(cfg PoolConfig) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open sqlite: %w", err)
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// FromDB builds Store options from a write handle and an optional read handle.
func FromDB(write, read *bun.DB, multi bool) Options {
	opts := Options{Write: write, Dialect: write.Dialect(), MultiStatements: multi}
	if read != nil {
		opts.Read = read
	}
	return opts
}
