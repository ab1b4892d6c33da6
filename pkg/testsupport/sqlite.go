package testsupport

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dataserve/dataserve-sub000/sqlstore"
)

// SQLite opens a private in-memory database, runs ddl and closes it when the
// test ends. The pool is limited to one connection since every new sqlite
// memory connection starts empty.
func SQLite(t testing.TB, ddl ...string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to run %q: %v", stmt, err)
		}
	}
	return db
}

// CountingConn records every statement sent through it.
type CountingConn struct {
	conn sqlstore.Conn

	mu         sync.Mutex
	statements []string
	hold       *hold
}

type hold struct {
	prefix  string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewCountingConn wraps conn.
func NewCountingConn(conn sqlstore.Conn) *CountingConn {
	return &CountingConn{conn: conn}
}

// Hold parks the next statement starting with prefix until release is called.
// entered is closed when that statement arrives, before it is recorded.
func (c *CountingConn) Hold(prefix string) (entered <-chan struct{}, release func()) {
	h := &hold{prefix: prefix, entered: make(chan struct{}), release: make(chan struct{})}
	c.mu.Lock()
	c.hold = h
	c.mu.Unlock()
	return h.entered, func() { h.once.Do(func() { close(h.release) }) }
}

func (c *CountingConn) wait(ctx context.Context, query string) error {
	c.mu.Lock()
	h := c.hold
	if h == nil || !strings.HasPrefix(query, h.prefix) {
		c.mu.Unlock()
		return nil
	}
	c.hold = nil
	c.mu.Unlock()

	close(h.entered)
	select {
	case <-h.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CountingConn) record(query string) {
	c.mu.Lock()
	c.statements = append(c.statements, query)
	c.mu.Unlock()
}

func (c *CountingConn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if err := c.wait(ctx, query); err != nil {
		return nil, err
	}
	c.record(query)
	return c.conn.QueryContext(ctx, query, args...)
}

func (c *CountingConn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if err := c.wait(ctx, query); err != nil {
		return nil, err
	}
	c.record(query)
	return c.conn.ExecContext(ctx, query, args...)
}

// Count returns the number of statements seen so far.
func (c *CountingConn) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.statements)
}

// Statements returns a copy of the recorded statements.
func (c *CountingConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statements...)
}

// Reset forgets the recorded statements.
func (c *CountingConn) Reset() {
	c.mu.Lock()
	c.statements = nil
	c.mu.Unlock()
}
