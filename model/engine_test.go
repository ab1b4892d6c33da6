package model

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/dataserve/dataserve-sub000/cache"
	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/hooks"
	"github.com/dataserve/dataserve-sub000/pkg/testsupport"
	"github.com/dataserve/dataserve-sub000/schema"
	"github.com/dataserve/dataserve-sub000/sqlstore"
)

var fixedNow = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

const stamped = "2024-01-02 03:04:05"

var ddl = []string{
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT UNIQUE,
		role TEXT NOT NULL DEFAULT 'user',
		score INTEGER NOT NULL DEFAULT 0,
		created TEXT,
		modified TEXT
	)`,
	`CREATE TABLE posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		users_id INTEGER,
		title TEXT
	)`,
	`CREATE TABLE settings (
		name TEXT PRIMARY KEY,
		value TEXT
	)`,
}

func notFillable() *bool {
	f := false
	return &f
}

func tableDefs() map[string]schema.TableDef {
	return map[string]schema.TableDef{
		"users": {
			Fields: map[string]schema.FieldDef{
				"id":       {Type: "int", Key: "primary", AutoIncrement: true},
				"name":     {Type: "string"},
				"email":    {Type: "string", Key: "unique", Nullable: true},
				"role":     {Type: "string", Fillable: notFillable()},
				"score":    {Type: "int"},
				"created":  {Type: "datetime", Nullable: true},
				"modified": {Type: "datetime", Nullable: true},
			},
			Timestamps: &schema.TimestampDef{Created: "created", Modified: "modified"},
			Relationships: map[string]map[string]schema.RelationDef{
				"hasMany": {"posts": {}},
			},
		},
		"posts": {
			Fields: map[string]schema.FieldDef{
				"id":       {Type: "int", Key: "primary", AutoIncrement: true},
				"users_id": {Type: "int"},
				"title":    {Type: "string"},
			},
			Relationships: map[string]map[string]schema.RelationDef{
				"belongsTo": {"users": {}},
			},
		},
		"settings": {
			Fields: map[string]schema.FieldDef{
				"name":  {Type: "string", Key: "primary"},
				"value": {Type: "string"},
			},
			SetInsert: true,
		},
	}
}

type fixture struct {
	engine *Engine
	conn   *testsupport.CountingConn
	cache  cache.Backend
	hooks  *hooks.Registry
}

type fixtureOptions struct {
	noCache bool
	opts    []Option
}

func newFixture(t *testing.T, fo fixtureOptions) *fixture {
	t.Helper()

	conn := testsupport.NewCountingConn(testsupport.SQLite(t, ddl...))
	store, err := sqlstore.New(sqlstore.Options{Write: conn, Dialect: sqlitedialect.New()})
	require.NoError(t, err)

	registry, err := schema.Load(tableDefs())
	require.NoError(t, err)

	f := &fixture{conn: conn, hooks: hooks.NewRegistry()}
	if !fo.noCache {
		f.cache, err = cache.NewBackend(cache.Config{Backend: cache.BackendMemory, Prefix: "app"})
		require.NoError(t, err)
		t.Cleanup(func() { f.cache.Close() })
	}

	opts := append([]Option{WithClock(func() time.Time { return fixedNow })}, fo.opts...)
	f.engine, err = New([]*Database{{
		Name:    "app",
		Schemas: registry,
		Store:   store,
		Cache:   f.cache,
		Hooks:   f.hooks,
	}}, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) run(t *testing.T, name string, input any) Result {
	t.Helper()
	return f.engine.Run(context.Background(), name, input)
}

// ok runs a command that must succeed and returns its value.
func (f *fixture) ok(t *testing.T, name string, input any) any {
	t.Helper()
	res := f.run(t, name, input)
	require.True(t, res.Status, "%s failed: %v", name, res.Err)
	return res.Value
}

func (f *fixture) seedUsers(t *testing.T, names ...string) {
	t.Helper()
	rows := make([]any, len(names))
	for i, name := range names {
		rows[i] = map[string]any{"name": name, "email": name + "@example.com"}
	}
	f.ok(t, "app.users:add", rows)
}

func asRow(t *testing.T, v any) map[string]any {
	t.Helper()
	row, ok := v.(map[string]any)
	require.True(t, ok, "expected a row, got %T", v)
	return row
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]*Database{{Name: "app"}})
	assert.Error(t, err)

	_, err = New([]*Database{nil})
	assert.Error(t, err)

	e, err := New(nil)
	require.NoError(t, err)
	res := e.Run(context.Background(), "app.users:get", 1)
	assert.Equal(t, string(dserr.InvalidCommand), ErrorCode(res.Err))
}

func TestRun_InvalidTargets(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	tests := []struct {
		name   string
		target string
	}{
		{"unknown command", "app.users:explode"},
		{"missing command", "app.users"},
		{"unknown database", "other.users:get"},
		{"unknown table", "app.ghosts:get"},
		{"command is case sensitive", "app.users:GET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.run(t, tt.target, 1)
			require.False(t, res.Status)
			assert.Equal(t, "INVALID_COMMAND", ErrorCode(res.Err))
		})
	}
}

func TestRun_MetaNamesTarget(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	res := f.run(t, "app.users:get", 1)
	require.True(t, res.Status)
	assert.Equal(t, "app", res.Meta["dbName"])
	assert.Equal(t, "users", res.Meta["tableName"])

	res = f.run(t, "app.users:get", map[string]any{"name": "a"})
	require.False(t, res.Status)
	assert.Equal(t, "MISSING_PRIMARY_KEY", ErrorCode(res.Err))
	assert.Equal(t, "users", res.Meta["tableName"])
}

func TestResult_JSON(t *testing.T) {
	m := NewOrderedMap(2)
	m.Set("3", map[string]any{"id": int64(3)})
	m.Set("1", map[string]any{"id": int64(1)})
	m.Set("3", map[string]any{"id": int64(3), "name": "c"})

	out, err := json.Marshal(success(m, map[string]any{"found": int64(2)}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":true,"result":{"3":{"id":3,"name":"c"},"1":{"id":1}},"meta":{"found":2}}`, string(out))
	assert.Contains(t, string(out), `"result":{"3":{"id":3,"name":"c"},"1":{"id":1}}`)

	out, err = json.Marshal(failure(dserr.Validation("invalid row", map[string]string{"email": "must be a valid email address"}), nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"status": false,
		"error": {"code": "VALIDATION_FAILED", "message": "invalid row", "fields": {"email": "must be a valid email address"}},
		"meta": {}
	}`, string(out))

	out, err = json.Marshal(failure(errors.New("boom"), nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":false,"error":{"code":"INTERNAL_ERROR","message":"boom"},"meta":{}}`, string(out))
}

func TestOrderedMap(t *testing.T) {
	m := NewOrderedMap(0)
	m.Set("b", 1)
	m.Set("a", 2)
	m.Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, m.Keys())
	assert.Equal(t, 2, m.Len())
	v, ok := m.Get("b")
	assert.True(t, ok)
	assert.Equal(t, 3, v)

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"b":3,"a":2}`, string(out))
}

func TestAdminCommands(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seedUsers(t, "a")
	f.ok(t, "app.users:get", []any{1, 404})

	entries, ok := f.ok(t, "app:outputCache", nil).(map[string]any)
	require.True(t, ok)
	assert.Contains(t, entries, "users::id::1")
	assert.Contains(t, entries, "users::id::404")
	assert.Nil(t, entries["users::id::404"])

	assert.Equal(t, true, f.ok(t, "app:flushCache", nil))
	entries = f.ok(t, "app:outputCache", nil).(map[string]any)
	assert.Empty(t, entries)

	noCache := newFixture(t, fixtureOptions{noCache: true})
	assert.Equal(t, map[string]any{}, noCache.ok(t, "app:outputCache", nil))
	assert.Equal(t, true, noCache.ok(t, "app:flushCache", nil))
}
