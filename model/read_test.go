package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Shapes(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seedUsers(t, "a", "b", "c")

	row := asRow(t, f.ok(t, "app.users:get", 2))
	assert.Equal(t, int64(2), row["id"])
	assert.Equal(t, "b", row["name"])
	assert.Equal(t, "user", row["role"])
	assert.Equal(t, stamped, row["created"])

	assert.Nil(t, f.ok(t, "app.users:get", 99))

	list, ok := f.ok(t, "app.users:get", []any{3, 1, 99}).([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, int64(3), asRow(t, list[0])["id"])
	assert.Equal(t, int64(1), asRow(t, list[1])["id"])

	byID, ok := f.ok(t, "app.users:get", map[string]any{"id": []any{3, 1}, "outputStyle": "BY_ID"}).(*OrderedMap)
	require.True(t, ok)
	assert.Equal(t, []string{"3", "1"}, byID.Keys())

	row = asRow(t, f.ok(t, "app.users:get", map[string]any{"email": "c@example.com"}))
	assert.Equal(t, int64(3), row["id"])
}

func TestGet_ServedFromCache(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seedUsers(t, "a")

	first := asRow(t, f.ok(t, "app.users:get", 1))
	f.conn.Reset()
	second := asRow(t, f.ok(t, "app.users:get", 1))

	assert.Zero(t, f.conn.Count(), "cached read reached the database: %v", f.conn.Statements())
	assert.Equal(t, first, second)
}

func TestGet_NegativeCaching(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.conn.Reset()
	assert.Nil(t, f.ok(t, "app.users:get", 42))
	assert.Equal(t, 1, f.conn.Count())

	entries, err := f.cache.Get(t.Context(), "users", "id", []string{"42"})
	require.NoError(t, err)
	v, present := entries["42"]
	assert.True(t, present, "expected a tombstone for 42")
	assert.Nil(t, v)

	for range 3 {
		assert.Nil(t, f.ok(t, "app.users:get", 42))
	}
	assert.Equal(t, 1, f.conn.Count(), "tombstoned key reached the database: %v", f.conn.Statements())
}

func TestGet_WithoutCacheAlwaysQueries(t *testing.T) {
	f := newFixture(t, fixtureOptions{noCache: true})
	f.seedUsers(t, "a")

	f.conn.Reset()
	f.ok(t, "app.users:get", 1)
	f.ok(t, "app.users:get", 1)
	assert.Equal(t, 2, f.conn.Count())
}

func TestLookup_OutputStyleMatrix(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seedUsers(t, "a", "b", "c")
	filter := func(extra map[string]any) map[string]any {
		in := map[string]any{"=": map[string]any{"name": []any{"a", "c"}}, "page": 1, "limit": 10}
		for k, v := range extra {
			in[k] = v
		}
		return in
	}

	t.Run("found only", func(t *testing.T) {
		res := f.run(t, "app.users:lookup", filter(map[string]any{"outputStyle": "FOUND_ONLY"}))
		require.True(t, res.Status)
		assert.Equal(t, []any{}, res.Value)
		assert.Equal(t, int64(2), res.Meta["found"])
		assert.Equal(t, int64(1), res.Meta["pages"])
	})

	t.Run("raw rows skip the second fetch", func(t *testing.T) {
		f.conn.Reset()
		list, ok := f.ok(t, "app.users:lookup", filter(map[string]any{"outputStyle": "LOOKUP_RAW"})).([]any)
		require.True(t, ok)
		require.Len(t, list, 2)
		assert.Equal(t, int64(1), asRow(t, list[0])["id"])
		assert.Equal(t, "a", asRow(t, list[0])["name"])
		assert.Equal(t, int64(3), asRow(t, list[1])["id"])
		assert.Equal(t, 1, f.conn.Count())
	})

	t.Run("by id", func(t *testing.T) {
		byID, ok := f.ok(t, "app.users:lookup", filter(map[string]any{"outputStyle": []any{"BY_ID"}})).(*OrderedMap)
		require.True(t, ok)
		assert.Equal(t, []string{"1", "3"}, byID.Keys())
		row, _ := byID.Get("3")
		assert.Equal(t, "c", asRow(t, row)["name"])
	})

	t.Run("default has no counts", func(t *testing.T) {
		res := f.run(t, "app.users:lookup", filter(nil))
		require.True(t, res.Status)
		assert.Len(t, res.Value, 2)
		assert.Nil(t, res.Meta["found"])
		assert.Nil(t, res.Meta["pages"])
	})

	t.Run("include found", func(t *testing.T) {
		res := f.run(t, "app.users:lookup", map[string]any{
			">":           map[string]any{"id": 0},
			"order":       "id DESC",
			"limit":       2,
			"page":        1,
			"outputStyle": "INCLUDE_FOUND",
		})
		require.True(t, res.Status)
		list := res.Value.([]any)
		require.Len(t, list, 2)
		assert.Equal(t, int64(3), asRow(t, list[0])["id"])
		assert.Equal(t, int64(3), res.Meta["found"])
		assert.Equal(t, int64(2), res.Meta["pages"])
	})

	t.Run("no matches", func(t *testing.T) {
		none := map[string]any{"=": map[string]any{"name": "zzz"}}
		assert.Equal(t, []any{}, f.ok(t, "app.users:lookup", none))

		none["outputStyle"] = "BY_ID"
		byID, ok := f.ok(t, "app.users:lookup", none).(*OrderedMap)
		require.True(t, ok)
		assert.Zero(t, byID.Len())
	})

	t.Run("like and modulo", func(t *testing.T) {
		list := f.ok(t, "app.users:lookup", map[string]any{
			"search%": map[string]any{"email": "b@"},
		}).([]any)
		require.Len(t, list, 1)
		assert.Equal(t, "b", asRow(t, list[0])["name"])

		list = f.ok(t, "app.users:lookup", map[string]any{
			"modulo": map[string]any{"id": map[string]any{"mod": 2, "value": 1}},
		}).([]any)
		assert.Len(t, list, 2)
	})
}

func TestLookup_EqualityValuesAreEscaped(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seedUsers(t, "a", "b")

	f.conn.Reset()
	injection := "a' OR '1'='1"
	list := f.ok(t, "app.users:lookup", map[string]any{"=": map[string]any{"name": injection}})
	assert.Equal(t, []any{}, list)

	statements := f.conn.Statements()
	require.Len(t, statements, 1)
	assert.Contains(t, statements[0], `'a'' OR ''1''=''1'`)
	assert.NotContains(t, statements[0], `'a' OR '1'='1'`)
}

func TestGetCount(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.ok(t, "app.users:add", []any{
		map[string]any{"name": "a"},
		map[string]any{"name": "a"},
		map[string]any{"name": "b"},
	})

	res := f.run(t, "app.users:getCount", map[string]any{"=": map[string]any{"name": "a"}})
	require.True(t, res.Status)
	assert.Equal(t, int64(2), res.Value)
	assert.Equal(t, int64(2), res.Meta["found"])
	assert.NotContains(t, res.Meta, "pages")

	assert.Equal(t, int64(3), f.ok(t, "app.users:getCount", nil))
	assert.Equal(t, int64(2), f.ok(t, "app.users:getCount", map[string]any{"group": "name"}))
}

func TestGetMany_PreservesInputOrder(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.ok(t, "app.posts:add", []any{
		map[string]any{"users_id": 5, "title": "first"},
		map[string]any{"users_id": 7, "title": "other"},
		map[string]any{"users_id": 5, "title": "second"},
	})

	out, ok := f.ok(t, "app.posts:getMany", map[string]any{"users_id": []any{5, 9}}).(*OrderedMap)
	require.True(t, ok)
	assert.Equal(t, []string{"5", "9"}, out.Keys())

	five, _ := out.Get("5")
	posts := five.([]any)
	require.Len(t, posts, 2)
	assert.Equal(t, "first", asRow(t, posts[0])["title"])
	assert.Equal(t, "second", asRow(t, posts[1])["title"])

	nine, _ := out.Get("9")
	assert.Equal(t, []any{}, nine)
}

func TestFill(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seedUsers(t, "a", "b")
	f.ok(t, "app.posts:add", []any{
		map[string]any{"users_id": 1, "title": "p1"},
		map[string]any{"users_id": 1, "title": "p2"},
		map[string]any{"users_id": 3, "title": "orphan"},
	})

	users := f.ok(t, "app.users:get", map[string]any{"id": []any{1, 2}, "fill": "posts"}).([]any)
	require.Len(t, users, 2)
	posts := asRow(t, users[0])["posts"].([]any)
	require.Len(t, posts, 2)
	assert.Equal(t, "p1", asRow(t, posts[0])["title"])
	assert.Equal(t, []any{}, asRow(t, users[1])["posts"])

	list := f.ok(t, "app.posts:lookup", map[string]any{
		"order": "id",
		"fill":  map[string]any{"author": "users"},
	}).([]any)
	require.Len(t, list, 3)
	assert.Equal(t, "a", asRow(t, asRow(t, list[0])["author"])["name"])
	assert.Nil(t, asRow(t, list[2])["author"])

	// Unknown relationships are ignored at compile time.
	row := asRow(t, f.ok(t, "app.users:get", map[string]any{"id": 1, "fill": "ghosts"}))
	assert.NotContains(t, row, "ghosts")
}
