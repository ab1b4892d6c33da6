package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.NewBuilder("users").
		AddField(schema.FieldSpec{Name: "id", Type: schema.TypeInt, Key: schema.KeyPrimary, Fillable: true, AutoIncrement: true}).
		AddField(schema.FieldSpec{Name: "email", Type: schema.TypeString, Key: schema.KeyUnique, Fillable: true}).
		AddField(schema.FieldSpec{Name: "name", Type: schema.TypeString, Fillable: true}).
		AddField(schema.FieldSpec{Name: "visits", Type: schema.TypeInt, Fillable: true}).
		AddField(schema.FieldSpec{Name: "role", Type: schema.TypeString, Fillable: false}).
		AddRelationship(schema.HasMany, "posts", "", "").
		Build()
	require.NoError(t, err)
	return s
}

func decode(t *testing.T, src string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(src), &v))
	return v
}

func TestCompile_AddDropsUnfillableFields(t *testing.T) {
	q, err := Compile(testSchema(t), Add, decode(t, `{"fields": {"name": "a", "role": "admin", "bogus": 1}}`))
	require.NoError(t, err)
	require.Len(t, q.Rows, 1)
	assert.Equal(t, map[string]any{"name": "a"}, q.Rows[0])
}

func TestCompile_AddBatch(t *testing.T) {
	q, err := Compile(testSchema(t), Add, decode(t, `[{"name": "a"}, {"name": "b", "email": "b@x"}]`))
	require.NoError(t, err)
	require.Len(t, q.Rows, 2)
	assert.Equal(t, "b@x", q.Rows[1]["email"])
}

func TestCompile_AddWithoutUsableFields(t *testing.T) {
	_, err := Compile(testSchema(t), Add, decode(t, `{"fields": {"role": "admin"}}`))
	assert.True(t, dserr.Is(err, dserr.MissingFields), "got %v", err)

	_, err = Compile(testSchema(t), Add, decode(t, `{"outputStyle": "BY_ID"}`))
	assert.True(t, dserr.Is(err, dserr.MissingFields), "got %v", err)
}

func TestCompile_InvalidShapes(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		raw  any
	}{
		{"add scalar", Add, "x"},
		{"add row not object", Add, []any{"x"}},
		{"lookup list", Lookup, []any{1}},
		{"get object value", Get, map[string]any{"id": map[string]any{}}},
		{"getMany scalar", GetMany, 3},
		{"get bad int", Get, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(testSchema(t), tt.cmd, tt.raw)
			assert.True(t, dserr.Is(err, dserr.InvalidInput), "got %v", err)
		})
	}
}

func TestCompile_SetSingle(t *testing.T) {
	q, err := Compile(testSchema(t), Set, decode(t, `{"id": 3, "fields": {"name": "z", "role": "x"}, "custom": {"visits": "visits + 1", "role": "1"}}`))
	require.NoError(t, err)
	require.Len(t, q.Rows, 1)
	assert.Equal(t, map[string]any{"name": "z"}, q.Rows[0])
	assert.Equal(t, "3", KeyString(q.Primary[0]))
	assert.Equal(t, map[string]string{"visits": "visits + 1"}, q.Custom)
}

func TestCompile_SetCustomOnly(t *testing.T) {
	q, err := Compile(testSchema(t), Set, map[string]any{"id": 1, "custom": map[string]any{"visits": "visits * 2"}})
	require.NoError(t, err)
	assert.Empty(t, q.Rows[0])
	assert.Equal(t, "visits * 2", q.Custom["visits"])
}

func TestCompile_SetBatchRequiresPrimaryKeyPerRow(t *testing.T) {
	_, err := Compile(testSchema(t), Set, decode(t, `[{"id": 1, "name": "a"}, {"name": "b"}]`))
	assert.True(t, dserr.Is(err, dserr.MissingPrimaryKey), "got %v", err)

	q, err := Compile(testSchema(t), Set, decode(t, `[{"id": 1, "name": "a"}, {"id": 2, "name": "b"}]`))
	require.NoError(t, err)
	require.Len(t, q.Rows, 2)
	assert.Equal(t, "a", q.Rows[0]["name"])
	assert.Equal(t, "b", q.Rows[1]["name"])
	assert.NotContains(t, q.Rows[1], "id")
	assert.Len(t, q.Primary, 2)
}

func TestCompile_SetMissingPrimaryKey(t *testing.T) {
	_, err := Compile(testSchema(t), Set, map[string]any{"fields": map[string]any{"name": "a"}})
	assert.True(t, dserr.Is(err, dserr.MissingPrimaryKey), "got %v", err)
}

func TestCompile_Inc(t *testing.T) {
	q, err := Compile(testSchema(t), Inc, decode(t, `{"id": 1, "fields": {"visits": 2}}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2), q.Rows[0]["visits"])

	_, err = Compile(testSchema(t), Inc, map[string]any{"id": 1, "fields": map[string]any{"name": 1}})
	assert.True(t, dserr.Is(err, dserr.InvalidInput), "non numeric target: %v", err)

	_, err = Compile(testSchema(t), Inc, map[string]any{"id": 1, "fields": map[string]any{"visits": "many"}})
	assert.True(t, dserr.Is(err, dserr.InvalidInput), "non numeric delta: %v", err)
}

func TestCompile_GetShapes(t *testing.T) {
	s := testSchema(t)

	q, err := Compile(s, Get, json.Number("5"))
	require.NoError(t, err)
	assert.Equal(t, "id", q.Field)
	assert.Equal(t, []any{int64(5)}, q.Values)
	assert.True(t, q.Single)

	q, err = Compile(s, Get, []any{3.0, "1", 3})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(3), int64(1)}, q.Values, "values are deduplicated in request order")
	assert.Equal(t, q.Values, q.Primary)
	assert.False(t, q.Single)

	q, err = Compile(s, Get, map[string]any{"email": []any{"a@x", "b@x"}, "fill": "posts", "outputStyle": []any{"BY_ID", "NOPE"}})
	require.NoError(t, err)
	assert.Equal(t, "email", q.Field)
	assert.Empty(t, q.Primary)
	assert.Equal(t, []Fill{{Alias: "posts", Table: "posts"}}, q.Fill)
	assert.Equal(t, []OutputStyle{ByID}, q.OutputStyles())

	_, err = Compile(s, Get, map[string]any{"name": "x"})
	assert.True(t, dserr.Is(err, dserr.MissingPrimaryKey), "name is neither primary nor unique: %v", err)

	_, err = Compile(s, Get, []any{})
	assert.True(t, dserr.Is(err, dserr.MissingPrimaryKey), "got %v", err)
}

func TestCompile_Remove(t *testing.T) {
	q, err := Compile(testSchema(t), Remove, []any{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2)}, q.Primary)

	_, err = Compile(testSchema(t), Remove, map[string]any{"name": "x"})
	assert.True(t, dserr.Is(err, dserr.MissingPrimaryKey), "got %v", err)
}

func TestCompile_GetMany(t *testing.T) {
	q, err := Compile(testSchema(t), GetMany, map[string]any{"visits": []any{5, 9, 5}, "fill": []any{"posts"}})
	require.NoError(t, err)
	assert.Equal(t, "visits", q.Field)
	assert.Equal(t, []any{int64(5), int64(9)}, q.Values)

	_, err = Compile(testSchema(t), GetMany, map[string]any{"visits": 1, "name": "x"})
	assert.True(t, dserr.Is(err, dserr.InvalidInput), "got %v", err)
}

func TestCompile_LookupFilters(t *testing.T) {
	q, err := Compile(testSchema(t), Lookup, decode(t, `{
		"=": {"name": ["a", "c", "a"], "id": [1, "2"], "ghost": [1]},
		"%search%": {"email": "ex"},
		"search%": {"name": "jo"},
		">=": {"visits": 10},
		"modulo": {"id": {"mod": 2, "value": 1}},
		"join": {"teams": "teams.id = users.team_id"},
		"leftJoin": {"posts": "posts.users_id = users.id"},
		"group": ["name", "ghost"],
		"order": ["visits DESC", "ghost", "name"],
		"page": 2,
		"limit": 10
	}`))
	require.NoError(t, err)

	require.Len(t, q.Filters, 6)
	assert.Equal(t, Filter{Op: OpEqual, Field: "id", Values: []any{int64(1), int64(2)}}, q.Filters[0])
	assert.Equal(t, Filter{Op: OpEqual, Field: "name", Values: []any{"a", "c"}}, q.Filters[1])
	assert.Equal(t, Filter{Op: OpPrefix, Field: "name", Values: []any{"jo%"}}, q.Filters[2])
	assert.Equal(t, Filter{Op: OpContains, Field: "email", Values: []any{"%ex%"}}, q.Filters[3])
	assert.Equal(t, OpGTE, q.Filters[4].Op)
	assert.Equal(t, Filter{Op: OpModulo, Field: "id", Values: []any{int64(1)}, Mod: int64(2)}, q.Filters[5])

	assert.Equal(t, []Join{{Table: "teams", On: "teams.id = users.team_id"}}, q.Joins[:1])
	assert.True(t, q.Joins[1].Left)
	assert.Equal(t, []string{"name"}, q.Group)
	assert.Equal(t, []Order{{Field: "visits", Desc: true}, {Field: "name"}}, q.Order)
	assert.Equal(t, 2, q.Page)
	assert.Equal(t, 10, q.Limit)
	assert.Equal(t, 10, q.Offset())
}

func TestCompile_LookupModuloAndOrderErrors(t *testing.T) {
	q, err := Compile(testSchema(t), Lookup, map[string]any{"modulo": map[string]any{"visits": map[string]any{"mod": 3, "value": 0}}})
	require.NoError(t, err)
	assert.Equal(t, Filter{Op: OpModulo, Field: "visits", Values: []any{int64(0)}, Mod: int64(3)}, q.Filters[0])

	_, err = Compile(testSchema(t), Lookup, map[string]any{"order": "name sideways"})
	assert.True(t, dserr.Is(err, dserr.InvalidInput))

	_, err = Compile(testSchema(t), Lookup, map[string]any{"=": map[string]any{"id": []any{"1 OR 1=1"}}})
	assert.True(t, dserr.Is(err, dserr.InvalidInput), "int equality values are validated")

	_, err = Compile(testSchema(t), Lookup, map[string]any{"join": map[string]any{"bad table": "x"}})
	assert.True(t, dserr.Is(err, dserr.InvalidInput))
}

func TestCompile_UnknownCommand(t *testing.T) {
	_, err := Compile(testSchema(t), Command("explode"), nil)
	assert.True(t, dserr.Is(err, dserr.InvalidCommand))
}

func TestQuery_OutputStyles(t *testing.T) {
	q := New(Lookup)
	assert.True(t, q.AddOutputStyle("BY_ID"))
	assert.False(t, q.AddOutputStyle("SIDEWAYS"))
	assert.True(t, q.AddOutputStyle("INCLUDE_FOUND"))
	assert.Equal(t, []OutputStyle{ByID, IncludeFound}, q.OutputStyles())

	q.SetOutputStyles("FOUND_ONLY", "BOGUS")
	assert.Equal(t, []OutputStyle{FoundOnly}, q.OutputStyles())
	assert.False(t, q.HasStyle(ByID))

	c := q.Clone()
	c.AddOutputStyle("LOOKUP_RAW")
	assert.False(t, q.HasStyle(LookupRaw), "clones do not share styles")
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "3", KeyString(3.0))
	assert.Equal(t, "3.5", KeyString(3.5))
	assert.Equal(t, "7", KeyString(int64(7)))
	assert.Equal(t, "7", KeyString(json.Number("7")))
	assert.Equal(t, "x", KeyString([]byte("x")))
}
