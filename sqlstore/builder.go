package sqlstore

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/uptrace/bun/dialect"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/query"
	"github.com/dataserve/dataserve-sub000/schema"
)

// CountColumn is the alias of the found-count column.
const CountColumn = "cnt"

// Builder renders statements for compiled queries. Integer key values are
// inlined as validated literals; every other value becomes a :pN parameter.
type Builder struct {
	dialect Dialect
}

// NewBuilder returns a builder quoting identifiers for d.
func NewBuilder(d Dialect) *Builder {
	return &Builder{dialect: d}
}

type binder struct {
	params map[string]any
}

func (b *binder) bind(v any) string {
	if b.params == nil {
		b.params = make(map[string]any)
	}
	name := "p" + strconv.Itoa(len(b.params))
	b.params[name] = v
	return ":" + name
}

func (b *Builder) ident(name string) string {
	q := string(b.dialect.IdentQuote())
	return q + Raw(strings.ReplaceAll(name, q, q+q)) + q
}

func (b *Builder) column(table, field string) string {
	return b.ident(table) + "." + b.ident(field)
}

// match renders col = v or col IN (...) using the int-literal rule for int fields.
func (b *Builder) match(sch *schema.Schema, field, col string, values []any, p *binder) (string, error) {
	if len(values) == 0 {
		return "", dserr.New(dserr.InvalidInput, fmt.Sprintf("no values for %s", field))
	}
	items := make([]string, len(values))
	for i, v := range values {
		if sch.IsIntField(field) {
			n, err := query.ParseInt(v)
			if err != nil {
				return "", dserr.Wrap(err, dserr.InvalidInput, fmt.Sprintf("invalid integer for %s", field))
			}
			items[i] = strconv.FormatInt(n, 10)
			continue
		}
		items[i] = p.bind(v)
	}
	if len(items) == 1 {
		return col + " = " + items[0], nil
	}
	return col + " IN (" + strings.Join(items, ", ") + ")", nil
}

// Select fetches full rows where field matches any of values.
func (b *Builder) Select(sch *schema.Schema, field string, values []any) (Statement, error) {
	var p binder
	where, err := b.match(sch, field, b.ident(field), values, &p)
	if err != nil {
		return Statement{}, err
	}
	return Statement{
		SQL:    "SELECT * FROM " + b.ident(sch.Table()) + " WHERE " + where,
		Params: p.params,
	}, nil
}

// SelectKeys fetches the primary keys of the rows where field equals value.
func (b *Builder) SelectKeys(sch *schema.Schema, field string, value any) (Statement, error) {
	var p binder
	where, err := b.match(sch, field, b.ident(field), []any{value}, &p)
	if err != nil {
		return Statement{}, err
	}
	pk := b.ident(sch.PrimaryKey())
	return Statement{
		SQL:    "SELECT " + pk + " FROM " + b.ident(sch.Table()) + " WHERE " + where + " ORDER BY " + pk,
		Params: p.params,
	}, nil
}

// from renders FROM, joins and WHERE of a lookup.
func (b *Builder) from(sch *schema.Schema, q *query.Query, p *binder) (string, error) {
	var sb strings.Builder
	table := sch.Table()
	sb.WriteString(" FROM " + b.ident(table))
	for _, j := range q.Joins {
		if j.Left {
			sb.WriteString(" LEFT JOIN ")
		} else {
			sb.WriteString(" INNER JOIN ")
		}
		sb.WriteString(b.ident(j.Table) + " ON " + Raw(j.On))
	}

	var conds []string
	for _, f := range q.Filters {
		col := b.column(table, f.Field)
		switch {
		case f.Op == query.OpEqual:
			cond, err := b.match(sch, f.Field, col, f.Values, p)
			if err != nil {
				return "", err
			}
			conds = append(conds, cond)
		case f.Op == query.OpModulo:
			mod, err := query.ParseInt(f.Mod)
			if err != nil {
				return "", dserr.Wrap(err, dserr.InvalidInput, "invalid modulo divisor")
			}
			val, err := query.ParseInt(f.Values[0])
			if err != nil {
				return "", dserr.Wrap(err, dserr.InvalidInput, "invalid modulo value")
			}
			conds = append(conds, fmt.Sprintf("%s %% %d = %d", col, mod, val))
		case f.Op.IsLike():
			conds = append(conds, col+" LIKE "+p.bind(f.Values[0]))
		default:
			conds = append(conds, col+" "+string(f.Op)+" "+p.bind(f.Values[0]))
		}
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if len(q.Group) > 0 {
		cols := make([]string, len(q.Group))
		for i, g := range q.Group {
			cols[i] = b.column(table, g)
		}
		sb.WriteString(" GROUP BY " + strings.Join(cols, ", "))
	}
	return sb.String(), nil
}

// Lookup selects the matching rows, or only their primary keys unless raw rows are wanted.
func (b *Builder) Lookup(sch *schema.Schema, q *query.Query, fullRows bool) (Statement, error) {
	var p binder
	from, err := b.from(sch, q, &p)
	if err != nil {
		return Statement{}, err
	}
	table := sch.Table()
	sel := b.column(table, sch.PrimaryKey())
	if fullRows {
		sel = b.ident(table) + ".*"
	}

	var sb strings.Builder
	sb.WriteString("SELECT " + sel + from)
	if len(q.Order) > 0 {
		terms := make([]string, len(q.Order))
		for i, o := range q.Order {
			terms[i] = b.column(table, o.Field)
			if o.Desc {
				terms[i] += " DESC"
			} else {
				terms[i] += " ASC"
			}
		}
		sb.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", q.Limit, q.Offset())
	}
	return Statement{SQL: sb.String(), Params: p.params}, nil
}

// Count counts the matches of a lookup. Grouped lookups count groups.
func (b *Builder) Count(sch *schema.Schema, q *query.Query) (Statement, error) {
	var p binder
	from, err := b.from(sch, q, &p)
	if err != nil {
		return Statement{}, err
	}
	count := " AS " + b.ident(CountColumn)
	if len(q.Group) > 0 {
		return Statement{
			SQL:    "SELECT COUNT(*)" + count + " FROM (SELECT 1 AS " + b.ident("one") + from + ") AS " + b.ident("grouped"),
			Params: p.params,
		}, nil
	}
	return Statement{SQL: "SELECT COUNT(*)" + count + from, Params: p.params}, nil
}

func sortedFields(row map[string]any) []string {
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Builder) values(row map[string]any, p *binder) (cols, vals []string) {
	for _, name := range sortedFields(row) {
		cols = append(cols, b.ident(name))
		vals = append(vals, p.bind(row[name]))
	}
	return cols, vals
}

// Insert adds one row.
func (b *Builder) Insert(sch *schema.Schema, row map[string]any) (Statement, error) {
	if len(row) == 0 {
		return Statement{}, dserr.New(dserr.MissingFields, "insert without fields")
	}
	var p binder
	cols, vals := b.values(row, &p)
	return Statement{
		SQL: "INSERT INTO " + b.ident(sch.Table()) + " (" + strings.Join(cols, ", ") +
			") VALUES (" + strings.Join(vals, ", ") + ")",
		Params: p.params,
	}, nil
}

// Upsert inserts the row keyed by id or updates it when the key exists.
// Custom expressions apply to the update branch only.
func (b *Builder) Upsert(sch *schema.Schema, id any, row map[string]any, custom map[string]string) (Statement, error) {
	pk := sch.PrimaryKey()
	full := make(map[string]any, len(row)+1)
	for k, v := range row {
		full[k] = v
	}
	full[pk] = id

	var p binder
	cols, vals := b.values(full, &p)

	var sets []string
	mysql := b.dialect.Name() == dialect.MySQL
	for _, name := range sortedFields(row) {
		if name == pk {
			continue
		}
		if _, ok := custom[name]; ok {
			continue
		}
		col := b.ident(name)
		if mysql {
			sets = append(sets, col+" = VALUES("+col+")")
		} else {
			sets = append(sets, col+" = excluded."+col)
		}
	}
	sets = append(sets, b.customSets(custom)...)
	if len(sets) == 0 {
		sets = append(sets, b.ident(pk)+" = "+b.ident(pk))
	}

	sql := "INSERT INTO " + b.ident(sch.Table()) + " (" + strings.Join(cols, ", ") +
		") VALUES (" + strings.Join(vals, ", ") + ")"
	if mysql {
		sql += " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	} else {
		sql += " ON CONFLICT(" + b.ident(pk) + ") DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return Statement{SQL: sql, Params: p.params}, nil
}

func (b *Builder) customSets(custom map[string]string) []string {
	names := make([]string, 0, len(custom))
	for name := range custom {
		names = append(names, name)
	}
	sort.Strings(names)
	sets := make([]string, len(names))
	for i, name := range names {
		sets[i] = b.ident(name) + " = " + Raw(custom[name])
	}
	return sets
}

// Update assigns row and the raw custom expressions to the row keyed by id.
func (b *Builder) Update(sch *schema.Schema, id any, row map[string]any, custom map[string]string) (Statement, error) {
	var p binder
	var sets []string
	for _, name := range sortedFields(row) {
		if _, ok := custom[name]; ok {
			continue
		}
		sets = append(sets, b.ident(name)+" = "+p.bind(row[name]))
	}
	sets = append(sets, b.customSets(custom)...)
	if len(sets) == 0 {
		return Statement{}, dserr.New(dserr.MissingFields, "update without fields")
	}
	return b.whereKey(sch, "UPDATE "+b.ident(sch.Table())+" SET "+strings.Join(sets, ", "), []any{id}, &p)
}

// Increment adds each delta of row to its column on the row keyed by id.
func (b *Builder) Increment(sch *schema.Schema, id any, row map[string]any) (Statement, error) {
	if len(row) == 0 {
		return Statement{}, dserr.New(dserr.MissingFields, "increment without fields")
	}
	var p binder
	sets := make([]string, 0, len(row))
	for _, name := range sortedFields(row) {
		col := b.ident(name)
		sets = append(sets, col+" = "+col+" + "+p.bind(row[name]))
	}
	return b.whereKey(sch, "UPDATE "+b.ident(sch.Table())+" SET "+strings.Join(sets, ", "), []any{id}, &p)
}

// Delete removes the rows keyed by ids.
func (b *Builder) Delete(sch *schema.Schema, ids []any) (Statement, error) {
	var p binder
	return b.whereKey(sch, "DELETE FROM "+b.ident(sch.Table()), ids, &p)
}

func (b *Builder) whereKey(sch *schema.Schema, head string, ids []any, p *binder) (Statement, error) {
	pk := sch.PrimaryKey()
	where, err := b.match(sch, pk, b.ident(pk), ids, p)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: head + " WHERE " + where, Params: p.params}, nil
}
