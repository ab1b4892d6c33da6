package model

import (
	"context"

	"github.com/spf13/cast"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/query"
	"github.com/dataserve/dataserve-sub000/sqlstore"
)

// rowSet maps KeyString(value) to the row holding that value.
type rowSet map[string]map[string]any

// selectRows reads rows straight from the read pool.
func (e *Engine) selectRows(ctx context.Context, t target, field string, values []any) (rowSet, error) {
	stmt, err := t.db.Store.Builder().Select(t.sch, field, values)
	if err != nil {
		return nil, err
	}
	res, err := t.db.Store.Query(ctx, stmt, sqlstore.KeyBy(field))
	if err != nil {
		return nil, err
	}
	out := make(rowSet, len(res.Keyed))
	for key, row := range res.Keyed {
		out[key] = t.sch.CoerceRow(row)
	}
	return out, nil
}

// fetch resolves rows by field. Primary key reads go through the cache: hits
// are served directly, tombstones count as known misses, and the remaining keys
// are read under a shared lock and backfilled, absent ones as tombstones.
func (e *Engine) fetch(ctx context.Context, t target, field string, values []any) (rowSet, error) {
	if len(values) == 0 {
		return rowSet{}, nil
	}
	if t.db.Cache == nil || field != t.sch.PrimaryKey() {
		return e.selectRows(ctx, t, field, values)
	}

	keys := keyStrings(values)
	hits, err := t.db.Cache.Get(ctx, t.table(), field, keys)
	if err != nil {
		return nil, err
	}
	out := make(rowSet, len(values))
	var missing []any
	for i, key := range keys {
		v, ok := hits[key]
		if !ok {
			missing = append(missing, values[i])
			continue
		}
		if row, ok := v.(map[string]any); ok {
			out[key] = t.sch.CoerceRow(row)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	err = e.locks.AcquireRead(ctx, lockKeys(t, field, missing), func(ctx context.Context) error {
		rows, err := e.selectRows(ctx, t, field, missing)
		if err != nil {
			return err
		}
		entries := make(map[string]any, len(missing))
		for _, v := range missing {
			key := query.KeyString(v)
			row, ok := rows[key]
			if !ok {
				entries[key] = nil
				continue
			}
			entries[key] = row
			out[key] = row
		}
		return t.db.Cache.Set(ctx, t.table(), field, entries)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// shape orders rows by the requested values.
func shape(o *op, rows rowSet, values []any, single bool) any {
	if single {
		if len(values) == 0 {
			return nil
		}
		if row, ok := rows[query.KeyString(values[0])]; ok {
			return row
		}
		return nil
	}
	if o.q.HasStyle(query.ByID) {
		pk := o.sch.PrimaryKey()
		out := NewOrderedMap(len(values))
		for _, v := range values {
			if row, ok := rows[query.KeyString(v)]; ok {
				out.Set(query.KeyString(row[pk]), row)
			}
		}
		return out
	}
	out := make([]any, 0, len(values))
	for _, v := range values {
		if row, ok := rows[query.KeyString(v)]; ok {
			out = append(out, row)
		}
	}
	return out
}

// load fetches rows and fills the requested relationships into them.
func (e *Engine) load(ctx context.Context, o *op, field string, values []any) (rowSet, error) {
	rows, err := e.fetch(ctx, o.target, field, values)
	if err != nil {
		return nil, err
	}
	if err := e.fill(ctx, o, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (e *Engine) get(ctx context.Context, o *op) (any, error) {
	rows, err := e.load(ctx, o, o.q.Field, o.q.Values)
	if err != nil {
		return nil, err
	}
	return shape(o, rows, o.q.Values, o.q.Single), nil
}

// relatedKeys returns, per value, the primary keys of the rows whose field
// equals it, in key order. All lookups share one round trip.
func (e *Engine) relatedKeys(ctx context.Context, t target, field string, values []any) (map[string][]any, error) {
	out := make(map[string][]any, len(values))
	if len(values) == 0 {
		return out, nil
	}
	err := e.locks.AcquireRead(ctx, lockKeys(t, field, values), func(ctx context.Context) error {
		b := t.db.Store.Builder()
		stmts := make([]sqlstore.Statement, len(values))
		for i, v := range values {
			stmt, err := b.SelectKeys(t.sch, field, v)
			if err != nil {
				return err
			}
			stmts[i] = stmt
		}
		results, err := t.db.Store.QueryMulti(ctx, stmts)
		if err != nil {
			return err
		}
		pk := t.sch.PrimaryKey()
		for i, res := range results {
			ids := make([]any, 0, len(res.Rows))
			for _, row := range res.Rows {
				ids = append(ids, t.sch.CoerceRow(row)[pk])
			}
			out[query.KeyString(values[i])] = ids
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// union flattens grouped keys, dropping repeats.
func union(groups map[string][]any, order []any) []any {
	seen := make(map[string]struct{})
	var out []any
	for _, v := range order {
		for _, id := range groups[query.KeyString(v)] {
			key := query.KeyString(id)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) getMany(ctx context.Context, o *op) (any, error) {
	groups, err := e.relatedKeys(ctx, o.target, o.q.Field, o.q.Values)
	if err != nil {
		return nil, err
	}
	rows, err := e.load(ctx, o, o.sch.PrimaryKey(), union(groups, o.q.Values))
	if err != nil {
		return nil, err
	}
	out := NewOrderedMap(len(o.q.Values))
	for _, v := range o.q.Values {
		key := query.KeyString(v)
		list := make([]any, 0, len(groups[key]))
		for _, id := range groups[key] {
			if row, ok := rows[query.KeyString(id)]; ok {
				list = append(list, row)
			}
		}
		out.Set(key, list)
	}
	return out, nil
}

func foundCount(res *sqlstore.Result) (int64, error) {
	row := res.First()
	if row == nil {
		return 0, nil
	}
	n, err := cast.ToInt64E(row[sqlstore.CountColumn])
	if err != nil {
		return 0, dserr.Wrap(err, dserr.QueryExecutionError, "unreadable row count")
	}
	return n, nil
}

func (o *op) setFound(found int64) {
	o.meta["found"] = found
	switch {
	case o.q.Limit > 0:
		o.meta["pages"] = (found + int64(o.q.Limit) - 1) / int64(o.q.Limit)
	case found > 0:
		o.meta["pages"] = int64(1)
	default:
		o.meta["pages"] = int64(0)
	}
}

func (e *Engine) lookup(ctx context.Context, o *op) (any, error) {
	store := o.db.Store
	b := store.Builder()
	o.meta["found"] = nil
	o.meta["pages"] = nil

	if o.q.HasStyle(query.FoundOnly) {
		stmt, err := b.Count(o.sch, o.q)
		if err != nil {
			return nil, err
		}
		res, err := store.Query(ctx, stmt)
		if err != nil {
			return nil, err
		}
		found, err := foundCount(res)
		if err != nil {
			return nil, err
		}
		o.setFound(found)
		return []any{}, nil
	}

	raw := o.q.HasStyle(query.LookupRaw)
	stmt, err := b.Lookup(o.sch, o.q, raw)
	if err != nil {
		return nil, err
	}
	var matched *sqlstore.Result
	if o.q.HasStyle(query.IncludeFound) {
		count, err := b.Count(o.sch, o.q)
		if err != nil {
			return nil, err
		}
		results, err := store.QueryMulti(ctx, []sqlstore.Statement{stmt, count})
		if err != nil {
			return nil, err
		}
		found, err := foundCount(results[1])
		if err != nil {
			return nil, err
		}
		o.setFound(found)
		matched = results[0]
	} else if matched, err = store.Query(ctx, stmt); err != nil {
		return nil, err
	}

	byID := o.q.HasStyle(query.ByID)
	if len(matched.Rows) == 0 {
		if byID {
			return NewOrderedMap(0), nil
		}
		return []any{}, nil
	}

	pk := o.sch.PrimaryKey()
	if raw {
		if byID {
			out := NewOrderedMap(len(matched.Rows))
			for _, row := range matched.Rows {
				row = o.sch.CoerceRow(row)
				out.Set(query.KeyString(row[pk]), row)
			}
			return out, nil
		}
		out := make([]any, len(matched.Rows))
		for i, row := range matched.Rows {
			out[i] = o.sch.CoerceRow(row)
		}
		return out, nil
	}

	ids := make([]any, 0, len(matched.Rows))
	seen := make(map[string]struct{}, len(matched.Rows))
	for _, row := range matched.Rows {
		id := o.sch.CoerceRow(row)[pk]
		if _, dup := seen[query.KeyString(id)]; dup {
			continue
		}
		seen[query.KeyString(id)] = struct{}{}
		ids = append(ids, id)
	}
	rows, err := e.load(ctx, o, pk, ids)
	if err != nil {
		return nil, err
	}
	return shape(o, rows, ids, false), nil
}

// getCount runs a count-only lookup and returns the number of matches. Pages
// are left out of meta since no page size applies.
func (e *Engine) getCount(ctx context.Context, o *op) (any, error) {
	q := o.q.Clone()
	q.Page = 1
	q.Limit = 0
	q.SetOutputStyles(string(query.FoundOnly))
	counted := &op{target: o.target, q: q, meta: o.meta}
	if _, err := e.lookup(ctx, counted); err != nil {
		return nil, err
	}
	delete(o.meta, "pages")
	return o.meta["found"], nil
}
