package model

import (
	"context"
	"time"

	"github.com/dataserve/dataserve-sub000/hooks"
	"github.com/dataserve/dataserve-sub000/query"
	"github.com/dataserve/dataserve-sub000/schema"
	"github.com/dataserve/dataserve-sub000/sqlstore"
)

// write runs fn between the Before and After hooks of the table.
func (e *Engine) write(ctx context.Context, o *op, fn func(context.Context, *op) (any, error)) (any, error) {
	var chain *hooks.Chain
	if o.db.Hooks != nil {
		chain = o.db.Hooks.Chain(o.table())
	}
	call := &hooks.Call{
		DB:     o.db.Name,
		Table:  o.table(),
		Schema: o.sch,
		Query:  o.q,
		Exists: e.exists(o.target),
	}
	if err := chain.Before(ctx, call); err != nil {
		return nil, err
	}
	value, err := fn(ctx, o)
	if herr := chain.After(ctx, call, hooks.Outcome{Value: value, Err: err}); herr != nil && err == nil {
		return nil, herr
	}
	return value, err
}

// exists reads from the write pool so hooks see rows committed a moment ago.
func (e *Engine) exists(t target) hooks.ExistsFunc {
	return func(ctx context.Context, field string, value any) ([]any, error) {
		stmt, err := t.db.Store.Builder().SelectKeys(t.sch, field, value)
		if err != nil {
			return nil, err
		}
		res, err := t.db.Store.Query(ctx, stmt, sqlstore.ForceWrite())
		if err != nil {
			return nil, err
		}
		pk := t.sch.PrimaryKey()
		ids := make([]any, 0, len(res.Rows))
		for _, row := range res.Rows {
			ids = append(ids, t.sch.CoerceRow(row)[pk])
		}
		return ids, nil
	}
}

// stamp fills the timestamp columns the caller did not set.
func stamp(sch *schema.Schema, row map[string]any, now time.Time, created bool) {
	ts := sch.Timestamps()
	if ts == nil {
		return
	}
	value := now.UTC().Format(hooks.TimestampLayout)
	set := func(field string) {
		if field == "" || !sch.IsFillable(field) {
			return
		}
		if _, ok := row[field]; !ok {
			row[field] = value
		}
	}
	if created {
		set(ts.Created)
	}
	set(ts.Modified)
}

// evict drops the cache entries of written keys. The caller holds the write
// lock on them or, for add, the keys were unknown until the insert returned.
func (e *Engine) evict(ctx context.Context, o *op, ids []any) error {
	if o.db.Cache == nil || len(ids) == 0 {
		return nil
	}
	return o.db.Cache.Del(ctx, o.table(), o.sch.PrimaryKey(), keyStrings(ids))
}

func (e *Engine) add(ctx context.Context, o *op) (any, error) {
	b := o.db.Store.Builder()
	now := e.now()
	stmts := make([]sqlstore.Statement, len(o.q.Rows))
	for i, row := range o.q.Rows {
		stamp(o.sch, row, now, true)
		stmt, err := b.Insert(o.sch, row)
		if err != nil {
			return nil, err
		}
		stmts[i] = stmt
	}

	// Rows are inserted one at a time; a failure leaves earlier rows committed.
	results, err := o.db.Store.QueryMulti(ctx, stmts)
	pk := o.sch.PrimaryKey()
	ids := make([]any, 0, len(results))
	for i, res := range results {
		if v, ok := o.q.Rows[i][pk]; ok && v != nil {
			ids = append(ids, o.sch.CoerceRow(map[string]any{pk: v})[pk])
			continue
		}
		ids = append(ids, res.InsertID)
	}
	if len(ids) > 0 && o.db.Cache != nil {
		ierr := e.locks.AcquireWrite(ctx, lockKeys(o.target, pk, ids), func(ctx context.Context) error {
			return e.evict(ctx, o, ids)
		})
		if err == nil {
			err = ierr
		}
	}
	if err != nil {
		return nil, err
	}
	return e.written(ctx, o, ids)
}

// update runs set and inc. The write lock on the keys is held across the SQL
// and the eviction.
func (e *Engine) update(ctx context.Context, o *op) (any, error) {
	b := o.db.Store.Builder()
	pk := o.sch.PrimaryKey()
	now := e.now()
	ids := o.q.Primary

	var affected int64
	err := e.locks.AcquireWrite(ctx, lockKeys(o.target, pk, ids), func(ctx context.Context) error {
		stmts := make([]sqlstore.Statement, len(o.q.Rows))
		for i, row := range o.q.Rows {
			var (
				stmt sqlstore.Statement
				err  error
			)
			switch {
			case o.q.Command == query.Inc:
				stmt, err = b.Increment(o.sch, ids[i], row)
			case o.sch.Upsert():
				stamp(o.sch, row, now, false)
				stmt, err = b.Upsert(o.sch, ids[i], row, o.q.Custom)
			default:
				stamp(o.sch, row, now, false)
				stmt, err = b.Update(o.sch, ids[i], row, o.q.Custom)
			}
			if err != nil {
				return err
			}
			stmts[i] = stmt
		}
		results, err := o.db.Store.QueryMulti(ctx, stmts)
		for _, res := range results {
			affected += res.Affected
		}
		if eerr := e.evict(ctx, o, ids[:len(results)]); err == nil {
			err = eerr
		}
		return err
	})
	o.meta["affected"] = affected
	if err != nil {
		return nil, err
	}
	return e.written(ctx, o, ids)
}

func (e *Engine) remove(ctx context.Context, o *op) (any, error) {
	ids := o.q.Primary
	var affected int64
	err := e.locks.AcquireWrite(ctx, lockKeys(o.target, o.sch.PrimaryKey(), ids), func(ctx context.Context) error {
		stmt, err := o.db.Store.Builder().Delete(o.sch, ids)
		if err != nil {
			return err
		}
		res, err := o.db.Store.Query(ctx, stmt)
		if err != nil {
			return err
		}
		affected = res.Affected
		return e.evict(ctx, o, ids)
	})
	o.meta["affected"] = affected
	if err != nil {
		return nil, err
	}
	return idsValue(ids), nil
}

// written shapes the result of add, set and inc. RETURN_CHANGES re-reads the
// rows once the write lock is released.
func (e *Engine) written(ctx context.Context, o *op, ids []any) (any, error) {
	if !o.q.HasStyle(query.ReturnChanges) {
		return idsValue(ids), nil
	}
	rows, err := e.load(ctx, o, o.sch.PrimaryKey(), ids)
	if err != nil {
		return nil, err
	}
	return shape(o, rows, ids, len(ids) == 1), nil
}

func idsValue(ids []any) any {
	if len(ids) == 1 {
		return ids[0]
	}
	return ids
}
