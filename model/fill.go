package model

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/query"
)

// fill loads the requested relationships into rows, one concurrent call per
// related table. Results are attached only after every call has returned.
func (e *Engine) fill(ctx context.Context, o *op, rows rowSet) error {
	if len(o.q.Fill) == 0 || len(rows) == 0 {
		return nil
	}
	var tables []string
	aliases := make(map[string][]string)
	for _, f := range o.q.Fill {
		if _, ok := aliases[f.Table]; !ok {
			tables = append(tables, f.Table)
		}
		aliases[f.Table] = append(aliases[f.Table], f.Alias)
	}

	parents := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		parents = append(parents, row)
	}

	related := make([]map[string]any, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range tables {
		g.Go(func() error {
			res, err := e.fillTable(gctx, o, table, parents)
			related[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, table := range tables {
		rel, _ := o.sch.Relationship(table)
		for _, row := range parents {
			v, ok := related[i][query.KeyString(row[rel.LocalColumn])]
			if !ok && rel.Kind.Many() {
				v = []any{}
			}
			for _, alias := range aliases[table] {
				row[alias] = v
			}
		}
	}
	return nil
}

// fillTable resolves one related table for every parent, keyed by the value of
// the parent's local column.
func (e *Engine) fillTable(ctx context.Context, o *op, table string, parents []map[string]any) (map[string]any, error) {
	rel, ok := o.sch.Relationship(table)
	if !ok {
		return nil, dserr.New(dserr.InvalidInput, fmt.Sprintf("fill: %s has no relationship with %s", o.table(), table))
	}
	sch, ok := o.db.Schemas.Get(table)
	if !ok {
		return nil, dserr.New(dserr.InvalidInput, fmt.Sprintf("fill: unknown table %s", table))
	}
	t := target{db: o.db, sch: sch}

	var values []any
	seen := make(map[string]struct{})
	intKey := sch.IsIntField(rel.ForeignColumn)
	for _, row := range parents {
		v := row[rel.LocalColumn]
		if v == nil {
			continue
		}
		if intKey {
			n, err := query.ParseInt(v)
			if err != nil {
				continue
			}
			v = n
		}
		key := query.KeyString(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		values = append(values, v)
	}
	out := make(map[string]any, len(values))
	if len(values) == 0 {
		return out, nil
	}

	if !rel.Kind.Many() {
		rows, err := e.fetch(ctx, t, rel.ForeignColumn, values)
		if err != nil {
			return nil, err
		}
		for key, row := range rows {
			out[key] = row
		}
		return out, nil
	}

	groups, err := e.relatedKeys(ctx, t, rel.ForeignColumn, values)
	if err != nil {
		return nil, err
	}
	rows, err := e.fetch(ctx, t, sch.PrimaryKey(), union(groups, values))
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		key := query.KeyString(v)
		list := make([]any, 0, len(groups[key]))
		for _, id := range groups[key] {
			if row, ok := rows[query.KeyString(id)]; ok {
				list = append(list, row)
			}
		}
		out[key] = list
	}
	return out, nil
}
