package query

import (
	"fmt"
	"strings"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/schema"
)

// Option keys of an object payload; every other key is a field or filter token.
const (
	keyFields      = "fields"
	keyCustom      = "custom"
	keyFill        = "fill"
	keyOutputStyle = "outputStyle"
	keyPage        = "page"
	keyLimit       = "limit"
	keyJoin        = "join"
	keyLeftJoin    = "leftJoin"
	keyGroup       = "group"
	keyOrder       = "order"
)

var optionKeys = map[string]struct{}{
	keyFields: {}, keyCustom: {}, keyFill: {}, keyOutputStyle: {}, keyPage: {},
	keyLimit: {}, keyJoin: {}, keyLeftJoin: {}, keyGroup: {}, keyOrder: {},
}

// Compile normalizes raw input for cmd against sch.
func Compile(sch *schema.Schema, cmd Command, raw any) (*Query, error) {
	q := New(cmd)
	c := compiler{sch: sch, q: q}

	var err error
	switch cmd {
	case Add:
		err = c.add(raw)
	case Set, Inc:
		err = c.update(raw)
	case Get:
		err = c.get(raw)
	case GetMany:
		err = c.getMany(raw)
	case Remove:
		err = c.remove(raw)
	case Lookup, GetCount:
		err = c.lookup(raw)
	case OutputCache, FlushCache:
	default:
		err = dserr.New(dserr.InvalidCommand, fmt.Sprintf("invalid command %q", cmd))
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

type compiler struct {
	sch *schema.Schema
	q   *Query
}

func invalid(format string, args ...any) error {
	return dserr.New(dserr.InvalidInput, fmt.Sprintf(format, args...))
}

func (c *compiler) add(raw any) error {
	rows, obj, err := c.rowsFrom(raw)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return dserr.New(dserr.MissingFields, "add requires at least one row")
	}
	for i, row := range rows {
		fields := c.fillable(row)
		if len(fields) == 0 {
			return dserr.New(dserr.MissingFields, fmt.Sprintf("row %d has no fillable fields", i))
		}
		c.q.Rows = append(c.q.Rows, fields)
	}
	return c.options(obj)
}

// update compiles set and inc; every row must carry the primary key.
func (c *compiler) update(raw any) error {
	pk := c.sch.PrimaryKey()

	if obj, ok := asObject(raw); ok {
		if _, batch := asList(obj[keyFields]); !batch {
			fields, _ := asObject(obj[keyFields])
			if obj[keyFields] != nil && fields == nil {
				return invalid("%s: fields must be an object or a list", c.q.Command)
			}
			id, ok := obj[pk]
			if !ok || !isScalar(id) {
				id, ok = fields[pk]
			}
			if !ok || !isScalar(id) {
				return dserr.New(dserr.MissingPrimaryKey, fmt.Sprintf("%s requires %s", c.q.Command, pk))
			}
			if c.q.Command == Set {
				if err := c.custom(obj[keyCustom]); err != nil {
					return err
				}
			}
			if err := c.updateRow(id, fields); err != nil {
				return err
			}
			return c.options(obj)
		}
	}

	rows, obj, err := c.rowsFrom(raw)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return dserr.New(dserr.MissingFields, fmt.Sprintf("%s requires at least one row", c.q.Command))
	}
	if obj != nil && c.q.Command == Set {
		if err := c.custom(obj[keyCustom]); err != nil {
			return err
		}
	}
	for i, row := range rows {
		id, ok := row[pk]
		if !ok || !isScalar(id) {
			return dserr.New(dserr.MissingPrimaryKey, fmt.Sprintf("%s row %d is missing %s", c.q.Command, i, pk))
		}
		if err := c.updateRow(id, row); err != nil {
			return err
		}
	}
	return c.options(obj)
}

func (c *compiler) updateRow(id any, row map[string]any) error {
	pk := c.sch.PrimaryKey()
	if c.sch.IsIntField(pk) {
		n, err := ParseInt(id)
		if err != nil {
			return invalid("%s: %s: %v", c.q.Command, pk, err)
		}
		id = n
	}
	fields := c.fillable(row)
	delete(fields, pk)

	if c.q.Command == Inc {
		for name, v := range fields {
			spec, _ := c.sch.Field(name)
			if !spec.Type.Numeric() {
				return invalid("inc: field %s is not numeric", name)
			}
			n, err := parseNumber(v)
			if err != nil {
				return invalid("inc: field %s: %v", name, err)
			}
			fields[name] = n
		}
	}
	if len(fields) == 0 && len(c.q.Custom) == 0 {
		return dserr.New(dserr.MissingFields, fmt.Sprintf("%s has no fillable fields", c.q.Command))
	}
	c.q.Rows = append(c.q.Rows, fields)
	c.q.Primary = append(c.q.Primary, id)
	return nil
}

// rowsFrom accepts a list of rows or {fields: row|rows}.
func (c *compiler) rowsFrom(raw any) ([]map[string]any, map[string]any, error) {
	var obj map[string]any
	src := raw
	if o, ok := asObject(raw); ok {
		obj = o
		src = o[keyFields]
		if src == nil {
			return nil, obj, nil
		}
	}
	if row, ok := asObject(src); ok {
		return []map[string]any{row}, obj, nil
	}
	list, ok := asList(src)
	if !ok {
		return nil, nil, invalid("%s: expected an object or a list of rows", c.q.Command)
	}
	rows := make([]map[string]any, 0, len(list))
	for i, item := range list {
		row, ok := asObject(item)
		if !ok {
			return nil, nil, invalid("%s: row %d is not an object", c.q.Command, i)
		}
		rows = append(rows, row)
	}
	return rows, obj, nil
}

// fillable copies the allow-listed fields of a row.
func (c *compiler) fillable(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for name, v := range row {
		if c.sch.IsFillable(name) {
			out[name] = v
		}
	}
	return out
}

func (c *compiler) custom(raw any) error {
	if raw == nil {
		return nil
	}
	obj, ok := asObject(raw)
	if !ok {
		return invalid("custom must be an object")
	}
	for _, name := range sortedKeys(obj) {
		if !c.sch.IsFillable(name) {
			continue
		}
		expr, ok := obj[name].(string)
		if !ok || strings.TrimSpace(expr) == "" {
			return invalid("custom %s must be a SQL expression", name)
		}
		if c.q.Custom == nil {
			c.q.Custom = make(map[string]string)
		}
		c.q.Custom[name] = expr
	}
	return nil
}

func (c *compiler) get(raw any) error {
	pk := c.sch.PrimaryKey()
	obj, isObj := asObject(raw)
	if !isObj {
		values, ok := scalars(raw)
		if !ok {
			return invalid("get: expected a key, a list of keys or an object")
		}
		c.q.Single = isScalar(raw)
		return c.setKey(pk, values)
	}

	if v, ok := obj[pk]; ok {
		values, ok := scalars(v)
		if !ok {
			return invalid("get: %s must be a key or a list of keys", pk)
		}
		c.q.Single = isScalar(v)
		if err := c.setKey(pk, values); err != nil {
			return err
		}
		return c.options(obj)
	}
	for _, name := range sortedKeys(obj) {
		if !c.sch.IsUnique(name) {
			continue
		}
		values, ok := scalars(obj[name])
		if !ok {
			return invalid("get: %s must be a key or a list of keys", name)
		}
		c.q.Single = isScalar(obj[name])
		if err := c.setKey(name, values); err != nil {
			return err
		}
		return c.options(obj)
	}
	return dserr.New(dserr.MissingPrimaryKey, fmt.Sprintf("get requires %s or a unique field", pk))
}

func (c *compiler) setKey(field string, values []any) error {
	values = dedupe(values)
	if len(values) == 0 {
		return dserr.New(dserr.MissingPrimaryKey, fmt.Sprintf("%s: no values for %s", c.q.Command, field))
	}
	if c.sch.IsIntField(field) {
		for i, v := range values {
			n, err := ParseInt(v)
			if err != nil {
				return invalid("%s: %s: %v", c.q.Command, field, err)
			}
			values[i] = n
		}
	}
	c.q.Field = field
	c.q.Values = values
	if field == c.sch.PrimaryKey() {
		c.q.Primary = append([]any(nil), values...)
	}
	return nil
}

func (c *compiler) getMany(raw any) error {
	obj, ok := asObject(raw)
	if !ok {
		return invalid("getMany: expected {field: [ids]}")
	}
	var field string
	for _, name := range sortedKeys(obj) {
		if _, opt := optionKeys[name]; opt || !c.sch.HasField(name) {
			continue
		}
		if field != "" {
			return invalid("getMany: more than one field given (%s, %s)", field, name)
		}
		field = name
	}
	if field == "" {
		return invalid("getMany: no known field given")
	}
	values, ok := scalars(obj[field])
	if !ok {
		return invalid("getMany: %s must be a key or a list of keys", field)
	}
	values = dedupe(values)
	if len(values) == 0 {
		return invalid("getMany: no values for %s", field)
	}
	if c.sch.IsIntField(field) {
		for i, v := range values {
			n, err := ParseInt(v)
			if err != nil {
				return invalid("getMany: %s: %v", field, err)
			}
			values[i] = n
		}
	}
	c.q.Field = field
	c.q.Values = values
	return c.options(obj)
}

func (c *compiler) remove(raw any) error {
	pk := c.sch.PrimaryKey()
	src := raw
	obj, isObj := asObject(raw)
	if isObj {
		v, ok := obj[pk]
		if !ok {
			return dserr.New(dserr.MissingPrimaryKey, fmt.Sprintf("remove requires %s", pk))
		}
		src = v
	}
	values, ok := scalars(src)
	if !ok {
		return invalid("remove: expected a key or a list of keys")
	}
	if err := c.setKey(pk, values); err != nil {
		return err
	}
	return c.options(obj)
}

func (c *compiler) lookup(raw any) error {
	if raw == nil {
		return nil
	}
	obj, ok := asObject(raw)
	if !ok {
		return invalid("%s: expected an object", c.q.Command)
	}
	for _, op := range filterOperators {
		v, ok := obj[string(op)]
		if !ok {
			continue
		}
		if err := c.filter(op, v); err != nil {
			return err
		}
	}
	if err := c.joins(obj[keyJoin], false); err != nil {
		return err
	}
	if err := c.joins(obj[keyLeftJoin], true); err != nil {
		return err
	}
	if err := c.group(obj[keyGroup]); err != nil {
		return err
	}
	if err := c.order(obj[keyOrder]); err != nil {
		return err
	}
	for key, dst := range map[string]*int{keyPage: &c.q.Page, keyLimit: &c.q.Limit} {
		v, ok := obj[key]
		if !ok || v == nil {
			continue
		}
		n, err := toInt(v)
		if err != nil || n < 0 {
			return invalid("%s must be a non-negative integer", key)
		}
		*dst = n
	}
	return c.options(obj)
}

func (c *compiler) filter(op Operator, raw any) error {
	obj, ok := asObject(raw)
	if !ok {
		return invalid("filter %q must be an object of fields", op)
	}
	for _, name := range sortedKeys(obj) {
		if !c.sch.HasField(name) {
			continue
		}
		v := obj[name]
		switch {
		case op == OpEqual:
			values, ok := scalars(v)
			if !ok {
				return invalid("filter %q on %s: expected a value or a list of values", op, name)
			}
			values = dedupe(values)
			if len(values) == 0 {
				return invalid("filter %q on %s: empty value list", op, name)
			}
			if c.sch.IsIntField(name) {
				for i, item := range values {
					n, err := ParseInt(item)
					if err != nil {
						return invalid("filter %q on %s: %v", op, name, err)
					}
					values[i] = n
				}
			}
			c.q.Filters = append(c.q.Filters, Filter{Op: op, Field: name, Values: values})
		case op == OpModulo:
			spec, ok := asObject(v)
			if !ok {
				return invalid("filter modulo on %s: expected {mod, value}", name)
			}
			mod, err := ParseInt(spec["mod"])
			if err != nil || mod == 0 {
				return invalid("filter modulo on %s: mod must be a non-zero integer", name)
			}
			val, err := ParseInt(spec["value"])
			if err != nil {
				return invalid("filter modulo on %s: value must be an integer", name)
			}
			c.q.Filters = append(c.q.Filters, Filter{Op: op, Field: name, Values: []any{val}, Mod: mod})
		default:
			if !isScalar(v) {
				return invalid("filter %q on %s: expected a single value", op, name)
			}
			if op.IsLike() {
				v = op.Pattern(KeyString(v))
			}
			c.q.Filters = append(c.q.Filters, Filter{Op: op, Field: name, Values: []any{v}})
		}
	}
	return nil
}

func (c *compiler) joins(raw any, left bool) error {
	if raw == nil {
		return nil
	}
	obj, ok := asObject(raw)
	if !ok {
		return invalid("join must be an object of table: condition")
	}
	for _, table := range sortedKeys(obj) {
		on, ok := obj[table].(string)
		if !IsIdent(table) || !ok || strings.TrimSpace(on) == "" {
			return invalid("join %s: expected a table name and an ON condition", table)
		}
		c.q.Joins = append(c.q.Joins, Join{Table: table, On: on, Left: left})
	}
	return nil
}

func (c *compiler) group(raw any) error {
	if raw == nil {
		return nil
	}
	values, ok := scalars(raw)
	if !ok {
		return invalid("group must be a field or a list of fields")
	}
	for _, v := range values {
		name := KeyString(v)
		if c.sch.HasField(name) {
			c.q.Group = append(c.q.Group, name)
		}
	}
	return nil
}

func (c *compiler) order(raw any) error {
	if raw == nil {
		return nil
	}
	if obj, ok := asObject(raw); ok {
		for _, name := range sortedKeys(obj) {
			dir, _ := obj[name].(string)
			if err := c.addOrder(name, dir); err != nil {
				return err
			}
		}
		return nil
	}
	values, ok := scalars(raw)
	if !ok {
		return invalid("order must be a string, a list or an object")
	}
	for _, v := range values {
		parts := strings.Fields(KeyString(v))
		switch len(parts) {
		case 1:
			if err := c.addOrder(parts[0], ""); err != nil {
				return err
			}
		case 2:
			if err := c.addOrder(parts[0], parts[1]); err != nil {
				return err
			}
		default:
			return invalid("order term %q is malformed", v)
		}
	}
	return nil
}

func (c *compiler) addOrder(name, dir string) error {
	var desc bool
	switch strings.ToUpper(dir) {
	case "", "ASC":
	case "DESC":
		desc = true
	default:
		return invalid("order %s: direction must be ASC or DESC", name)
	}
	if c.sch.HasField(name) {
		c.q.Order = append(c.q.Order, Order{Field: name, Desc: desc})
	}
	return nil
}

// options reads the keys shared by every object payload.
func (c *compiler) options(obj map[string]any) error {
	if obj == nil {
		return nil
	}
	if raw, ok := obj[keyOutputStyle]; ok && raw != nil {
		values, ok := scalars(raw)
		if !ok {
			return invalid("outputStyle must be a string or a list of strings")
		}
		for _, v := range values {
			c.q.AddOutputStyle(KeyString(v))
		}
	}
	return c.fill(obj[keyFill])
}

func (c *compiler) fill(raw any) error {
	if raw == nil {
		return nil
	}
	add := func(alias, table string) {
		if _, ok := c.sch.Relationship(table); ok {
			c.q.Fill = append(c.q.Fill, Fill{Alias: alias, Table: table})
		}
	}
	if obj, ok := asObject(raw); ok {
		for _, alias := range sortedKeys(obj) {
			table, ok := obj[alias].(string)
			if !ok {
				return invalid("fill %s must name a table", alias)
			}
			add(alias, table)
		}
		return nil
	}
	values, ok := scalars(raw)
	if !ok {
		return invalid("fill must be a table, a list of tables or an object of alias: table")
	}
	for _, v := range values {
		table := KeyString(v)
		add(table, table)
	}
	return nil
}
