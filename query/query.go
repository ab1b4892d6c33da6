// Package query compiles loosely typed command payloads into Query values.
//
// Compilation is the only place where input shape is interpreted: scalars,
// lists and objects are normalized once here, fields outside the schema's
// fillable set are dropped, and filters are reduced to a fixed operator set.
// A Query is built fresh per call and is read-only once compiled.
package query

import "sort"

// Filter is one predicate of a lookup.
type Filter struct {
	Op    Operator
	Field string
	// Values holds the deduplicated operands of an equality filter and the
	// single operand of every other operator. For int fields equality values
	// are already validated int64.
	Values []any
	// Mod is the divisor of a modulo filter.
	Mod any
}

// Join is an inner or left join with a caller-supplied ON expression.
type Join struct {
	Table string
	On    string
	Left  bool
}

// Order is a single ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Fill requests eager loading of a related table under an alias.
type Fill struct {
	Alias string
	Table string
}

// Query is a compiled command.
type Query struct {
	Command Command

	// Rows are the fillable field values of a write, one map per row.
	Rows []map[string]any
	// Primary holds primary key values: the keys to fetch or remove, or, for
	// set and inc, the key of Rows[i] at index i.
	Primary []any

	// Field and Values are the resolved key of get and getMany.
	Field  string
	Values []any
	// Single is set when get was given one bare key instead of a list.
	Single bool

	Filters []Filter
	Joins   []Join
	Group   []string
	Order   []Order
	Page    int
	Limit   int

	// Custom maps a field to a raw SQL assignment expression used by set.
	Custom map[string]string
	Fill   []Fill

	styles map[OutputStyle]struct{}
}

// New returns an empty query for a command.
func New(cmd Command) *Query {
	return &Query{Command: cmd, styles: make(map[OutputStyle]struct{})}
}

// HasStyle reports whether an output style is active.
func (q *Query) HasStyle(s OutputStyle) bool {
	_, ok := q.styles[s]
	return ok
}

// AddOutputStyle activates a style; unknown styles are ignored.
func (q *Query) AddOutputStyle(name string) bool {
	s := OutputStyle(name)
	if _, ok := outputStyles[s]; !ok {
		return false
	}
	if q.styles == nil {
		q.styles = make(map[OutputStyle]struct{})
	}
	q.styles[s] = struct{}{}
	return true
}

// SetOutputStyles replaces the active styles, ignoring unknown names.
func (q *Query) SetOutputStyles(names ...string) {
	q.styles = make(map[OutputStyle]struct{}, len(names))
	for _, name := range names {
		q.AddOutputStyle(name)
	}
}

// OutputStyles lists the active styles in lexical order.
func (q *Query) OutputStyles() []OutputStyle {
	out := make([]OutputStyle, 0, len(q.styles))
	for s := range q.styles {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Offset is the row offset implied by Page and Limit.
func (q *Query) Offset() int {
	if q.Page <= 1 || q.Limit <= 0 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// Clone returns a copy whose slices and maps can be changed independently.
func (q *Query) Clone() *Query {
	c := *q
	c.Rows = make([]map[string]any, len(q.Rows))
	for i, row := range q.Rows {
		c.Rows[i] = make(map[string]any, len(row))
		for k, v := range row {
			c.Rows[i][k] = v
		}
	}
	c.Primary = append([]any(nil), q.Primary...)
	c.Values = append([]any(nil), q.Values...)
	c.Filters = append([]Filter(nil), q.Filters...)
	c.Joins = append([]Join(nil), q.Joins...)
	c.Group = append([]string(nil), q.Group...)
	c.Order = append([]Order(nil), q.Order...)
	c.Fill = append([]Fill(nil), q.Fill...)
	if q.Custom != nil {
		c.Custom = make(map[string]string, len(q.Custom))
		for k, v := range q.Custom {
			c.Custom[k] = v
		}
	}
	c.styles = make(map[OutputStyle]struct{}, len(q.styles))
	for s := range q.styles {
		c.styles[s] = struct{}{}
	}
	return &c
}
