// Package schema holds the per-table metadata every other component compiles against.
//
// A Schema is built once from configuration and is read-only afterwards, so a single
// instance is shared by all concurrent operations on its table.
package schema

import (
	"fmt"
	"sort"
)

// Timestamps names the columns maintained automatically on add and set.
type Timestamps struct {
	Created  string
	Modified string
}

// Schema is the immutable description of one table.
type Schema struct {
	table         string
	primary       string
	fields        map[string]FieldSpec
	names         []string
	fillable      map[string]struct{}
	unique        map[string]struct{}
	relationships map[RelationKind]map[string]Relation
	upsert        bool
	timestamps    *Timestamps
}

func (s *Schema) Table() string      { return s.table }
func (s *Schema) PrimaryKey() string { return s.primary }
func (s *Schema) Upsert() bool       { return s.upsert }

// Timestamps returns the timestamp policy, or nil when the table has none.
func (s *Schema) Timestamps() *Timestamps {
	if s.timestamps == nil {
		return nil
	}
	ts := *s.timestamps
	return &ts
}

// Field returns the spec of a named field.
func (s *Schema) Field(name string) (FieldSpec, bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields returns the field names in lexical order.
func (s *Schema) Fields() []string {
	return append([]string(nil), s.names...)
}

func (s *Schema) HasField(name string) bool {
	_, ok := s.fields[name]
	return ok
}

func (s *Schema) IsFillable(name string) bool {
	_, ok := s.fillable[name]
	return ok
}

func (s *Schema) IsUnique(name string) bool {
	_, ok := s.unique[name]
	return ok
}

// IsIntField reports whether a field is declared with the int type.
func (s *Schema) IsIntField(name string) bool {
	f, ok := s.fields[name]
	return ok && f.Type == TypeInt
}

// Relationship finds the relation to a related table regardless of its kind.
func (s *Schema) Relationship(table string) (Relation, bool) {
	for _, kind := range relationKinds {
		if rel, ok := s.relationships[kind][table]; ok {
			return rel, true
		}
	}
	return Relation{}, false
}

// Relationships returns every relation of the given kind keyed by related table.
func (s *Schema) Relationships(kind RelationKind) map[string]Relation {
	out := make(map[string]Relation, len(s.relationships[kind]))
	for table, rel := range s.relationships[kind] {
		out[table] = rel
	}
	return out
}

// Builder accumulates fields and relationships before producing a Schema.
type Builder struct {
	s   *Schema
	err error
}

// NewBuilder starts a schema for the given table.
func NewBuilder(table string) *Builder {
	return &Builder{s: &Schema{
		table:         table,
		fields:        make(map[string]FieldSpec),
		fillable:      make(map[string]struct{}),
		unique:        make(map[string]struct{}),
		relationships: make(map[RelationKind]map[string]Relation),
	}}
}

// AddField registers a field and derives the primary key, fillable and unique sets from it.
func (b *Builder) AddField(f FieldSpec) *Builder {
	if b.err != nil {
		return b
	}
	if f.Name == "" {
		b.err = fmt.Errorf("table %s: field without a name", b.s.table)
		return b
	}
	b.s.fields[f.Name] = f
	switch f.Key {
	case KeyPrimary:
		if b.s.primary != "" && b.s.primary != f.Name {
			b.err = fmt.Errorf("table %s: more than one primary key (%s, %s)", b.s.table, b.s.primary, f.Name)
			return b
		}
		b.s.primary = f.Name
	case KeyUnique:
		b.s.unique[f.Name] = struct{}{}
	}
	if f.Fillable {
		b.s.fillable[f.Name] = struct{}{}
	} else {
		delete(b.s.fillable, f.Name)
	}
	return b
}

// AddRelationship registers a relation. Empty columns are inferred from the kind;
// registering the same (kind, table) pair again replaces the column mapping.
func (b *Builder) AddRelationship(kind RelationKind, table, foreignColumn, localColumn string) *Builder {
	if b.err != nil {
		return b
	}
	defForeign, defLocal := defaultColumns(kind, b.s.table, table)
	if foreignColumn == "" {
		foreignColumn = defForeign
	}
	if localColumn == "" {
		localColumn = defLocal
	}
	if b.s.relationships[kind] == nil {
		b.s.relationships[kind] = make(map[string]Relation)
	}
	b.s.relationships[kind][table] = Relation{
		Kind:          kind,
		Table:         table,
		ForeignColumn: foreignColumn,
		LocalColumn:   localColumn,
	}
	return b
}

func (b *Builder) SetUpsert(upsert bool) *Builder {
	b.s.upsert = upsert
	return b
}

func (b *Builder) SetTimestamps(created, modified string) *Builder {
	if created == "" && modified == "" {
		b.s.timestamps = nil
		return b
	}
	b.s.timestamps = &Timestamps{Created: created, Modified: modified}
	return b
}

// Build checks the schema invariants and returns the finished Schema.
// The builder must not be used after Build.
func (b *Builder) Build() (*Schema, error) {
	if b.err != nil {
		return nil, b.err
	}
	s := b.s
	if s.primary == "" {
		return nil, fmt.Errorf("table %s: no primary key field", s.table)
	}
	if s.upsert && !s.IsFillable(s.primary) {
		return nil, fmt.Errorf("table %s: primary key %s must be fillable when set_insert is enabled", s.table, s.primary)
	}
	s.names = make([]string, 0, len(s.fields))
	for name := range s.fields {
		s.names = append(s.names, name)
	}
	sort.Strings(s.names)
	b.s = nil
	return s, nil
}
