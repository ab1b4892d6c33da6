package schema

import (
	"fmt"
	"sort"
	"sync"
)

// FieldDef is the configuration shape of a field. Rule strings are compiled by the hooks package.
type FieldDef struct {
	Type          string `mapstructure:"type" json:"type" yaml:"type"`
	Key           string `mapstructure:"key" json:"key,omitempty" yaml:"key,omitempty"`
	Nullable      bool   `mapstructure:"nullable" json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Fillable      *bool  `mapstructure:"fillable" json:"fillable,omitempty" yaml:"fillable,omitempty"`
	AutoIncrement bool   `mapstructure:"auto_increment" json:"auto_increment,omitempty" yaml:"auto_increment,omitempty"`
	Validate      string `mapstructure:"validate" json:"validate,omitempty" yaml:"validate,omitempty"`
	Sanitize      string `mapstructure:"sanitize" json:"sanitize,omitempty" yaml:"sanitize,omitempty"`
	Generate      string `mapstructure:"generate" json:"generate,omitempty" yaml:"generate,omitempty"`
	Encrypt       string `mapstructure:"encrypt" json:"encrypt,omitempty" yaml:"encrypt,omitempty"`
}

// RelationDef overrides the inferred columns of a relationship.
type RelationDef struct {
	ForeignColumn string `mapstructure:"foreign_column" json:"foreign_column,omitempty" yaml:"foreign_column,omitempty"`
	LocalColumn   string `mapstructure:"local_column" json:"local_column,omitempty" yaml:"local_column,omitempty"`
}

// TimestampDef names the created/modified columns.
type TimestampDef struct {
	Created  string `mapstructure:"created" json:"created,omitempty" yaml:"created,omitempty"`
	Modified string `mapstructure:"modified" json:"modified,omitempty" yaml:"modified,omitempty"`
}

// TableDef is the configuration shape of a table.
type TableDef struct {
	Fields        map[string]FieldDef               `mapstructure:"fields" json:"fields" yaml:"fields"`
	SetInsert     bool                              `mapstructure:"set_insert" json:"set_insert,omitempty" yaml:"set_insert,omitempty"`
	Timestamps    *TimestampDef                     `mapstructure:"timestamps" json:"timestamps,omitempty" yaml:"timestamps,omitempty"`
	Relationships map[string]map[string]RelationDef `mapstructure:"relationships" json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// Build turns a table definition into a Schema.
func Build(table string, def TableDef) (*Schema, error) {
	b := NewBuilder(table)

	names := make([]string, 0, len(def.Fields))
	for name := range def.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fd := def.Fields[name]
		typ, err := ParseFieldType(fd.Type)
		if err != nil {
			return nil, fmt.Errorf("table %s field %s: %w", table, name, err)
		}
		key, err := ParseKeyRole(fd.Key)
		if err != nil {
			return nil, fmt.Errorf("table %s field %s: %w", table, name, err)
		}
		fillable := true
		if fd.Fillable != nil {
			fillable = *fd.Fillable
		}
		b.AddField(FieldSpec{
			Name:          name,
			Type:          typ,
			Nullable:      fd.Nullable,
			Fillable:      fillable,
			Key:           key,
			AutoIncrement: fd.AutoIncrement,
		})
	}

	kinds := make([]string, 0, len(def.Relationships))
	for kind := range def.Relationships {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kindName := range kinds {
		kind, err := ParseRelationKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", table, err)
		}
		for related, rd := range def.Relationships[kindName] {
			b.AddRelationship(kind, related, rd.ForeignColumn, rd.LocalColumn)
		}
	}

	b.SetUpsert(def.SetInsert)
	if def.Timestamps != nil {
		b.SetTimestamps(def.Timestamps.Created, def.Timestamps.Modified)
	}
	return b.Build()
}

// Registry holds the schemas of one logical database keyed by table name.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Load builds every table definition into a new registry.
func Load(defs map[string]TableDef) (*Registry, error) {
	r := NewRegistry()
	for table, def := range defs {
		s, err := Build(table, def)
		if err != nil {
			return nil, err
		}
		r.Register(s)
	}
	return r, nil
}

func (r *Registry) Register(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Table()] = s
}

func (r *Registry) Get(table string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[table]
	return s, ok
}

// Tables returns the registered table names in lexical order.
func (r *Registry) Tables() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.schemas))
	for table := range r.schemas {
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}
