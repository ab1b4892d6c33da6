package schema

import (
	"fmt"
	"strings"
)

// RelationKind is the cardinality of a relationship between two tables.
type RelationKind string

const (
	BelongsTo     RelationKind = "belongsTo"
	BelongsToMany RelationKind = "belongsToMany"
	HasOne        RelationKind = "hasOne"
	HasMany       RelationKind = "hasMany"
)

// relationKinds fixes the order used when a related table is resolved without a kind.
var relationKinds = []RelationKind{BelongsTo, HasOne, HasMany, BelongsToMany}

// ParseRelationKind accepts camelCase and snake_case spellings.
func ParseRelationKind(name string) (RelationKind, error) {
	normalized := strings.ToLower(strings.ReplaceAll(name, "_", ""))
	for _, kind := range relationKinds {
		if strings.ToLower(string(kind)) == normalized {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown relationship kind %q", name)
}

// Many reports whether the relationship resolves to a list of related rows.
func (k RelationKind) Many() bool {
	return k == HasMany || k == BelongsToMany
}

// Relation links a column on this table to a column on the related table.
// ForeignColumn lives on the related table, LocalColumn on this one.
type Relation struct {
	Kind          RelationKind
	Table         string
	ForeignColumn string
	LocalColumn   string
}

func defaultColumns(kind RelationKind, thisTable, relatedTable string) (foreign, local string) {
	switch kind {
	case HasOne, HasMany:
		return thisTable + "_id", "id"
	default:
		return "id", relatedTable + "_id"
	}
}
