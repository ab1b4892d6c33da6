package schema

import (
	"fmt"
	"strings"
)

// FieldType is the storage type of a column as seen by the compiler.
type FieldType string

const (
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeString   FieldType = "string"
	TypeDate     FieldType = "date"
	TypeDatetime FieldType = "datetime"
	TypeTime     FieldType = "time"
	TypeYear     FieldType = "year"
	TypeSet      FieldType = "set"
)

// ParseFieldType maps a configured type name, including common SQL spellings, to a FieldType.
func ParseFieldType(name string) (FieldType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "int", "integer", "tinyint", "smallint", "mediumint", "bigint", "serial":
		return TypeInt, nil
	case "float", "double", "decimal", "real", "numeric":
		return TypeFloat, nil
	case "", "string", "char", "varchar", "text", "tinytext", "mediumtext", "longtext", "enum", "json":
		return TypeString, nil
	case "date":
		return TypeDate, nil
	case "datetime", "timestamp":
		return TypeDatetime, nil
	case "time":
		return TypeTime, nil
	case "year":
		return TypeYear, nil
	case "set":
		return TypeSet, nil
	}
	return "", fmt.Errorf("unknown field type %q", name)
}

// Numeric reports whether values of this type can be incremented.
func (t FieldType) Numeric() bool {
	return t == TypeInt || t == TypeFloat
}

// KeyRole marks primary and unique fields.
type KeyRole int

const (
	KeyNone KeyRole = iota
	KeyPrimary
	KeyUnique
)

func (k KeyRole) String() string {
	switch k {
	case KeyPrimary:
		return "primary"
	case KeyUnique:
		return "unique"
	default:
		return "none"
	}
}

// ParseKeyRole accepts "", "primary" and "unique" (plus the usual SQL spellings).
func ParseKeyRole(name string) (KeyRole, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return KeyNone, nil
	case "primary", "pk", "primary_key":
		return KeyPrimary, nil
	case "unique", "uk":
		return KeyUnique, nil
	}
	return KeyNone, fmt.Errorf("unknown key role %q", name)
}

// FieldSpec describes a single column.
type FieldSpec struct {
	Name          string
	Type          FieldType
	Nullable      bool
	Fillable      bool
	Key           KeyRole
	AutoIncrement bool
}
