package sqlstore

import (
	"strings"
	"unicode"
)

// Verb is the leading keyword of a statement.
type Verb string

const (
	VerbSelect   Verb = "SELECT"
	VerbInsert   Verb = "INSERT"
	VerbUpdate   Verb = "UPDATE"
	VerbReplace  Verb = "REPLACE"
	VerbDelete   Verb = "DELETE"
	VerbTruncate Verb = "TRUNCATE"
	VerbUnknown  Verb = ""
)

// Kind decides pool routing and which statements may share a batch.
type Kind int

const (
	KindUnknown Kind = iota
	KindRead
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Classify reads the leading keyword of a rendered statement.
func Classify(sql string) (Verb, Kind) {
	s := strings.TrimLeftFunc(sql, func(r rune) bool {
		return unicode.IsSpace(r) || r == '('
	})
	end := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsLetter(r) })
	if end >= 0 {
		s = s[:end]
	}
	switch verb := Verb(strings.ToUpper(s)); verb {
	case VerbSelect:
		return verb, KindRead
	case VerbInsert, VerbUpdate, VerbReplace, VerbDelete, VerbTruncate:
		return verb, KindWrite
	}
	return VerbUnknown, KindUnknown
}

// Statement is SQL text with :name placeholders and the values bound to them.
// A literal colon is written as "::".
type Statement struct {
	SQL    string
	Params map[string]any
}

// Kind classifies the statement text.
func (s Statement) Kind() Kind {
	_, kind := Classify(s.SQL)
	return kind
}
