package sqlstore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun/dialect"
)

// Dialect is the part of a bun dialect used to quote identifiers and escape literals.
// Every bun schema.Dialect satisfies it.
type Dialect interface {
	Name() dialect.Name
	IdentQuote() byte
	AppendString(b []byte, s string) []byte
	AppendTime(b []byte, tm time.Time) []byte
}

var placeholder = regexp.MustCompile(`::|:([A-Za-z_][A-Za-z0-9_]*)`)

// Render inlines every bound value of stmt as an escaped literal and collapses
// "::" to a literal colon. Tokens without a bound value are left untouched; the
// replacement is a single pass, so escaped values are never scanned for further
// tokens.
func Render(d Dialect, stmt Statement) string {
	if !strings.Contains(stmt.SQL, ":") {
		return stmt.SQL
	}
	return placeholder.ReplaceAllStringFunc(stmt.SQL, func(token string) string {
		if token == "::" {
			return ":"
		}
		v, ok := stmt.Params[token[1:]]
		if !ok {
			return token
		}
		return string(AppendLiteral(d, nil, v))
	})
}

// Raw escapes the colons of caller-supplied SQL so that Render emits it as is.
func Raw(sql string) string {
	return strings.ReplaceAll(sql, ":", "::")
}

// AppendLiteral appends v to b as a SQL literal escaped by the dialect.
func AppendLiteral(d Dialect, b []byte, v any) []byte {
	switch x := v.(type) {
	case nil:
		return append(b, "NULL"...)
	case string:
		return d.AppendString(b, x)
	case []byte:
		return d.AppendString(b, string(x))
	case bool:
		if x {
			return append(b, '1')
		}
		return append(b, '0')
	case int:
		return strconv.AppendInt(b, int64(x), 10)
	case int8:
		return strconv.AppendInt(b, int64(x), 10)
	case int16:
		return strconv.AppendInt(b, int64(x), 10)
	case int32:
		return strconv.AppendInt(b, int64(x), 10)
	case int64:
		return strconv.AppendInt(b, x, 10)
	case uint:
		return strconv.AppendUint(b, uint64(x), 10)
	case uint8:
		return strconv.AppendUint(b, uint64(x), 10)
	case uint16:
		return strconv.AppendUint(b, uint64(x), 10)
	case uint32:
		return strconv.AppendUint(b, uint64(x), 10)
	case uint64:
		return strconv.AppendUint(b, x, 10)
	case float32:
		return strconv.AppendFloat(b, float64(x), 'f', -1, 32)
	case float64:
		return strconv.AppendFloat(b, x, 'f', -1, 64)
	case json.Number:
		if _, err := strconv.ParseFloat(string(x), 64); err == nil {
			return append(b, x...)
		}
		return d.AppendString(b, string(x))
	case time.Time:
		return d.AppendTime(b, x)
	}
	return d.AppendString(b, fmt.Sprint(v))
}
