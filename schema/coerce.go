package schema

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/spf13/cast"
)

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05"
	timeLayout     = "15:04:05"
)

// CoerceRow normalizes a row read from the database or the cache so that both
// sources produce identical Go values: ints become int64, floats float64 and
// everything else a string. Columns unknown to the schema only get []byte
// converted to string.
func (s *Schema) CoerceRow(row map[string]any) map[string]any {
	if row == nil {
		return nil
	}
	out := make(map[string]any, len(row))
	for name, v := range row {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		f, ok := s.fields[name]
		if !ok || v == nil {
			out[name] = v
			continue
		}
		out[name] = coerceValue(f.Type, v)
	}
	return out
}

func coerceValue(t FieldType, v any) any {
	switch t {
	case TypeInt:
		if n, err := toInt64(v); err == nil {
			return n
		}
	case TypeFloat:
		if f, err := toFloat64(v); err == nil {
			return f
		}
	case TypeDate, TypeDatetime, TypeTime:
		if tm, ok := v.(time.Time); ok {
			switch t {
			case TypeDate:
				return tm.Format(dateLayout)
			case TypeTime:
				return tm.Format(timeLayout)
			default:
				return tm.Format(datetimeLayout)
			}
		}
		if str, err := cast.ToStringE(v); err == nil {
			return str
		}
	default:
		if str, err := cast.ToStringE(v); err == nil {
			return str
		}
	}
	return v
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		return int64(f), err
	}
	return cast.ToInt64E(v)
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case string:
		return strconv.ParseFloat(n, 64)
	case json.Number:
		return n.Float64()
	}
	return cast.ToFloat64E(v)
}
