package hooks

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
	"github.com/spf13/cast"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/query"
	"github.com/dataserve/dataserve-sub000/schema"
)

// TimestampLayout is the format of generated timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// RuleHook applies the configured field rules to add and set rows: generate,
// then sanitize, then validate, then encrypt.
type RuleHook struct {
	fields map[string]FieldRules
	names  []string
	now    func() time.Time
}

// NewRuleHook compiles the rules of every field of def. It returns nil when no
// field has rules.
func NewRuleHook(table string, def schema.TableDef) (*RuleHook, error) {
	h := &RuleHook{fields: make(map[string]FieldRules), now: time.Now}
	for name, fd := range def.Fields {
		rules, err := ParseFieldRules(fd)
		if err != nil {
			return nil, fmt.Errorf("table %s field %s: %w", table, name, err)
		}
		if rules.Empty() {
			continue
		}
		h.fields[name] = rules
		h.names = append(h.names, name)
	}
	if len(h.names) == 0 {
		return nil, nil
	}
	sort.Strings(h.names)
	return h, nil
}

// Rules returns the compiled rules of a field.
func (h *RuleHook) Rules(field string) (FieldRules, bool) {
	r, ok := h.fields[field]
	return r, ok
}

func (h *RuleHook) Before(ctx context.Context, call *Call) error {
	cmd := call.Query.Command
	if cmd != query.Add && cmd != query.Set {
		return nil
	}

	reasons := make(map[string]string)
	for i, row := range call.Query.Rows {
		var pk any
		if cmd == query.Set && i < len(call.Query.Primary) {
			pk = call.Query.Primary[i]
		}
		for _, name := range h.names {
			if !call.Schema.IsFillable(name) {
				continue
			}
			rules := h.fields[name]
			if cmd == query.Add {
				h.generate(row, name, rules.Generate)
			}
			v, present := row[name]
			if present {
				v = sanitize(v, rules.Sanitize)
				row[name] = v
			}
			if msg := h.validate(ctx, call, cmd, name, v, present, pk, rules.Validate); msg != "" {
				if _, seen := reasons[name]; !seen {
					reasons[name] = msg
				}
				continue
			}
			if present && v != nil {
				row[name] = encrypt(v, rules.Encrypt)
			}
		}
	}
	if len(reasons) > 0 {
		return dserr.Validation(fmt.Sprintf("%s: validation failed", call.Table), reasons)
	}
	return nil
}

func (h *RuleHook) After(context.Context, *Call, Outcome) error { return nil }

func (h *RuleHook) generate(row map[string]any, name string, rule GenerateRule) {
	if _, ok := row[name]; ok {
		return
	}
	switch rule {
	case GenerateUUID:
		row[name] = uuid.NewString()
	case GenerateTimestamp:
		row[name] = h.now().UTC().Format(TimestampLayout)
	}
}

func sanitize(v any, rules []SanitizeRule) any {
	for _, rule := range rules {
		if v == nil {
			return nil
		}
		switch rule {
		case SanitizeTrim:
			if s, ok := v.(string); ok {
				v = strings.TrimSpace(s)
			}
		case SanitizeLower:
			if s, ok := v.(string); ok {
				v = strings.ToLower(s)
			}
		case SanitizeUpper:
			if s, ok := v.(string); ok {
				v = strings.ToUpper(s)
			}
		case SanitizeInt:
			v = cast.ToInt64(v)
		case SanitizeFloat:
			v = cast.ToFloat64(v)
		case SanitizeString:
			v = cast.ToString(v)
		}
	}
	return v
}

// validate returns the first failure message for a field, or "".
func (h *RuleHook) validate(ctx context.Context, call *Call, cmd query.Command, name string, v any, present bool, pk any, rules []ValidateRule) string {
	for _, rule := range rules {
		if rule.Kind == ValidateRequired {
			if !present && cmd == query.Set {
				continue
			}
			if err := validation.Validate(v, validation.Required); err != nil {
				return err.Error()
			}
			continue
		}
		if !present || v == nil {
			continue
		}
		if msg := check(ctx, call, name, v, pk, rule); msg != "" {
			return msg
		}
	}
	return ""
}

func check(ctx context.Context, call *Call, name string, v any, pk any, rule ValidateRule) string {
	var err error
	switch rule.Kind {
	case ValidateEmail:
		err = validation.Validate(cast.ToString(v), is.EmailFormat)
	case ValidateURL:
		err = validation.Validate(cast.ToString(v), is.URL)
	case ValidateUUID:
		err = validation.Validate(cast.ToString(v), is.UUID)
	case ValidateMin, ValidateMax:
		err = checkBound(call.Schema, name, v, rule)
	case ValidateIn:
		opts := make([]any, len(rule.Options))
		for i, o := range rule.Options {
			opts[i] = o
		}
		err = validation.Validate(cast.ToString(v), validation.In(opts...))
	case ValidateMatch:
		err = validation.Validate(cast.ToString(v), validation.Match(rule.Pattern))
	case ValidateUnique:
		return checkUnique(ctx, call, name, v, pk)
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// checkBound compares numbers by value and everything else by length.
func checkBound(sch *schema.Schema, name string, v any, rule ValidateRule) error {
	spec, _ := sch.Field(name)
	if spec.Type.Numeric() {
		n, err := cast.ToFloat64E(v)
		if err != nil {
			return fmt.Errorf("must be a number")
		}
		if rule.Kind == ValidateMin {
			return validation.Validate(n, validation.Min(rule.Bound))
		}
		return validation.Validate(n, validation.Max(rule.Bound))
	}
	s := cast.ToString(v)
	if rule.Kind == ValidateMin {
		return validation.Validate(s, validation.RuneLength(int(rule.Bound), 0))
	}
	return validation.Validate(s, validation.RuneLength(0, int(rule.Bound)))
}

func checkUnique(ctx context.Context, call *Call, name string, v any, pk any) string {
	if call.Exists == nil {
		return ""
	}
	ids, err := call.Exists(ctx, name, v)
	if err != nil {
		return fmt.Sprintf("could not check uniqueness: %v", err)
	}
	for _, id := range ids {
		if pk == nil || query.KeyString(id) != query.KeyString(pk) {
			return "must be unique"
		}
	}
	return ""
}

func encrypt(v any, rule EncryptRule) any {
	switch rule {
	case EncryptMD5:
		sum := md5.Sum([]byte(cast.ToString(v)))
		return hex.EncodeToString(sum[:])
	case EncryptSHA256:
		sum := sha256.Sum256([]byte(cast.ToString(v)))
		return hex.EncodeToString(sum[:])
	}
	return v
}
