package hooks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/dataserve/dataserve-sub000/schema"
)

// SanitizeRule rewrites a value before validation.
type SanitizeRule int

const (
	SanitizeTrim SanitizeRule = iota + 1
	SanitizeLower
	SanitizeUpper
	SanitizeInt
	SanitizeFloat
	SanitizeString
)

var sanitizeNames = map[string]SanitizeRule{
	"trim":   SanitizeTrim,
	"lower":  SanitizeLower,
	"upper":  SanitizeUpper,
	"int":    SanitizeInt,
	"float":  SanitizeFloat,
	"string": SanitizeString,
}

// ValidateKind selects a validation rule.
type ValidateKind int

const (
	ValidateRequired ValidateKind = iota + 1
	ValidateEmail
	ValidateURL
	ValidateUUID
	ValidateMin
	ValidateMax
	ValidateIn
	ValidateMatch
	ValidateUnique
)

// ValidateRule is a validation rule with its parameters.
type ValidateRule struct {
	Kind    ValidateKind
	Bound   float64
	Options []string
	Pattern *regexp.Regexp
}

// GenerateRule fills an absent field on add.
type GenerateRule int

const (
	GenerateNone GenerateRule = iota
	GenerateUUID
	GenerateTimestamp
)

// EncryptRule hashes a value before it is stored.
type EncryptRule int

const (
	EncryptNone EncryptRule = iota
	EncryptMD5
	EncryptSHA256
)

// FieldRules are the compiled rules of one field.
type FieldRules struct {
	Sanitize []SanitizeRule
	Validate []ValidateRule
	Generate GenerateRule
	Encrypt  EncryptRule
}

// Empty reports whether no rule is configured.
func (r FieldRules) Empty() bool {
	return len(r.Sanitize) == 0 && len(r.Validate) == 0 && r.Generate == GenerateNone && r.Encrypt == EncryptNone
}

// splitRules splits "a|b:c" into terms; empty terms are ignored.
func splitRules(spec string) []string {
	var out []string
	for _, term := range strings.Split(spec, "|") {
		if term = strings.TrimSpace(term); term != "" {
			out = append(out, term)
		}
	}
	return out
}

// splitValidateRules is splitRules for validate specs. A match term takes the
// rest of the spec, so a pattern may use "|" but must come last.
func splitValidateRules(spec string) []string {
	var out []string
	for rest := spec; rest != ""; {
		term, tail, _ := strings.Cut(rest, "|")
		name, _, _ := strings.Cut(term, ":")
		if strings.EqualFold(strings.TrimSpace(name), "match") {
			term, tail = rest, ""
		}
		if term = strings.TrimSpace(term); term != "" {
			out = append(out, term)
		}
		rest = tail
	}
	return out
}

// ParseFieldRules compiles the rule strings of a field definition.
func ParseFieldRules(def schema.FieldDef) (FieldRules, error) {
	var r FieldRules

	for _, term := range splitRules(def.Sanitize) {
		rule, ok := sanitizeNames[strings.ToLower(term)]
		if !ok {
			return r, fmt.Errorf("unknown sanitize rule %q", term)
		}
		r.Sanitize = append(r.Sanitize, rule)
	}

	for _, term := range splitValidateRules(def.Validate) {
		rule, err := parseValidate(term)
		if err != nil {
			return r, err
		}
		r.Validate = append(r.Validate, rule)
	}

	switch strings.ToLower(strings.TrimSpace(def.Generate)) {
	case "":
	case "uuid":
		r.Generate = GenerateUUID
	case "timestamp":
		r.Generate = GenerateTimestamp
	default:
		return r, fmt.Errorf("unknown generate rule %q", def.Generate)
	}

	switch strings.ToLower(strings.TrimSpace(def.Encrypt)) {
	case "":
	case "md5":
		r.Encrypt = EncryptMD5
	case "sha256":
		r.Encrypt = EncryptSHA256
	default:
		return r, fmt.Errorf("unknown encrypt rule %q", def.Encrypt)
	}
	return r, nil
}

func parseValidate(term string) (ValidateRule, error) {
	name, arg, hasArg := strings.Cut(term, ":")
	name = strings.ToLower(strings.TrimSpace(name))

	simple := map[string]ValidateKind{
		"required": ValidateRequired,
		"email":    ValidateEmail,
		"url":      ValidateURL,
		"uuid":     ValidateUUID,
		"unique":   ValidateUnique,
	}
	if kind, ok := simple[name]; ok {
		if hasArg {
			return ValidateRule{}, fmt.Errorf("validate rule %q takes no argument", name)
		}
		return ValidateRule{Kind: kind}, nil
	}

	if !hasArg || strings.TrimSpace(arg) == "" {
		return ValidateRule{}, fmt.Errorf("unknown validate rule %q", term)
	}
	switch name {
	case "min", "max":
		bound, err := strconv.ParseFloat(strings.TrimSpace(arg), 64)
		if err != nil {
			return ValidateRule{}, fmt.Errorf("validate rule %s: %w", term, err)
		}
		kind := ValidateMin
		if name == "max" {
			kind = ValidateMax
		}
		return ValidateRule{Kind: kind, Bound: bound}, nil
	case "in":
		var opts []string
		for _, o := range strings.Split(arg, ",") {
			opts = append(opts, strings.TrimSpace(o))
		}
		return ValidateRule{Kind: ValidateIn, Options: opts}, nil
	case "match":
		re, err := regexp.Compile(arg)
		if err != nil {
			return ValidateRule{}, fmt.Errorf("validate rule %s: %w", term, err)
		}
		return ValidateRule{Kind: ValidateMatch, Pattern: re}, nil
	}
	return ValidateRule{}, fmt.Errorf("unknown validate rule %q", term)
}
