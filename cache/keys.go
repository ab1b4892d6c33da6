package cache

import "strings"

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// Keyspace lays out keys under a prefix.
type Keyspace struct {
	prefix string
}

// NewKeyspace returns the keyspace rooted at prefix.
func NewKeyspace(prefix string) Keyspace {
	return Keyspace{prefix: prefix}
}

// Root is the prefix shared by every key of the keyspace.
func (k Keyspace) Root() string {
	return k.prefix + KeySeparator
}

// Key builds the full key of one entry.
func (k Keyspace) Key(table, field, value string) string {
	return strings.Join([]string{k.prefix, table, field, value}, KeySeparator)
}

// Keys builds the full keys of values, in order.
func (k Keyspace) Keys(table, field string, values []string) []string {
	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = k.Key(table, field, v)
	}
	return keys
}

// Local strips the prefix from a full key.
func (k Keyspace) Local(full string) (string, bool) {
	return strings.CutPrefix(full, k.Root())
}

// Split returns the parts of a full key. Values may contain the separator.
func (k Keyspace) Split(full string) (table, field, value string, ok bool) {
	local, ok := k.Local(full)
	if !ok {
		return "", "", "", false
	}
	parts := strings.SplitN(local, KeySeparator, 3)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}
