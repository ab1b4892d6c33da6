// Package cacheinfra holds the byte-level cache adapters behind cache.Backend.
package cacheinfra

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by stores that cannot perform an operation, such as
// enumerating keys on memcache.
var ErrUnsupported = errors.New("cacheinfra: operation not supported by this store")

// Store is a flat key/value store of encoded entries.
type Store interface {
	// GetMulti returns the entries that exist; missing keys are absent from the map.
	GetMulti(ctx context.Context, keys []string) (map[string][]byte, error)
	SetMulti(ctx context.Context, entries map[string][]byte, ttl time.Duration) error
	// Delete removes keys; absent keys are not an error.
	Delete(ctx context.Context, keys []string) error
	// Scan returns every entry whose key starts with prefix.
	Scan(ctx context.Context, prefix string) (map[string][]byte, error)
	// Flush removes every entry whose key starts with prefix.
	Flush(ctx context.Context, prefix string) error
	Close() error
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}
