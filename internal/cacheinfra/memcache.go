package cacheinfra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cespare/xxhash/v2"
)

// maxKeyLength is the memcache protocol limit.
const maxKeyLength = 250

// maxRelativeTTL is the longest expiration memcache reads as relative; larger
// values are taken as unix timestamps.
const maxRelativeTTL = 30 * 24 * time.Hour

// MemcacheConfig lists the servers of a memcache pool.
type MemcacheConfig struct {
	Servers []string
	Timeout time.Duration
}

// Validate checks the server list.
func (c MemcacheConfig) Validate() error {
	if len(c.Servers) == 0 {
		return &ConfigError{Field: "Servers", Message: "at least one server is required"}
	}
	return nil
}

// Memcache stores entries in memcache. It cannot enumerate keys, and Flush
// clears the whole server regardless of prefix.
type Memcache struct {
	client *memcache.Client
	now    func() time.Time
}

// NewMemcache creates a client for the configured servers.
func NewMemcache(cfg MemcacheConfig) (*Memcache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := memcache.New(cfg.Servers...)
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	return &Memcache{client: client, now: time.Now}, nil
}

// MemcacheKey maps a logical key to a legal memcache key. Keys that are too long
// or contain spaces or control characters are replaced by their xxhash.
func MemcacheKey(key string) string {
	if len(key) <= maxKeyLength && legalKey(key) {
		return key
	}
	return "h:" + strconv.FormatUint(xxhash.Sum64String(key), 16)
}

// expiration converts ttl to the memcache wire value. Zero never expires.
func expiration(ttl time.Duration, now time.Time) int32 {
	switch {
	case ttl <= 0:
		return 0
	case ttl < time.Second:
		return 1
	case ttl > maxRelativeTTL:
		return int32(now.Add(ttl).Unix())
	}
	return int32(ttl / time.Second)
}

func legalKey(key string) bool {
	for i := 0; i < len(key); i++ {
		if key[i] <= ' ' || key[i] == 0x7f {
			return false
		}
	}
	return true
}

func (m *Memcache) GetMulti(_ context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	wire := make([]string, len(keys))
	for i, key := range keys {
		wire[i] = MemcacheKey(key)
	}
	items, err := m.client.GetMulti(wire)
	if err != nil {
		return nil, fmt.Errorf("memcache get: %w", err)
	}
	for i, key := range keys {
		if item, ok := items[wire[i]]; ok {
			out[key] = item.Value
		}
	}
	return out, nil
}

func (m *Memcache) SetMulti(_ context.Context, entries map[string][]byte, ttl time.Duration) error {
	for key, v := range entries {
		item := &memcache.Item{Key: MemcacheKey(key), Value: v, Expiration: expiration(ttl, m.now())}
		if err := m.client.Set(item); err != nil {
			return fmt.Errorf("memcache set: %w", err)
		}
	}
	return nil
}

func (m *Memcache) Delete(_ context.Context, keys []string) error {
	for _, key := range keys {
		err := m.client.Delete(MemcacheKey(key))
		if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
			return fmt.Errorf("memcache delete: %w", err)
		}
	}
	return nil
}

func (m *Memcache) Scan(context.Context, string) (map[string][]byte, error) {
	return nil, ErrUnsupported
}

func (m *Memcache) Flush(context.Context, string) error {
	if err := m.client.DeleteAll(); err != nil {
		return fmt.Errorf("memcache flush: %w", err)
	}
	return nil
}

func (m *Memcache) Close() error { return nil }
