package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dataserve/dataserve-sub000/dserr"
	"github.com/dataserve/dataserve-sub000/internal/cacheinfra"
)

// Backend is the cache contract consumed by the model engine. A nil value in
// Set stores a tombstone; Get reports tombstones as present keys holding nil.
type Backend interface {
	// GetAll returns every entry keyed by "table::field::value".
	GetAll(ctx context.Context) (map[string]any, error)
	// Get returns the entries that exist for keys; missing keys are absent.
	Get(ctx context.Context, table, field string, keys []string) (map[string]any, error)
	Set(ctx context.Context, table, field string, entries map[string]any) error
	// Del removes keys; absent keys are not an error.
	Del(ctx context.Context, table, field string, keys []string) error
	DelAll(ctx context.Context) error
	Close() error
}

// NewBackend constructs the backend selected by cfg. Zero values take defaults.
func NewBackend(cfg Config) (Backend, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		store cacheinfra.Store
		err   error
	)
	switch cfg.Backend {
	case BackendMemory:
		store, err = cacheinfra.NewMemory(cfg.memoryConfig())
	case BackendRedis:
		store, err = cacheinfra.NewRedis(cacheinfra.RedisConfig{
			Addrs:      cfg.Redis.Addrs,
			Username:   cfg.Redis.Username,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MasterName: cfg.Redis.MasterName,
		})
	case BackendMemcache:
		store, err = cacheinfra.NewMemcache(cacheinfra.MemcacheConfig{
			Servers: cfg.Memcache.Servers,
			Timeout: cfg.Memcache.Timeout,
		})
	default:
		return nil, fmt.Errorf("cache: backend %q cannot be constructed", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	return NewStoreBackend(store, cfg.Prefix, cfg.Codec, cfg.TTL)
}

// NewStoreBackend layers keys and encoding over a raw store.
func NewStoreBackend(store cacheinfra.Store, prefix, codec string, ttl time.Duration) (Backend, error) {
	c, err := CodecByName(codec)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &service{store: store, keys: NewKeyspace(prefix), codec: c, ttl: ttl}, nil
}

type service struct {
	store cacheinfra.Store
	keys  Keyspace
	codec Codec
	ttl   time.Duration
}

func storeError(err error, op string) error {
	if errors.Is(err, cacheinfra.ErrUnsupported) {
		return dserr.Wrap(err, dserr.CacheUnsupportedOperation, op+" is not supported by this cache backend")
	}
	return dserr.Wrap(err, dserr.CacheFailure, fmt.Sprintf("cache %s failed: %v", op, err))
}

func (s *service) GetAll(ctx context.Context) (map[string]any, error) {
	raw, err := s.store.Scan(ctx, s.keys.Root())
	if err != nil {
		return nil, storeError(err, "getAll")
	}
	out := make(map[string]any, len(raw))
	for full, data := range raw {
		local, ok := s.keys.Local(full)
		if !ok {
			continue
		}
		v, err := s.codec.Unmarshal(data)
		if err != nil {
			return nil, storeError(err, "getAll")
		}
		out[local] = v
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, table, field string, keys []string) (map[string]any, error) {
	out := make(map[string]any, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := s.keys.Keys(table, field, keys)
	raw, err := s.store.GetMulti(ctx, full)
	if err != nil {
		return nil, storeError(err, "get")
	}
	for i, key := range full {
		data, ok := raw[key]
		if !ok {
			continue
		}
		v, err := s.codec.Unmarshal(data)
		if err != nil {
			return nil, storeError(err, "get")
		}
		out[keys[i]] = v
	}
	return out, nil
}

func (s *service) Set(ctx context.Context, table, field string, entries map[string]any) error {
	if len(entries) == 0 {
		return nil
	}
	raw := make(map[string][]byte, len(entries))
	for key, v := range entries {
		data, err := s.codec.Marshal(v)
		if err != nil {
			return storeError(err, "set")
		}
		raw[s.keys.Key(table, field, key)] = data
	}
	if err := s.store.SetMulti(ctx, raw, s.ttl); err != nil {
		return storeError(err, "set")
	}
	return nil
}

func (s *service) Del(ctx context.Context, table, field string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.store.Delete(ctx, s.keys.Keys(table, field, keys)); err != nil {
		return storeError(err, "del")
	}
	return nil
}

func (s *service) DelAll(ctx context.Context) error {
	if err := s.store.Flush(ctx, s.keys.Root()); err != nil {
		return storeError(err, "delAll")
	}
	return nil
}

func (s *service) Close() error { return s.store.Close() }
