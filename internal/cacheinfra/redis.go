package cacheinfra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 500

// RedisConfig configures a standalone, sentinel or cluster connection.
type RedisConfig struct {
	Addrs      []string
	Username   string
	Password   string
	DB         int
	MasterName string
}

// Validate checks the connection settings.
func (c RedisConfig) Validate() error {
	if len(c.Addrs) == 0 {
		return &ConfigError{Field: "Addrs", Message: "at least one address is required"}
	}
	return nil
}

// Redis stores entries in redis and enumerates them with SCAN.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis connects using a universal client.
func NewRedis(cfg RedisConfig) (*Redis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		Username:   cfg.Username,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MasterName: cfg.MasterName,
	})
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) GetMulti(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range values {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) SetMulti(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for key, v := range entries {
		pipe.Set(ctx, key, v, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (r *Redis) scanKeys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, prefix+"*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func (r *Redis) Scan(ctx context.Context, prefix string) (map[string][]byte, error) {
	keys, err := r.scanKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return r.GetMulti(ctx, keys)
}

func (r *Redis) Flush(ctx context.Context, prefix string) error {
	keys, err := r.scanKeys(ctx, prefix)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		if err := r.Delete(ctx, keys[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }
