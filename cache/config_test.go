package cache

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Backend != BackendMemory {
		t.Errorf("expected memory backend, got %s", cfg.Backend)
	}
	if cfg.TTL != 5*time.Minute {
		t.Errorf("expected TTL to be 5 minutes, got %v", cfg.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"unknown backend", Config{Backend: "disk", Prefix: "app"}, "backend"},
		{"unknown codec", Config{Backend: BackendMemory, Prefix: "app", Codec: "xml"}, "codec"},
		{"negative ttl", Config{Backend: BackendMemory, Prefix: "app", TTL: -time.Second}, "ttl"},
		{"redis without addrs", Config{Backend: BackendRedis, Prefix: "app"}, "redis"},
		{"memcache without servers", Config{Backend: BackendMemcache, Prefix: "app"}, "memcache"},
		{"missing prefix", Config{Backend: BackendMemory}, "prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("expected field %s, got %s (%s)", tt.field, cfgErr.Field, cfgErr.Message)
			}
		})
	}

	if err := (Config{Backend: BackendNone}).Validate(); err != nil {
		t.Errorf("disabled cache should validate, got %v", err)
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{Backend: BackendMemory}.WithDefaults()
	if cfg.Prefix != DefaultPrefix || cfg.Codec != CodecJSON || cfg.TTL == 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.Memory.Capacity == 0 || cfg.Memory.NumShards == 0 || cfg.Memory.EvictionPercentage == 0 {
		t.Errorf("memory defaults not applied: %+v", cfg.Memory)
	}

	redis := Config{Backend: BackendRedis}.WithDefaults()
	if redis.TTL != 0 {
		t.Errorf("redis entries should not expire by default, got %v", redis.TTL)
	}
}
