package cacheinfra

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r, err := NewRedis(RedisConfig{Addrs: []string{mr.Addr()}})
	if err != nil {
		t.Fatalf("NewRedis: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedis_Contract(t *testing.T) {
	r, _ := newTestRedis(t)
	exerciseStore(t, r)
}

func TestRedis_TTL(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	if err := r.SetMulti(ctx, map[string][]byte{"app::k": []byte("1")}, time.Minute); err != nil {
		t.Fatalf("SetMulti: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	got, err := r.GetMulti(ctx, []string{"app::k"})
	if err != nil {
		t.Fatalf("GetMulti: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected entry to expire, got %v", got)
	}
}

func TestRedis_RequiresAddress(t *testing.T) {
	if _, err := NewRedis(RedisConfig{}); err == nil {
		t.Error("expected an error without addresses")
	}
}
