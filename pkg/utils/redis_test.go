package utils

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestConcurrencyScriptsCompile(t *testing.T) {
	if concurrencyAcquireScript == nil || concurrencyReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireConcurrencyCap_ValidatesArgs(t *testing.T) {
	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	cases := []struct {
		name  string
		rdb   *redis.Client
		key   string
		limit int
		ttl   time.Duration
	}{
		{"nil client", nil, "k", 1, time.Second},
		{"empty key", rdb, "", 1, time.Second},
		{"zero limit", rdb, "k", 0, time.Second},
		{"zero ttl", rdb, "k", 1, 0},
	}
	for _, tc := range cases {
		if _, err := AcquireConcurrencyCap(ctx, tc.rdb, tc.key, tc.limit, tc.ttl); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
	if err := ReleaseConcurrencyCap(ctx, nil, "k"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{Addr: "x:1"}.withDefaults()
	if c.PoolSize != 20 || c.PingTimeout != 2*time.Second || c.DB != 0 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error")
	}
}
