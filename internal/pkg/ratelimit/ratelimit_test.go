package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiter_BurstThenReject(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	now := time.UnixMilli(1_700_000_000_000)
	limiter := NewLimiter(rdb, "login", 1, 2)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(context.Background(), "10.0.0.1")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("expected request %d within burst to pass", i)
		}
	}

	d, err := limiter.Allow(context.Background(), "10.0.0.1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed {
		t.Fatalf("expected third request to be rejected")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > time.Second {
		t.Fatalf("unexpected retry after: %v", d.RetryAfter)
	}
}

func TestLimiter_Refills(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	now := time.UnixMilli(1_700_000_000_000)
	limiter := NewLimiter(rdb, "login", 1, 1)
	limiter.now = func() time.Time { return now }

	if d, _ := limiter.Allow(context.Background(), "k"); !d.Allowed {
		t.Fatalf("expected first request to pass")
	}
	if d, _ := limiter.Allow(context.Background(), "k"); d.Allowed {
		t.Fatalf("expected bucket to be empty")
	}

	now = now.Add(1100 * time.Millisecond)
	if d, _ := limiter.Allow(context.Background(), "k"); !d.Allowed {
		t.Fatalf("expected bucket to refill after a second")
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewLimiter(rdb, "register", 1, 1)
	if d, _ := limiter.Allow(context.Background(), "a"); !d.Allowed {
		t.Fatalf("expected a to pass")
	}
	if d, _ := limiter.Allow(context.Background(), "b"); !d.Allowed {
		t.Fatalf("expected b to pass independently of a")
	}
}

func TestLimiter_DisabledAllowsAll(t *testing.T) {
	var nilLimiter *Limiter
	if d, err := nilLimiter.Allow(context.Background(), "k"); err != nil || !d.Allowed {
		t.Fatalf("nil limiter should allow: %v %+v", err, d)
	}
	noRedis := NewLimiter(nil, "login", 1, 1)
	if noRedis.Enabled() {
		t.Fatalf("limiter without redis should be disabled")
	}
	zeroRate := NewLimiter(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "login", 0, 1)
	if d, err := zeroRate.Allow(context.Background(), "k"); err != nil || !d.Allowed {
		t.Fatalf("zero rate should allow: %v %+v", err, d)
	}
}

func TestLimiter_RedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer closeRedis(t, rdb)
	mr.Close()

	limiter := NewLimiter(rdb, "login", 1, 1)
	if _, err := limiter.Allow(context.Background(), "k"); err == nil {
		t.Fatalf("expected error when redis is unavailable")
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func closeRedis(t *testing.T, rdb *redis.Client) {
	t.Helper()
	if err := rdb.Close(); err != nil {
		t.Fatalf("close redis: %v", err)
	}
}
