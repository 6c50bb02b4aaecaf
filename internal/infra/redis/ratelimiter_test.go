package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisRateLimiterAllowWindow(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_000, 0)
	limiter, err := newRedisRateLimiter(rdb, 2, "test", func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "email")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "email")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected by rate limit")
	}

	allowed, err = limiter.Allow(ctx, "webhook")
	if err != nil {
		t.Fatalf("Allow(webhook) error = %v", err)
	}
	if !allowed {
		t.Fatal("separate channel should keep its own budget")
	}

	now = now.Add(time.Second)
	allowed, err = limiter.Allow(ctx, "email")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Fatal("new second window should allow call")
	}
}

func TestRedisRateLimiterWindowKeyExpires(t *testing.T) {
	t.Parallel()

	rdb, mr := newTestRedisClient(t)

	now := time.Unix(1_700_000_050, 0)
	limiter, err := newRedisRateLimiter(rdb, 5, "test", func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if _, err := limiter.Allow(context.Background(), "Email"); err != nil {
		t.Fatalf("Allow() error = %v", err)
	}

	key := "test:email:1700000050"
	if !mr.Exists(key) {
		t.Fatalf("expected window key %s to exist, keys = %v", key, mr.Keys())
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Second {
		t.Fatalf("window key ttl = %v, want (0, 1s]", ttl)
	}
}

func TestRedisRateLimiterWaitSleepsUntilNextWindow(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_200, 0).Add(990 * time.Millisecond)
	var slept []time.Duration
	limiter, err := newRedisRateLimiter(
		rdb,
		1,
		"test",
		func() time.Time { return now },
		func(ctx context.Context, d time.Duration) error {
			slept = append(slept, d)
			now = now.Add(d)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "email"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := limiter.Wait(context.Background(), "email"); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("sleep calls = %d, want 1", len(slept))
	}
	if slept[0] != 10*time.Millisecond {
		t.Fatalf("slept %v, want 10ms until the next window", slept[0])
	}
}

func TestRedisRateLimiterWaitContextDeadline(t *testing.T) {
	t.Parallel()

	rdb, _ := newTestRedisClient(t)

	now := time.Unix(1_700_000_300, 0)
	limiter, err := newRedisRateLimiter(rdb, 1, "test", func() time.Time { return now }, sleepWithContext)
	if err != nil {
		t.Fatalf("newRedisRateLimiter() error = %v", err)
	}

	if err := limiter.Wait(context.Background(), "email"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	err = limiter.Wait(ctx, "email")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestNewRedisRateLimiterRequiresClient(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisRateLimiter(nil, 10); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func newTestRedisClient(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb, mr
}
