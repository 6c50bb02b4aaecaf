package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-service/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	defaultKeyPrefix         = "notification:ratelimit"
	minWait                  = 5 * time.Millisecond
	maxWait                  = 50 * time.Millisecond
	windowSeconds            = 1
)

// allowScript counts a hit in the current one-second window and reports whether it fits the limit.
var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter shares a per-second delivery budget across every instance of the service.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	keyPrefix   string
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), defaultKeyPrefix, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limitPerSec int64,
	keyPrefix string,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		limitPerSec: limitPerSec,
		keyPrefix:   keyPrefix,
		now:         nowFn,
		sleep:       sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, channel string) (bool, error) {
	if r == nil || r.client == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	key := ratelimit.NormalizeChannel(channel)
	if key == "" {
		return false, fmt.Errorf("channel is required")
	}

	windowKey := fmt.Sprintf("%s:%s:%d", r.keyPrefix, key, r.now().UTC().Unix())
	result, err := allowScript.Run(ctx, r.client, []string{windowKey}, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

// Wait blocks until the channel has budget in the current window or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, channel string) error {
	for {
		allowed, err := r.Allow(ctx, channel)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, r.untilNextWindow()); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) untilNextWindow() time.Duration {
	now := r.now()
	d := now.Truncate(time.Second).Add(time.Second).Sub(now)
	if d < minWait {
		return minWait
	}
	if d > maxWait {
		return maxWait
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
