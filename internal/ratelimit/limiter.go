package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles outbound deliveries per delivery channel.
type RateLimiter interface {
	Allow(ctx context.Context, channel string) (bool, error)
	Wait(ctx context.Context, channel string) error
}

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is an in-process token bucket per channel, used when no Redis is configured.
type LocalRateLimiter struct {
	limitPerSec int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLocalRateLimiter(limitPerSec int) *LocalRateLimiter {
	if limitPerSec <= 0 {
		limitPerSec = 100
	}
	return &LocalRateLimiter{
		limitPerSec: limitPerSec,
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, channel string) (bool, error) {
	limiter, err := l.limiterFor(channel)
	if err != nil {
		return false, err
	}
	return limiter.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, channel string) error {
	limiter, err := l.limiterFor(channel)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

func (l *LocalRateLimiter) limiterFor(channel string) (*rate.Limiter, error) {
	key := NormalizeChannel(channel)
	if key == "" {
		return nil, fmt.Errorf("channel is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(l.limitPerSec), l.limitPerSec)
		l.limiters[key] = limiter
	}
	return limiter, nil
}

func NormalizeChannel(channel string) string {
	return strings.ToLower(strings.TrimSpace(channel))
}
